package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"epichat-be/internal/bootstrap"
	"epichat-be/internal/config"
	"epichat-be/internal/server"
	"epichat-be/internal/tracer"

	pktNats "epichat-be/pkg/nats"
	"epichat-be/pkg/sandbox"

	"golang.org/x/sync/errgroup"
)

const auditDurable = "epichat-audit"

func main() {
	// Analysis programs run in a re-executed copy of this binary
	sandbox.ServeWorkerIfRequested()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Tracer (no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set)
	shutdownTracer := tracer.InitTracer(cfg.App.OtlpEndpoint)
	defer shutdownTracer(context.Background())

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("[FATAL] Failed to bootstrap: %v", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	// 4. Run the server and background services until a signal or the first failure
	srv := server.New(cfg, container)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return container.WebSocketHub.Run(gctx) })
	g.Go(func() error { return container.Sweeper.Run(gctx) })
	g.Go(func() error {
		if container.NatsSubscriber != nil {
			log.Println("Background: Starting NATS audit consumer...")
			return container.NatsSubscriber.Subscribe(gctx, pktNats.Subject(">"), auditDurable, container.ConsumerService.Handle)
		}
		log.Println("Background: Starting Consumer Service...")
		return container.ConsumerService.Consume(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Exited with error: %v", err)
	}
}

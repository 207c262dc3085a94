package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"epichat-be/internal/config"
	"epichat-be/internal/controller"
	"epichat-be/internal/handler"
	"epichat-be/internal/pkg/logger"
	"epichat-be/internal/pkg/serverutils"
	"epichat-be/internal/service"
	"epichat-be/internal/websocket"
	"epichat-be/pkg/capability"
	"epichat-be/pkg/dataset"
	"epichat-be/pkg/dispatch"
	"epichat-be/pkg/engine"
	"epichat-be/pkg/events"
	"epichat-be/pkg/intent"
	"epichat-be/pkg/llm/factory"
	"epichat-be/pkg/metrics"
	"epichat-be/pkg/sandbox"
	"epichat-be/pkg/store"
	"epichat-be/pkg/workflow"
	"epichat-be/pkg/workflow/transition"

	pktNats "epichat-be/pkg/nats"

	"github.com/gofiber/fiber/v2"
)

type Container struct {
	Config   *config.Config
	Logger   logger.ILogger
	Backend  store.Backend
	Engine   *engine.Engine
	Recorder *metrics.PrometheusRecorder

	// Controllers
	ChatController    controller.IChatController
	CatalogController controller.ICatalogController
	LogController     controller.ILogController
	SystemController  controller.ISystemController
	AuthMiddleware    fiber.Handler

	// Background Services (Exposed for main.go to run)
	Sweeper         *engine.Sweeper
	ConsumerService service.IConsumerService
	// NatsSubscriber replaces the local bus as the consumer's source when NATS is set
	NatsSubscriber *pktNats.Subscriber

	// WebSockets
	ChatSocketHandler *handler.ChatSocketHandler
	WebSocketHub      *websocket.Hub

	closers []func() error
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}
	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg := c.Config

	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	c.Logger = sysLogger
	c.onClose(syncer(sysLogger))
	c.Recorder = metrics.NewPrometheusRecorder()

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	c.Backend = backend
	c.onClose(backend.Close)
	log.Printf("[INFO] Using session backend: %s", backend.Name())

	limits := store.Limits{History: cfg.Session.HistoryLimit, Facts: cfg.Session.FactLimit}

	// 2. Domain registries
	workflows, err := loadWorkflows(cfg.Engine.WorkflowsFile)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	catalog, err := dataset.NewCSVCatalog(cfg.Data.Dir, cfg.Data.SchemaCache, cfg.Data.MaxFrameRows)
	if err != nil {
		return err
	}

	// Initialize LLM Provider based on Config
	llmProvider, err := factory.NewLLMProvider(factory.Config{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  cfg.Ai.OllamaBaseURL,
		APIKey:   cfg.Ai.APIKey(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	if llmProvider == nil {
		log.Printf("[WARN] No LLM provider configured, classification uses heuristics only")
	} else {
		log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)
	}

	manager := transition.NewManager(workflows, nil, limits, sysLogger)

	capabilities := capability.NewRegistry()
	if err := capability.RegisterBuiltins(capabilities, workflows, manager, catalog); err != nil {
		return err
	}
	capabilities.SetFallback(sandbox.NewTool(sandbox.DefaultPolicy(), llmProvider, catalog, sandbox.Config{
		Timeout:   cfg.Engine.ExecTimeout,
		Overhead:  cfg.Engine.ExecOverhead,
		Attempts:  cfg.Engine.ExecAttempts,
		MaxOutput: cfg.Engine.MaxOutputBytes,
		MaxMemory: uint64(cfg.Engine.ExecMaxMemoryMB) << 20,
	}, c.Recorder, sysLogger))

	digester, err := intent.NewDigester(cfg.Engine.ContextTokenBudget)
	if err != nil {
		return err
	}

	classifier := intent.NewClassifier(llmProvider, intent.Options{
		Timeout:   cfg.Engine.ClassifierTimeout,
		Digester:  digester,
		Recorder:  c.Recorder,
		Logger:    sysLogger,
		Workflows: workflows.Mentioned,
	})
	dispatcher := dispatch.NewDispatcher(capabilities, workflows, manager, dispatch.Config{
		Threshold: cfg.Engine.ConfidenceThreshold,
		Limits:    limits,
	}, c.Recorder, sysLogger)

	// 3. Event Bus
	// NATS (optional): carries events across instances; otherwise the in-process bus
	bus := events.NewLocalBus()
	c.onClose(bus.Close)

	var natsPub *pktNats.Publisher
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
			natsPub = nil
		} else {
			c.onClose(func() error { natsPub.Close(); return nil })
		}
		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			c.NatsSubscriber = natsSub
			c.onClose(func() error { natsSub.Close(); return nil })
		}
	}

	// WebSocket Hub (Redis fan-out when REDIS_URL is set)
	hubLogger := logger.NewIsolatedLogger(cfg.App.HubLogFilePath)
	c.onClose(syncer(hubLogger))
	var hub *websocket.Hub
	if cfg.App.RedisURL != "" {
		rdb, err := NewRedisClient(ctx, cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] WebSocket hub stays local: %v", err)
			hub = websocket.NewHub(nil, hubLogger)
		} else {
			c.onClose(rdb.Close)
			hub = websocket.NewHub(rdb, hubLogger)
		}
	} else {
		hub = websocket.NewHub(nil, hubLogger)
	}
	c.WebSocketHub = hub

	publishers := events.Fanout{hub}
	if natsPub != nil {
		publishers = append(publishers, natsPub)
	}
	if c.NatsSubscriber == nil {
		publishers = append(publishers, bus)
	}

	// 4. Engine
	e, err := engine.New(engine.Deps{
		Backend:      backend,
		Classifier:   classifier,
		Dispatcher:   dispatcher,
		Workflows:    workflows,
		Capabilities: capabilities,
		Manager:      manager,
		Catalog:      catalog,
		Digester:     digester,
		Publisher:    publishers,
		Recorder:     c.Recorder,
		Logger:       sysLogger,
	}, engine.Config{
		Limits:         limits,
		LockWait:       cfg.Session.LockWait,
		RequestTimeout: cfg.Engine.RequestTimeout,
	})
	if err != nil {
		return err
	}
	c.Engine = e
	c.Sweeper = engine.NewSweeper(backend, cfg.Session.TTL, cfg.Session.SweepInterval, sysLogger)
	c.ConsumerService = service.NewConsumerService(bus, c.Recorder, sysLogger)

	// 5. Services and Controllers
	chatService := service.NewChatService(e, workflows, capabilities)
	logService := service.NewLogService(sysLogger)

	c.AuthMiddleware = serverutils.Passthrough
	secret := ""
	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			return errors.New("AUTH_ENABLED requires JWT_SECRET")
		}
		secret = cfg.Auth.JWTSecret
		c.AuthMiddleware = serverutils.JwtMiddleware(secret)
	}

	c.ChatController = controller.NewChatController(chatService)
	c.CatalogController = controller.NewCatalogController(chatService)
	c.LogController = controller.NewLogController(logService)
	c.SystemController = controller.NewSystemController(backend, c.Recorder.Handler())
	c.ChatSocketHandler = handler.NewChatSocketHandler(chatService, hub, secret, hubLogger)
	return nil
}

func loadWorkflows(path string) (*workflow.Registry, error) {
	if path == "" {
		return workflow.Builtin()
	}
	log.Printf("[INFO] Loading workflows from %s", path)
	return workflow.LoadFile(path)
}

// syncer flushes a logger on shutdown. Sync on a console sink fails on most terminals,
// so the error is dropped.
func syncer(l logger.ILogger) func() error {
	return func() error {
		_ = l.Sync()
		return nil
	}
}

func (c *Container) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

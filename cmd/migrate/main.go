package main

import (
	"context"
	"log"

	"epichat-be/internal/bootstrap"
	"epichat-be/internal/config"
)

// migrate creates the session_states table for the configured SQL backend. The server
// runs the same migration on start; this command lets a deploy do it ahead of time.
func main() {
	// 1. Load Environment Variables
	cfg := config.Load()

	switch cfg.Session.Backend {
	case "postgres", "sqlite":
	default:
		log.Printf("Info: session backend %q has no schema, nothing to migrate", cfg.Session.Backend)
		return
	}

	// 2. Connect and migrate through the backend constructor
	log.Printf("Starting session_states migration (%s)...", cfg.Session.Backend)
	backend, err := bootstrap.NewBackend(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Error: migration failed: %v", err)
	}
	defer backend.Close()

	log.Println("✅ Success: session_states migration completed.")
}

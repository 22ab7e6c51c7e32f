package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caligo-app/caligo/internal/audit"
	auditpostgres "github.com/caligo-app/caligo/internal/audit/postgres"
	auditsqlite "github.com/caligo-app/caligo/internal/audit/sqlite"
	"github.com/caligo-app/caligo/internal/config"
	"github.com/caligo-app/caligo/internal/detect"
	"github.com/caligo-app/caligo/internal/export"
	"github.com/caligo-app/caligo/internal/jobs"
	"github.com/caligo-app/caligo/internal/server"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/web/handlers"
)

func main() {
	cfg := config.LoadConfig()

	store, err := openAuditStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer store.Close()

	detectors, nerHealth, stopWatch, err := buildDetectors(cfg)
	if err != nil {
		log.Fatalf("Failed to build detectors: %v", err)
	}
	if stopWatch != nil {
		defer stopWatch()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := session.NewManager(cfg.Session.TTL, cfg.Session.CleanupInterval)
	sessions.Start(ctx)
	defer sessions.Stop()

	hub := handlers.NewWebSocketHub([]string{"localhost:*", "127.0.0.1:*"})
	go hub.Run()

	runner := jobs.NewRunner(sessions, detectors, cfg.Jobs.Workers,
		jobs.WithProgressFunc(hub.JobProgress()),
		jobs.WithZombieTimeout(cfg.Jobs.ZombieTimeout))
	defer runner.Stop()

	deps := server.Deps{
		Sessions:  sessions,
		Runner:    runner,
		Exporter:  export.NewCoordinator(store),
		Audit:     store,
		Hub:       hub,
		NERHealth: nerHealth,
	}
	if _, err := server.Start(ctx, cfg, deps); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")
	cancel()
}

func openAuditStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.Audit.Engine {
	case "postgres":
		return auditpostgres.New(cfg.Audit.PostgresDSN)
	case "none":
		return audit.NopStore{}, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return auditsqlite.New(cfg.Audit.SQLitePath)
	}
}

func buildDetectors(cfg *config.Config) ([]detect.Detector, func(context.Context) error, func(), error) {
	rules := detect.DefaultRules()
	if cfg.Detect.RulesPath != "" {
		loaded, err := detect.LoadRules(cfg.Detect.RulesPath)
		if err != nil {
			return nil, nil, nil, err
		}
		rules = loaded
	}

	pattern, err := detect.NewPatternDetector(rules)
	if err != nil {
		return nil, nil, nil, err
	}

	var stopWatch func()
	if cfg.Detect.RulesPath != "" && cfg.Detect.WatchRules {
		stopWatch, err = detect.WatchRules(cfg.Detect.RulesPath, pattern)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	detectors := []detect.Detector{pattern}
	var nerHealth func(context.Context) error
	if cfg.Detect.NERURL != "" {
		model, err := detect.NewModelDetector(detect.ModelConfig{
			BaseURL:     cfg.Detect.NERURL,
			Timeout:     cfg.Detect.NERTimeout,
			CacheSize:   cfg.Detect.NERCacheSize,
			MaxFailures: uint32(cfg.Detect.NERMaxFailure),
		})
		if err != nil {
			return nil, nil, stopWatch, err
		}
		detectors = append(detectors, model)
		nerHealth = model.Healthy
	}

	return detectors, nerHealth, stopWatch, nil
}

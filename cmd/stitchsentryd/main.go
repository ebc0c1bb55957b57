package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"stitchsentry/internal/api"
	"stitchsentry/internal/catalog"
	"stitchsentry/internal/config"
	"stitchsentry/internal/daemon"
	"stitchsentry/internal/events"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/parser"
	"stitchsentry/internal/pipeline"
	"stitchsentry/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "stitchsentryd.log")},
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	plans, err := catalog.LoadPlans(cfg.Catalog.PlansPath)
	if err != nil {
		log.Fatalf("load plan catalog: %v", err)
	}
	presets, err := catalog.LoadPresets(cfg.Catalog.PresetsPath)
	if err != nil {
		log.Fatalf("load preset catalog: %v", err)
	}

	publisher := events.NewPublisher(cfg.Events.NatsURL, cfg.Events.SubjectPrefix, logger)
	gateway := parser.NewGateway(cfg.Parser, logger)
	manager := pipeline.NewManager(cfg, st, plans, presets, gateway, publisher, logger)

	handler := api.NewHandler(cfg, st, plans, presets, manager, logger)
	server := api.NewServer(cfg.Paths.APIBind, handler, logger)

	d, err := daemon.New(cfg, st, logger, manager, server, publisher)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("stitchsentryd shutting down")
}

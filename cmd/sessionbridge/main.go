// Command sessionbridge serves the interactive half of the browser
// bridge: live-viewable browser sessions convertible into persisted
// profiles, and profile archive retrieval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"browserbridge/internal/adapter/browser"
	"browserbridge/internal/api"
	"browserbridge/internal/infra/config"
	"browserbridge/internal/infra/logger"
	"browserbridge/internal/infra/tracer"
	"browserbridge/internal/profile"
	"browserbridge/internal/registry"
	"browserbridge/internal/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	backend, err := browser.New(browser.Config{
		Backend:      cfg.Browser.Backend,
		Headless:     cfg.Browser.Headless,
		RemoteURL:    cfg.Browser.RemoteURL,
		NavTimeout:   cfg.Browser.NavTimeout,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
	}, log)
	if err != nil {
		return err
	}

	runs, err := registry.NewStore(filepath.Join(cfg.Storage.DataDir, "runs"), log)
	if err != nil {
		return err
	}
	profiles, err := profile.NewStore(filepath.Join(cfg.Storage.DataDir, "profiles"), log)
	if err != nil {
		return err
	}

	r := runner.New(backend, runs, cfg.Browser.SettleDelay, cfg.Browser.StartURL, log)

	srv := api.NewServer(cfg.Server, api.Deps{
		Runs:     runs,
		Profiles: profiles,
		Runner:   r,
		Logger:   log,
	})
	srv.RegisterSessionRoutes()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("session bridge ready",
		"addr", srv.BoundAddr(),
		"backend", backend.Name(),
		"auth", cfg.Server.AuthToken != "")
	if cfg.Server.AuthToken == "" {
		log.Warn("no auth token configured; all endpoints are open")
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

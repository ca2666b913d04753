package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"sizeseg/internal/backend"
	"sizeseg/internal/cli"
	"sizeseg/internal/config"
	"sizeseg/internal/core"
	apphttp "sizeseg/internal/http"
	applog "sizeseg/internal/log"
	"sizeseg/internal/services"
	"sizeseg/internal/table"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).Validate)
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger.WithComponent(applog.ComponentStorage).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if be.Cleanup != nil {
		defer func() {
			if err := be.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", "error", err)
			}
		}()
	}

	store, err := table.New(core.DefaultColumns)
	if err != nil {
		logger.Error("Failed to create table", "error", err)
		os.Exit(1)
	}

	var publisher services.Publisher
	if be.Publisher != nil {
		publisher = be.Publisher
	}
	saver := services.NewSaveService(store, be.Sink, publisher)

	srv := apphttp.NewServer(":"+cfg.Port, store, saver, apphttp.Options{
		Logger:         logger.WithComponent(applog.ComponentHTTP),
		Snapshots:      be.Sink,
		MaxUploadBytes: cfg.MaxUploadBytes,
		ViewCacheSize:  cfg.ViewCacheSize,
		ViewCacheTTL:   cfg.ViewCacheTTL,
	})
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting sizeseg server",
			applog.FieldOperation, applog.OpStartup,
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"amqp_enabled", be.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		logger.Info("Shutting down server", applog.FieldOperation, applog.OpShutdown)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

// Package main initializes and starts the drivelock biometric access
// server, setting up configuration, logging, the encrypted vault,
// the access ledger, the face-embedding client, and HTTP handlers.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mkhumalo/drivelock/internal/config"
	"github.com/mkhumalo/drivelock/internal/extractor"
	"github.com/mkhumalo/drivelock/internal/gps"
	"github.com/mkhumalo/drivelock/internal/ledger"
	"github.com/mkhumalo/drivelock/internal/logger"
	"github.com/mkhumalo/drivelock/internal/metrics"
	"github.com/mkhumalo/drivelock/internal/server/handler/http"
	"github.com/mkhumalo/drivelock/internal/service"
	"github.com/mkhumalo/drivelock/internal/storage"
	"github.com/mkhumalo/drivelock/internal/vaultcrypto"
)

// shutdownGrace bounds how long in-flight requests may finish after a
// termination signal.
const shutdownGrace = 10 * time.Second

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Derive the vault cipher from the deployment secret.
	cipher, err := vaultcrypto.New(options.VaultKey)
	if err != nil {
		zapLogger.Fatal("cannot init vault cipher", zap.Error(err))
	}

	// Open the encrypted stores and seed first-boot defaults.
	vault, err := storage.NewVault(options.DataDir, cipher)
	if err != nil {
		zapLogger.Fatal("cannot open vault", zap.Error(err))
	}
	if err := vault.Initialize(options.DefaultPIN, options.DefaultManagerKey); err != nil {
		zapLogger.Fatal("cannot initialize vault", zap.Error(err))
	}
	templates, err := storage.NewTemplateStore(options.DataDir, cipher)
	if err != nil {
		zapLogger.Fatal("cannot open template store", zap.Error(err))
	}

	// Open the append-only access ledger.
	ldg, err := ledger.New(options.DataDir, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot open access ledger", zap.Error(err))
	}

	// Face-embedding sidecar client and the position feed.
	ext := extractor.NewClient(options.ExtractorURL, time.Duration(options.CaptureTimeout))
	tracker := gps.NewTracker(gps.Static{
		Latitude:  options.GPSLatitude,
		Longitude: options.GPSLongitude,
		Address:   options.GPSAddress,
	})

	// Wire the access pipeline.
	orch := service.New(
		vault,
		templates,
		ldg,
		ext,
		tracker,
		metrics.New(),
		zapLogger,
		time.Duration(options.CaptureTimeout),
		time.Duration(options.SessionTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Discard abandoned enrollment batches in the background.
	orch.StartSessionSweeper(ctx, time.Minute)

	// Create HTTP handlers for the access and admin endpoints.
	accessHandler := &http.AccessHandler{Service: orch, Log: zapLogger}
	adminHandler := &http.AdminHandler{Service: orch, Log: zapLogger}

	// Build the router with middleware and routes.
	router := http.NewRouter(accessHandler, adminHandler, zapLogger)

	server := &nethttp.Server{
		Addr:    options.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLogger.Info("server starting", zap.String("addr", options.Addr))
		if err := server.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
	zapLogger.Info("server stopped cleanly")
}

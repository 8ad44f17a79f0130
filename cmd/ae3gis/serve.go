package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/api"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/config"
	"github.com/TollanBerhanu/ae3gis-gns3-api/internal/datastore"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().String("listen-addr", ":8000", "address to listen on")
	cmd.Flags().String("database", "./data/ae3gis.db", "sqlite database path")
	cmd.Flags().String("node-config", "", "generated node config path")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	logger := a.logger
	settings := a.settings

	db, err := config.OpenDatabase(settings.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ds := datastore.New(db)
	defer ds.Close()

	service := api.NewAPI(settings, ds, logger)

	// Collector setup and scenario runs resolve template and project IDs
	// through the registry cache, so it is built before accepting traffic.
	warmCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	reg, err := service.RefreshTemplates(warmCtx)
	cancel()
	if err != nil {
		logger.Error("template cache warm failed", zap.Error(err))
		return fmt.Errorf("warming template cache: %w", err)
	}
	logger.Info("template cache warmed",
		zap.Int("templates", len(reg.Templates)),
		zap.Int("projects", len(reg.Projects)))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	service.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("listening", zap.String("addr", settings.ListenAddr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

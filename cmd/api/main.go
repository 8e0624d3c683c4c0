package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/statement-categorizer/internal/api/handlers"
	"github.com/dvloznov/statement-categorizer/internal/app"
	"github.com/dvloznov/statement-categorizer/internal/config"
	"github.com/dvloznov/statement-categorizer/internal/gcs"
	"github.com/dvloznov/statement-categorizer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-categorizer/internal/logger"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "statement-api",
		Short:         "HTTP service that extracts and categorizes statement transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./statement.yaml)")
	cmd.Flags().String("port", "8080", "HTTP server port")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "console", "log format (console, json)")

	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("logging.level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", cmd.Flags().Lookup("log-format"))

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing pipeline: %w", err)
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.Buffer, cfg.Jobs.Workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, statementJobHandler(a.Pipeline, log)); err != nil {
		return fmt.Errorf("starting job worker: %w", err)
	}
	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Job workers started")

	var archive gcs.StorageService
	if a.Storage != nil {
		archive = a.Storage
	}
	statementsHandler := handlers.NewStatementsHandler(a.Pipeline, jobQueue, archive, handlers.StatementsOptions{
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		ArchiveBucket:  cfg.GCS.ArchiveBucket,
	}, log)
	tokensHandler := handlers.NewTokensHandler(a.Gemini, cfg.Tokens.Limit, cfg.Server.MaxUploadMB<<20, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(statementsHandler, tokensHandler, jobsHandler, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("API server: %w", err)
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-flight jobs still deliver their callbacks.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := a.Pipeline.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending override writes abandoned")
	}
	if err := statementsHandler.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending archive uploads abandoned")
	}

	log.Info().Msg("Server exited")
	return nil
}

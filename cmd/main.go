package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reportd/internal/bootstrap"
	"reportd/internal/config"
	"reportd/internal/models"
	"reportd/internal/repository"
	"reportd/internal/router"
)

var rootCmd = &cobra.Command{
	Use:   "reportd",
	Short: "reportd - scheduled PDF reports",
	Long: `reportd schedules, queues and generates periodic PDF reports from a
search backend and sends them by mail.

Available commands:
  serve         - Start the API, the queue workers and the sweep scheduler
  sweep         - Enqueue (or run with --inline) one sweep now
  bootstrap-db  - Migrate the schema and seed defaults`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API, the queue workers and the sweep scheduler",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Enqueue one sweep job now",
	RunE:  runSweep,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-db",
	Short: "Migrate the schema, seed defaults and optionally load institutions",
	RunE:  runDBBootstrap,
}

func init() {
	sweepCmd.Flags().Bool("inline", false, "run the sweep in this process instead of enqueuing it")
	bootstrapCmd.Flags().String("institutions", "", "JSON file with a list of institutions to upsert")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// --- Logger ---
	logger, err := newLogger(cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}

	// --- Workers ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.queues.Start(ctx); err != nil {
		return err
	}

	// --- Cron Scheduler ---
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, a.db, a.deps, logger, cfg.API.Key)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting reportd server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	<-a.scheduler.Stop().Done()

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop workers; active jobs finish first.
	cancel()
	a.queues.Wait()

	logger.Info("Server exited")
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return err
	}

	inline, _ := cmd.Flags().GetBool("inline")
	if inline {
		return a.sweeper.Run(cmd.Context(), nil)
	}
	if job := a.scheduler.TriggerSweep(cmd.Context(), "cli"); job == nil {
		return fmt.Errorf("failed to enqueue sweep")
	}
	return nil
}

func runDBBootstrap(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	dbCfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(dbCfg)
	if err != nil {
		return err
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		logger.Error("Database bootstrap failed", zap.Error(err))
		return err
	}
	logger.Info("Schema migration and default seed completed")

	path, _ := cmd.Flags().GetString("institutions")
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []models.Institution
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("invalid institutions file: %w", err)
	}
	repo := repository.NewInstitutionRepository(db)
	for i := range list {
		if err := repo.Upsert(&list[i]); err != nil {
			return fmt.Errorf("institution %s: %w", list[i].ID, err)
		}
	}
	logger.Info("Institutions loaded", zap.Int("count", len(list)))
	return nil
}

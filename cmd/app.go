package main

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"reportd/internal/bootstrap"
	"reportd/internal/config"
	cronpkg "reportd/internal/cron"
	"reportd/internal/fetcher"
	"reportd/internal/generation"
	"reportd/internal/handler/api"
	"reportd/internal/lock"
	"reportd/internal/mail"
	"reportd/internal/pkg/telegram"
	"reportd/internal/queue"
	"reportd/internal/report"
	"reportd/internal/repository"
	"reportd/internal/template"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	deps      *api.Deps
	queues    *queue.Manager
	sweeper   *cronpkg.Sweeper
	scheduler *cronpkg.Scheduler
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("failed to bootstrap database schema: %w", err)
	}

	tasks := repository.NewTaskRepository(db)
	institutions := repository.NewInstitutionRepository(db)
	jobs := repository.NewQueueJobRepository(db)

	registry, err := template.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	// --- Queues ---
	base := queue.Options{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Backoff:      cfg.Queue.Backoff,
		PollInterval: cfg.Queue.PollInterval,
		StallTimeout: cfg.Queue.StallTimeout,
	}
	genOpts, mailOpts, cronOpts := base, base, base
	genOpts.Concurrency = cfg.Queue.GenerationConcurrency
	mailOpts.Concurrency = cfg.Queue.MailConcurrency
	cronOpts.Concurrency = 1
	cronOpts.MaxAttempts = 1

	genQueue := queue.New(queue.Generation, jobs, genOpts, logger.Named("generation"))
	mailQueue := queue.New(queue.Mail, jobs, mailOpts, logger.Named("mail"))
	cronQueue := queue.New(queue.Cron, jobs, cronOpts, logger.Named("cron"))
	manager := queue.NewManager(genQueue, mailQueue, cronQueue)

	// --- Task lock (Redis with in-memory fallback) ---
	locker, lockErr := lock.NewTaskLocker(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, cfg.Cron.TaskLockTTL)
	if lockErr != nil {
		logger.Warn("Redis unavailable for task locks, using in-memory fallback", zap.Error(lockErr))
	}

	// --- Generation ---
	compositor := report.NewCompositor(
		report.DefaultGeometry(),
		report.Grid{Cols: cfg.Report.Cols, Rows: cfg.Report.Rows},
		cfg.Report.Locale,
		logger.Named("report"),
	)
	generator := generation.NewGenerator(
		tasks,
		institutions,
		registry,
		fetcher.NewSearchFetcher(cfg.Fetch, logger.Named("fetcher")),
		compositor,
		cfg.Report.Dir,
		logger.Named("generation"),
	)
	processor := generation.NewProcessor(generator, locker, manager, logger.Named("generation"))
	if err := genQueue.Process(processor.Process); err != nil {
		return nil, err
	}
	genQueue.OnFailed(processor.OnFailed)

	// --- Mail ---
	dispatcher := mail.NewDispatcher(
		mail.NewSender(cfg.Mail.SendGridAPIKey, cfg.Mail.From, logger.Named("mail")),
		telegram.NewBotAPI(cfg.Telegram.Token),
		cfg.Telegram.ChatID,
		cfg.Mail.AlertRecipients,
		logger.Named("mail"),
	)
	if err := mailQueue.Process(dispatcher.Process); err != nil {
		return nil, err
	}

	// --- Sweep ---
	sweeper := cronpkg.NewSweeper(tasks, manager, cfg.Cron.CatchUp, logger.Named("sweep"))
	if err := cronQueue.Process(sweeper.Process); err != nil {
		return nil, err
	}
	scheduler, err := cronpkg.New(cfg.Cron, manager, logger.Named("cron"))
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg,
		db:  db,
		deps: &api.Deps{
			Tasks:        tasks,
			Institutions: institutions,
			Templates:    registry,
			Queues:       manager,
		},
		queues:    manager,
		sweeper:   sweeper,
		scheduler: scheduler,
	}, nil
}

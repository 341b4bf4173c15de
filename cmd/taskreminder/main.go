package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"task-reminder/internal/bot"
	"task-reminder/internal/config"
	"task-reminder/internal/dedup"
	"task-reminder/internal/httpapi"
	"task-reminder/internal/logger"
	"task-reminder/internal/notify"
	"task-reminder/internal/repository"
	"task-reminder/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	logCfg.FilePath = cfg.LogFile
	lg, logWriter, err := logger.Init(logCfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	log.SetOutput(logWriter)

	if err := run(ctx, cfg, lg, logWriter); err != nil {
		lg.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
	lg.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, lg *slog.Logger, logWriter io.Writer) error {
	db, err := repository.NewDB(cfg.DatabaseURL, logWriter)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	loc := cfg.Location()

	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	exclusionRepo := repository.NewExclusionRepository(db)
	completionRepo := repository.NewCompletionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var guard dedup.Guard = dedup.Noop{}
	if cfg.RedisURL != "" {
		redisGuard, err := dedup.NewRedis(ctx, cfg.RedisURL, cfg.DedupTTL)
		if err != nil {
			return err
		}
		defer redisGuard.Close()
		guard = redisGuard
		lg.Info("notification dedup enabled", "ttl", cfg.DedupTTL.String())
	}

	if cfg.ResendAPIKey == "" {
		lg.Warn("RESEND_API_KEY is not set, email notifications are disabled")
	}
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		lg.Warn("VAPID keys are not set, web push notifications are disabled")
	}

	taskSvc := service.NewTaskService(taskRepo, exclusionRepo, completionRepo)
	occurrenceSvc := service.NewOccurrenceService(taskRepo, exclusionRepo, completionRepo)
	settingsSvc := service.NewSettingsService(userRepo, notificationRepo)
	notificationSvc := service.NewNotificationService(service.NotificationDeps{
		Tasks:         taskRepo,
		Exclusions:    exclusionRepo,
		Notifications: notificationRepo,
		Email:         notify.NewResendSender(cfg.ResendAPIKey, cfg.ResendFrom),
		Push:          notify.NewWebPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject),
		Guard:         guard,
		Concurrency:   cfg.DispatchConcurrency,
		Logger:        lg,
	})

	var telegramBot *bot.Bot
	if cfg.TelegramToken != "" {
		telegramBot, err = bot.New(cfg.TelegramToken, userRepo, taskSvc, occurrenceSvc, loc, lg.With("component", "bot"))
		if err != nil {
			return err
		}
	} else {
		lg.Warn("TELEGRAM_TOKEN is not set, chat bot is disabled")
	}

	scheduler := service.NewSchedulerService(loc)
	if cfg.CronEnabled {
		if _, err := scheduler.ScheduleDispatch(ctx, notificationSvc, cfg.DispatchTimeout, lg.With("component", "scheduler")); err != nil {
			return err
		}
	}
	if telegramBot != nil && cfg.DigestTime != "" {
		if _, err := scheduler.ScheduleDaily(cfg.DigestTime, func() {
			jobCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := telegramBot.SendDailyDigests(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("daily digest", "err", err)
			}
		}); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := httpapi.New(httpapi.Deps{
		Users:           userRepo,
		Tasks:           taskSvc,
		Occurrences:     occurrenceSvc,
		Settings:        settingsSvc,
		Dispatcher:      notificationSvc,
		Location:        loc,
		CronSecret:      cfg.CronSecret,
		Production:      cfg.IsProduction(),
		DispatchTimeout: cfg.DispatchTimeout,
		Logger:          lg.With("component", "http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("http server listening", "address", cfg.HTTPAddress, "cron", cfg.CronEnabled, "timezone", loc.String())
		return app.Listen(cfg.HTTPAddress)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	if telegramBot != nil {
		g.Go(func() error {
			return telegramBot.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

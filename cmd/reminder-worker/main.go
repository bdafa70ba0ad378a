package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("reminder-worker starting up",
		zap.String("env", cfg.Env),
		zap.Int("hours_before", cfg.ReminderHoursBefore),
		zap.Duration("interval", cfg.CheckInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 15*time.Second)
	app, err := bootstrap.New(connectCtx, cfg, log)
	cancelConnect()
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			log.Warn("close dependencies", zap.Error(err))
		}
	}()

	// Run once at startup, then on the interval.
	if _, err := app.Scheduler.TriggerNow(rootCtx); err != nil {
		log.Warn("startup sweep", zap.Error(err))
	}
	if err := app.Scheduler.Start(context.Background()); err != nil {
		log.Fatal("start scheduler", zap.Error(err))
	}

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping reminder worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("stop scheduler", zap.Error(err))
	}
}

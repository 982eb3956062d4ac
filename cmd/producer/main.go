// Package main enqueues the daily snapshot and analytics batch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fund-analytics/internal/app"
	"github.com/fund-analytics/internal/config"
	"github.com/fund-analytics/internal/types"
)

func main() {
	var (
		date = flag.String("date", "", "Trading day to enqueue (YYYY-MM-DD), defaults to the last trading day before today")
		loop = flag.Bool("loop", false, "Keep running and enqueue once a day at PRODUCER_RUN_HOUR (UTC)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.InitLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize producer")
	}
	defer a.Close()

	if !*loop {
		day, err := targetDay(a, *date, time.Now().UTC())
		if err != nil {
			logger.WithError(err).Fatal("Cannot determine the day to enqueue")
		}
		if _, err := a.Producer.EnqueueDaily(ctx, day); err != nil {
			logger.WithError(err).Fatal("Daily enqueue failed")
		}
		return
	}

	for {
		next := nextRun(time.Now().UTC(), cfg.Producer.RunHour)
		logger.WithField("next_run", next.Format(time.RFC3339)).Info("Waiting for the next daily batch")

		select {
		case <-ctx.Done():
			logger.Info("Producer stopped")
			return
		case <-time.After(time.Until(next)):
		}

		day, err := targetDay(a, "", time.Now().UTC())
		if err != nil {
			logger.WithError(err).Error("Cannot determine the day to enqueue")
			continue
		}
		if _, err := a.Producer.EnqueueDaily(ctx, day); err != nil {
			logger.WithError(err).WithField("day", types.FormatDay(day)).Error("Daily enqueue failed")
		}
	}
}

// targetDay resolves the explicit date, or the last trading day before now
func targetDay(a *app.App, raw string, now time.Time) (time.Time, error) {
	if raw != "" {
		day, err := types.ParseDay(raw)
		if err != nil {
			return time.Time{}, err
		}
		if !a.Calendar.IsTradingDay(day) {
			return time.Time{}, fmt.Errorf("%s is not a trading day", raw)
		}
		return day, nil
	}
	day, ok := a.Calendar.Prev(types.Day(now))
	if !ok {
		return time.Time{}, errors.New("no trading day before today in the calendar")
	}
	return day, nil
}

// nextRun returns the next instant at hour:00 UTC strictly after now
func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

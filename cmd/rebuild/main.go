// Package main triggers a full recompute for one holding or a whole user.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fund-analytics/internal/app"
	"github.com/fund-analytics/internal/config"
	"github.com/fund-analytics/internal/logging"
)

func main() {
	var (
		userID    = flag.Int64("user", 0, "User id (required)")
		holdingID = flag.Int64("holding", 0, "Holding id, omit to rebuild every holding of the user")
		inline    = flag.Bool("inline", false, "Recompute in this process instead of enqueueing tasks")
	)
	flag.Parse()

	if *userID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.InitLogging(cfg).WithField("user_id", *userID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	if !*inline {
		if *holdingID > 0 {
			err = a.Producer.EnqueueHoldingRecompute(ctx, *userID, *holdingID)
		} else {
			_, err = a.Producer.EnqueueUserRebuild(ctx, *userID)
		}
		if err != nil {
			logger.WithError(err).Fatal("Failed to enqueue rebuild")
		}
		logger.Info("Rebuild enqueued")
		return
	}

	if err := rebuildInline(ctx, a, *userID, *holdingID); err != nil {
		logger.WithError(err).Fatal("Rebuild failed")
	}
	logger.Info("Rebuild completed")
}

// rebuildInline runs the same steps as the rebuild tasks in dependency order
func rebuildInline(ctx context.Context, a *app.App, userID, holdingID int64) error {
	holdings := []int64{holdingID}
	if holdingID == 0 {
		held, err := a.Holdings.ListUserHoldings(ctx, userID)
		if err != nil {
			return err
		}
		holdings = holdings[:0]
		for _, h := range held {
			holdings = append(holdings, h.HoldingID)
		}
	}

	logger := logging.FromContext(ctx)
	for _, h := range holdings {
		res, err := a.Builder.Rebuild(ctx, userID, h)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"holding_id": h,
			"snapshots":  res.Snapshots,
		}).Info("Holding snapshots rebuilt")
	}

	n, err := a.Aggregator.Rebuild(ctx, userID)
	if err != nil {
		return err
	}
	logger.WithField("snapshots", n).Info("Portfolio snapshots rebuilt")

	for _, h := range holdings {
		if _, err := a.Analytics.RebuildHolding(ctx, userID, h); err != nil {
			return err
		}
	}
	rows, err := a.Analytics.RebuildPortfolio(ctx, userID)
	if err != nil {
		return err
	}
	logger.WithField("portfolio_rows", rows).Info("Analytics rebuilt")
	return nil
}

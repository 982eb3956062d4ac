package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fund-analytics/internal/config"
	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/logging"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/retry"
	"golang.org/x/time/rate"
)

// ConsumerConfig holds the consumer tunables
type ConsumerConfig struct {
	BatchSize       int
	Workers         int
	PollInterval    time.Duration
	Timeout         time.Duration
	DependencyDelay time.Duration
	DispatchRate    float64 // tasks per second, 0 disables limiting
}

// ConsumerConfigFrom maps application configuration onto consumer settings
func ConsumerConfigFrom(c config.TasksConfig) ConsumerConfig {
	return ConsumerConfig{
		BatchSize:       c.BatchSize,
		Workers:         c.Workers,
		PollInterval:    c.PollInterval,
		Timeout:         c.Timeout,
		DependencyDelay: c.DependencyDelay,
		DispatchRate:    c.DispatchRate,
	}
}

// Outcome is the terminal or rescheduled state a run ended in
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRetrying Outcome = "retrying"
	OutcomeFailed   Outcome = "failed"
	OutcomeDeferred Outcome = "deferred"
	OutcomeLost     Outcome = "lost" // claimed by another consumer
)

// Consumer polls the task log and runs due tasks on a bounded worker pool
type Consumer struct {
	store    Store
	registry *Registry
	cfg      ConsumerConfig
	limiter  *rate.Limiter
	sem      chan struct{}
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewConsumer creates a new consumer
func NewConsumer(store Store, registry *Registry, cfg ConsumerConfig) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.DependencyDelay <= 0 {
		cfg.DependencyDelay = 30 * time.Second
	}

	c := &Consumer{
		store:    store,
		registry: registry,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Workers),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.DispatchRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRate), cfg.Workers)
	}
	return c
}

// Start runs the poll loop in the background until Stop or ctx cancellation
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"workers":       c.cfg.Workers,
		"batch_size":    c.cfg.BatchSize,
		"poll_interval": c.cfg.PollInterval.String(),
	}).Info("Starting task consumer")

	go c.pollLoop(ctx)
	return nil
}

// Stop signals the poll loop and waits for in-flight tasks to finish
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is not running")
	}
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	logging.FromContext(ctx).Info("Task consumer stopped")
	return nil
}

func (c *Consumer) pollLoop(ctx context.Context) {
	defer close(c.doneCh)
	logger := logging.FromContext(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			n, err := c.RunOnce(ctx)
			if err != nil {
				logger.WithError(err).Error("Task poll failed")
				continue
			}
			if n > 0 {
				logger.WithField("tasks", n).Debug("Processed task batch")
			}
		}
	}
}

// RunOnce runs one batch of due tasks and waits for them. It returns the
// number of tasks picked up.
func (c *Consumer) RunOnce(ctx context.Context) (int, error) {
	due, err := c.store.ListDue(ctx, c.now(), c.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, t := range due {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(t *models.TaskLog) {
			defer wg.Done()
			defer func() { <-c.sem }()
			if _, err := c.Process(ctx, t); err != nil {
				logging.FromContext(ctx).WithField("task_id", t.ID).WithError(err).Error("Task bookkeeping failed")
			}
		}(t)
	}
	wg.Wait()
	return len(due), nil
}

// Process claims and runs a single task and records how it ended
func (c *Consumer) Process(ctx context.Context, t *models.TaskLog) (Outcome, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id":      t.ID,
		"task":         t.Name,
		"business_key": t.BusinessKey,
	})

	claimed, err := c.store.Claim(ctx, t.ID, t.Status)
	if err != nil {
		return "", err
	}
	if !claimed {
		return OutcomeLost, nil
	}

	// bookkeeping must land even when the consumer is shutting down
	bctx := context.WithoutCancel(ctx)

	if len(t.DependsOn) > 0 {
		deps, err := c.store.Dependencies(ctx, t.DependsOn, t.ID)
		if err != nil {
			logger.WithError(err).Warn("Dependency check failed, deferring task")
			return OutcomeDeferred, c.store.Requeue(bctx, t.ID, c.now().Add(c.cfg.DependencyDelay))
		}
		if deps.Outstanding > 0 {
			logger.WithField("outstanding", deps.Outstanding).Debug("Prerequisites outstanding, deferring task")
			return OutcomeDeferred, c.store.Requeue(bctx, t.ID, c.now().Add(c.cfg.DependencyDelay))
		}
		if deps.Failed > 0 {
			logger.WithField("failed", deps.Failed).Warn("Running task despite failed prerequisites")
		}
	}

	handler, ok := c.registry.Lookup(t.Params.Name())
	if !ok {
		msg := fmt.Sprintf("no handler registered for %q", t.Params.Name())
		logger.Error(msg)
		return OutcomeFailed, c.store.MarkFailed(bctx, t.ID, t.Retries, msg)
	}

	started := time.Now()
	result, runErr := c.run(withParent(ctx, t.ID), handler, t)
	logger = logger.WithField("duration_ms", time.Since(started).Milliseconds())

	return c.finish(bctx, logger, t, result, runErr)
}

// run invokes the handler under the task timeout. Panics become errors.
func (c *Consumer) run(ctx context.Context, h Handler, t *models.TaskLog) (result string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Sprintf("task panicked: %v", r), nil)
		}
	}()

	result, err = h(ctx, t.Params.Args, t.Params.Kwargs)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("task timed out after %s: %w", c.cfg.Timeout, err)
	}
	return result, err
}

func (c *Consumer) finish(ctx context.Context, logger *logging.Logger, t *models.TaskLog, result string, err error) (Outcome, error) {
	switch {
	case err == nil:
		logger.Info("Task succeeded")
		return OutcomeSuccess, c.store.MarkSuccess(ctx, t.ID, result)

	case apperrors.IsMissingPrereq(err):
		logger.WithError(err).Info("Task skipped, rebuild requested")
		return OutcomeSkipped, c.store.MarkSuccess(ctx, t.ID, "skipped: "+err.Error())

	case apperrors.IsFatal(err):
		logger.WithError(err).Error("Task failed permanently")
		return OutcomeFailed, c.store.MarkFailed(ctx, t.ID, t.Retries, err.Error())
	}

	retries := t.Retries + 1
	if retries > t.MaxRetries {
		logger.WithError(err).WithField("retries", retries).Error("Task exhausted its retries")
		return OutcomeFailed, c.store.MarkFailed(ctx, t.ID, retries, err.Error())
	}

	delay := retry.TaskBackoff(retries)
	logger.WithError(err).WithFields(map[string]interface{}{
		"retries": retries,
		"delay":   delay.String(),
	}).Warn("Task failed, scheduling retry")
	return OutcomeRetrying, c.store.MarkRetrying(ctx, t.ID, retries, c.now().Add(delay), err.Error())
}

package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// ControllerMetrics receives control-loop observations. The prometheus
// implementation lives in infrastructure; tests use a no-op.
type ControllerMetrics interface {
	IterationStarted()
	TickCompleted(state domain.RolloutState, err error)
	ActiveRollouts(n int)
}

type nopMetrics struct{}

func (nopMetrics) IterationStarted()                        {}
func (nopMetrics) TickCompleted(domain.RolloutState, error) {}
func (nopMetrics) ActiveRollouts(int)                       {}

// Controller drives evaluation: every interval it lists the rollouts
// that need work and ticks each one. A rollout whose previous tick is
// still running is skipped, so a slow metrics backend never stacks
// evaluations for the same rollout.
type Controller struct {
	Service  *RolloutService
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  ControllerMetrics

	mu       sync.Mutex
	inflight map[domain.RolloutID]struct{}
	wg       sync.WaitGroup
}

func NewController(svc *RolloutService, interval time.Duration, logger *slog.Logger, metrics ControllerMetrics) *Controller {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Controller{
		Service:  svc,
		Interval: interval,
		Logger:   logger,
		Metrics:  metrics,
		inflight: make(map[domain.RolloutID]struct{}),
	}
}

// Run blocks, evaluating on every interval until the context is done,
// then waits for in-flight ticks to finish.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	c.Logger.Info("controller started", "interval", c.Interval)
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.Logger.Info("controller stopped")
			return
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

// runIteration ticks every rollout needing evaluation, each in its own
// goroutine. Pending rollouts are included so a deferred start (router
// down at submit time) gets retried.
func (c *Controller) runIteration(ctx context.Context) {
	c.Metrics.IterationStarted()

	active, err := c.Service.Rollouts.ListByStates(ctx, domain.StatePending, domain.StateProgressing)
	if err != nil {
		c.Logger.Error("list active rollouts", "error", err)
		return
	}
	c.Metrics.ActiveRollouts(len(active))

	for _, r := range active {
		if !c.claim(r.ID) {
			c.Logger.Debug("tick still in flight, skipping", "rollout", r.ID)
			continue
		}
		c.wg.Add(1)
		go func(r domain.Rollout) {
			defer c.wg.Done()
			defer c.release(r.ID)
			c.tick(ctx, r)
		}(r)
	}
}

func (c *Controller) tick(ctx context.Context, r domain.Rollout) {
	err := c.Service.Tick(ctx, r.ID)
	c.Metrics.TickCompleted(r.State, err)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRollbackFailed):
		// Already logged with full context by the service; the rollout
		// is parked terminal-unhealthy and no longer listed as active.
	case errors.Is(err, context.Canceled):
	default:
		c.Logger.Warn("tick failed", "rollout", r.ID, "service", r.Service, "error", err)
	}
}

func (c *Controller) claim(id domain.RolloutID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Controller) release(id domain.RolloutID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

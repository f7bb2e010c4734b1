// Package scheduler runs refresh cycles on a fixed interval, independent of
// request traffic.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/abdulachik/aipulse/internal/aggregator"
	"github.com/abdulachik/aipulse/internal/model"
)

const (
	defaultInterval     = 15 * time.Minute
	defaultStartupDelay = 30 * time.Second

	// ComponentRefresh tracks the snapshot step of the last refresh.
	ComponentRefresh = "refresh"
)

// ErrRefreshInProgress is returned when a refresh is requested while another
// one is still running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Refresher runs one refresh cycle.
type Refresher interface {
	RefreshAllSources(ctx context.Context) (*aggregator.RefreshResult, error)
}

// Config holds scheduler configuration.
type Config struct {
	Refresher    Refresher
	Interval     time.Duration
	StartupDelay time.Duration
	Health       *Health // Optional; a new tracker is created when nil
}

// Scheduler triggers refresh cycles on a fixed interval.
type Scheduler struct {
	refresher    Refresher
	interval     time.Duration
	startupDelay time.Duration
	health       *Health

	running atomic.Bool
	cycles  atomic.Int64
}

// New creates a new scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		refresher:    cfg.Refresher,
		interval:     cfg.Interval,
		startupDelay: cfg.StartupDelay,
		health:       cfg.Health,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.startupDelay < 0 {
		s.startupDelay = defaultStartupDelay
	}
	if s.health == nil {
		s.health = NewHealth()
	}
	return s
}

// Run waits for the startup delay, refreshes, then refreshes on every tick
// until ctx is done. A tick that fires while a refresh is running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("starting scheduler",
		"interval", s.interval,
		"startup_delay", s.startupDelay,
	)

	delay := time.NewTimer(s.startupDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		slog.Info("scheduler shutting down")
		return ctx.Err()
	case <-delay.C:
	}

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler shutting down")
			return ctx.Err()

		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// Trigger runs one refresh cycle now. It returns ErrRefreshInProgress instead
// of starting a second concurrent refresh.
func (s *Scheduler) Trigger(ctx context.Context) (*aggregator.RefreshResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer s.running.Store(false)

	return s.refresh(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.Trigger(ctx); err != nil {
		if errors.Is(err, ErrRefreshInProgress) {
			slog.Warn("skipping scheduled refresh", "reason", err)
			return
		}
		slog.Error("scheduled refresh failed", "error", err)
	}
}

func (s *Scheduler) refresh(ctx context.Context) (*aggregator.RefreshResult, error) {
	cycle := s.cycles.Add(1)
	slog.Debug("running refresh cycle", "cycle", cycle)

	result, err := s.refresher.RefreshAllSources(ctx)
	if result != nil {
		for _, src := range model.AllSources() {
			if srcErr, failed := result.Errors[src]; failed {
				s.health.SetUnhealthy(string(src), srcErr)
				continue
			}
			if n, ok := result.Fetched[src]; ok {
				s.health.SetHealthy(string(src), fmt.Sprintf("fetched %d items", n))
			}
		}
	}

	if err != nil {
		s.health.SetUnhealthy(ComponentRefresh, err)
		return result, err
	}

	s.health.SetHealthy(ComponentRefresh, "snapshot stored")
	return result, nil
}

// Running reports whether a refresh is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Cycles returns the number of refresh cycles started.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// Health returns the health tracker.
func (s *Scheduler) Health() *Health {
	return s.health
}

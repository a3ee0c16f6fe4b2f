package ble

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Runner is one connection attempt, normally a *Session.
type Runner interface {
	Run(ctx context.Context) error
}

// SupervisorOptions configures the reconnect backoff.
type SupervisorOptions struct {
	BaseDelay time.Duration // delay after the first failed session
	MaxDelay  time.Duration // backoff cap
	Jitter    bool          // randomize each delay within [d/2, d]
}

// DefaultSupervisorOptions returns sensible defaults.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
		Jitter:    true,
	}
}

// Supervisor runs sessions back to back until its context is cancelled.
// A session that reached a live subscription is followed immediately by the
// next one; failed sessions (scale absent, transport errors) back off
// exponentially so an absent scale does not keep the radio scanning flat out.
type Supervisor struct {
	newSession func() Runner
	opts       SupervisorOptions
}

// NewSupervisor creates a Supervisor that calls newSession for every cycle.
func NewSupervisor(newSession func() Runner, opts SupervisorOptions) *Supervisor {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	return &Supervisor{newSession: newSession, opts: opts}
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("[BLE] starting scan")
	failures := 0
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.newSession().Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var terr *TransportError
		switch {
		case err == nil:
			failures = 0
			slog.Info("[BLE] restarting scan", "cycle", cycle)
			continue
		case errors.Is(err, ErrNotFound):
			slog.Info("[BLE] no scale found", "cycle", cycle)
		case errors.As(err, &terr):
			slog.Warn("[BLE] session failed", "op", terr.Op, "error", terr.Err, "cycle", cycle)
		default:
			slog.Warn("[BLE] session failed", "error", err, "cycle", cycle)
		}

		delay := s.delay(failures)
		failures++
		slog.Info("[BLE] reconnect backoff", "attempt", failures, "delay", delay)
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) delay(attempt int) time.Duration {
	d := backoffDelay(attempt, s.opts.BaseDelay, s.opts.MaxDelay)
	if s.opts.Jitter {
		d = withJitter(d)
	}
	return d
}

// backoffDelay returns base·2^attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// withJitter returns a random duration in [d/2, d].
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package daemon drives the sweep on a fixed interval and keeps the
// supervisor alive across failing sweeps.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/shell"
)

// Runner invokes a task periodically. At most one invocation is in flight;
// a tick that lands while the previous one is still running is dropped
// with a warning.
type Runner struct {
	task     func() error
	interval time.Duration
	log      zerolog.Logger

	mu sync.Mutex
}

func New(task func() error, interval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{task: task, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, running the task once immediately and
// then on every interval. Under systemd a plain sleep loop is used; wall
// clocks on service hosts jump around and cron's scheduling gets confused
// by that. Otherwise an in-process cron timer drives the ticks.
func (r *Runner) Run(ctx context.Context) error {
	if os.Getenv(shell.SystemdEnv) != "" {
		return r.runLoop(ctx)
	}
	return r.runCron(ctx)
}

func (r *Runner) runLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		r.tick()
		timer.Reset(r.interval)
	}
}

func (r *Runner) runCron(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.tick); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	r.tick()
	c.Start()
	<-ctx.Done()
	// Stop's context completes once in-flight jobs have finished.
	<-c.Stop().Done()
	return nil
}

// tick runs one task invocation. Task errors and panics are logged and
// swallowed: a single failing sweep must never take the supervisor down.
func (r *Runner) tick() {
	if !r.mu.TryLock() {
		r.log.Warn().Msg("previous sweep still running, skipping this tick")
		return
	}
	defer r.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Msg("sweep panicked")
		}
	}()
	if err := r.task(); err != nil {
		r.log.Error().Err(err).Msg("sweep failed")
	}
}

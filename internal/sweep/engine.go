// Package sweep implements the reconciliation engine: one periodic pass
// that compares the tracked-job set against the cluster's live queue,
// requeues jobs that are about to time out or were killed off-queue, and
// persists the reconciled set durably.
package sweep

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/wm"
)

// Config tunes one engine instance.
type Config struct {
	// Threshold is the percent-completion at or above which a live job
	// is requeued before the scheduler kills it.
	Threshold float64
	// ContinueOnRerun leaves the original scheduler job running after a
	// resubmission instead of deleting it.
	ContinueOnRerun bool
	// MirrorPath is the durable tracked-set mirror on the cluster,
	// written through the channel. $HOME is expanded remotely.
	MirrorPath string
	// FallbackPath is the local cache used when the mirror write fails.
	FallbackPath string
}

// Engine reconciles tracked jobs against the live queue. The channel is
// handed to the adapter and the adapter to the engine; the store never
// references either.
type Engine struct {
	ch      shell.CommandChannel
	adapter wm.WorkloadManager
	db      *sql.DB // optional local tracking database
	cfg     Config
	log     zerolog.Logger

	now func() time.Time
}

// New creates an engine. db may be nil when no local tracking database is
// in play (the mirror is then the only durable input).
func New(ch shell.CommandChannel, adapter wm.WorkloadManager, db *sql.DB, cfg Config, log zerolog.Logger) *Engine {
	if cfg.MirrorPath == "" {
		cfg.MirrorPath = shell.MirrorPath()
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = shell.FallbackMirrorPath()
	}
	return &Engine{ch: ch, adapter: adapter, db: db, cfg: cfg, log: log, now: time.Now}
}

// Sweep runs one reconciliation pass. Channel faults abort the sweep
// before anything is mutated; later failures degrade per their kind.
func (e *Engine) Sweep() error {
	live, err := e.adapter.GetJobs()
	if err != nil {
		return fmt.Errorf("fetch live queue: %w", err)
	}

	tracked, err := e.loadTracked()
	if err != nil {
		return err
	}
	e.log.Info().Int("tracked", tracked.Len()).Int("live", live.Len()).Msg("sweep started")

	candidates, completed := e.classify(tracked, live)

	for _, j := range completed {
		tracked.Remove(j)
		e.untrackRow(j.ID)
		e.log.Info().Str("job", j.ID).Str("name", j.Name).Msg("job presumed completed, untracking")
	}

	merged := tracked.Merge(live)

	e.rerun(merged, live, candidates)

	return e.persist(merged)
}

// loadTracked assembles the tracked view: the remote mirror, the local
// tracking database, and any fallback cache left by a failed mirror write.
func (e *Engine) loadTracked() (*job.Queue, error) {
	result, err := e.ch.Execute(fmt.Sprintf("cat %s 2>/dev/null || true", e.cfg.MirrorPath))
	if err != nil {
		return nil, fmt.Errorf("read tracked mirror: %w", err)
	}
	tracked, err := decodeTracked([]byte(result.Stdout))
	if err != nil {
		return nil, err
	}

	if e.db != nil {
		specs, err := store.All(e.db)
		if err != nil {
			return nil, fmt.Errorf("read tracking database: %w", err)
		}
		for _, spec := range specs {
			if tracked.Get(spec.ID) == nil {
				tracked.Add(job.FromSpec(spec))
			}
		}
	}

	if data, err := os.ReadFile(e.cfg.FallbackPath); err == nil {
		cached, err := decodeTracked(data)
		if err != nil {
			e.log.Warn().Err(err).Msg("fallback cache corrupt, ignoring")
		} else {
			e.log.Info().Int("jobs", cached.Len()).Msg("replaying fallback cache")
			tracked = tracked.Merge(cached)
		}
	}
	return tracked, nil
}

// classify splits the tracked set into rerun candidates and jobs presumed
// completed. A tracked job absent from the live queue is a rerun candidate
// when the scheduler killed it or it was never submitted; it is presumed
// completed when it was last known running and its walltime has elapsed.
// Live jobs at or past the completion threshold are requeued pre-emptively.
func (e *Engine) classify(tracked, live *job.Queue) (candidates, completed []*job.Job) {
	now := e.now()
	for _, t := range tracked.Jobs() {
		if live.Find(t) != nil {
			continue
		}
		killed, err := e.adapter.WasKilled(t)
		if err != nil {
			e.log.Warn().Err(err).Str("job", t.ID).Msg("kill detection failed, assuming not killed")
			killed = false
		}
		switch {
		case killed, t.State == job.StateUnsubmitted:
			candidates = append(candidates, t)
		case t.IsRunning() && t.HasElapsed(now):
			completed = append(completed, t)
		}
	}
	for _, l := range live.Jobs() {
		if l.PercentCompletion() >= e.cfg.Threshold {
			candidates = append(candidates, l)
		}
	}
	return candidates, completed
}

// rerun issues reruns in tracked-queue order. Queue-full stops the loop
// for this sweep; a missing jobscript untracks permanently; any other
// submission failure leaves the job tracked for the next sweep.
func (e *Engine) rerun(merged, live *job.Queue, candidates []*job.Job) {
	done := map[*job.Job]bool{}
	for _, c := range candidates {
		j := merged.Find(c)
		if j == nil || done[j] {
			continue
		}
		done[j] = true

		method, err := e.adapter.RerunJob(j)
		if err != nil {
			switch {
			case errors.Is(err, wm.ErrQueueFull):
				e.log.Warn().Err(err).Msg("queue full, deferring remaining reruns to next sweep")
				return
			case errors.Is(err, wm.ErrMissingJobScript):
				e.log.Error().Err(err).Str("job", j.ID).Msg("jobscript gone, untracking")
				merged.Remove(j)
				e.untrackRow(j.ID)
			default:
				e.log.Error().Err(err).Str("job", j.ID).Msg("rerun failed, leaving tracked")
			}
			continue
		}

		if method == wm.Resubmitted {
			merged.Remove(j)
			e.untrackRow(j.ID)
			if live.Find(j) != nil && !e.cfg.ContinueOnRerun {
				// Kill the superseded instance so two copies don't run.
				if err := e.adapter.DeleteJob(j.SchedulerID); err != nil {
					e.log.Warn().Err(err).Str("job", j.ID).Msg("could not delete superseded job")
				}
			}
		}
	}
}

// persist writes the reconciled set to the remote mirror via one
// echo-redirect. On failure the payload lands in the local fallback cache
// instead; a cache write failure is fatal to the sweep.
func (e *Engine) persist(tracked *job.Queue) error {
	payload, err := encodeTracked(tracked)
	if err != nil {
		return err
	}

	command := fmt.Sprintf("echo '%s' > %s", shell.EscapeForSingleQuotes(string(payload)), e.cfg.MirrorPath)
	result, execErr := e.ch.Execute(command)
	if execErr == nil && result.Succeeded() {
		if err := os.Remove(e.cfg.FallbackPath); err != nil && !os.IsNotExist(err) {
			e.log.Warn().Err(err).Msg("could not remove fallback cache")
		}
		e.log.Info().Int("jobs", tracked.Len()).Msg("tracked mirror written")
		return nil
	}

	if execErr != nil {
		e.log.Error().Err(execErr).Msg("mirror write failed, caching locally")
	} else {
		e.log.Error().Int("exit", result.Exit).Str("stderr", strings.TrimSpace(result.Stderr)).
			Msg("mirror write failed, caching locally")
	}
	if err := writeFileAtomic(e.cfg.FallbackPath, payload); err != nil {
		return fmt.Errorf("write fallback cache: %w", err)
	}
	return nil
}

// untrackRow drops the job's row from the local tracking database, when
// one is attached.
func (e *Engine) untrackRow(id string) {
	if e.db == nil || id == "" {
		return
	}
	if _, err := store.Pop(e.db, id); err != nil {
		e.log.Warn().Err(err).Str("job", id).Msg("could not untrack database row")
	}
}

// Package wm adapts cluster workload managers (PBS today, SLURM as a stub)
// behind one interface, translating scheduler CLI behavior into errors the
// rerun engine can act on.
package wm

import (
	"errors"
	"fmt"
)

// Sentinel errors, chained so errors.Is(err, ErrSubmission) also matches
// the specific submission failures.
var (
	ErrSubmission = errors.New("job submission failed")

	// ErrQueueFull means the user's queued-job limit is reached (PBS
	// exit 38). Callers should stop submitting until the next sweep.
	ErrQueueFull = fmt.Errorf("%w: queue full", ErrSubmission)

	// ErrMissingJobScript means the jobscript no longer exists on the
	// cluster, so resubmission can never succeed.
	ErrMissingJobScript = fmt.Errorf("%w: job script not found", ErrSubmission)

	ErrDeletion = errors.New("job deletion failed")

	ErrNotImplemented = errors.New("not implemented")

	// ErrNoManager means no known scheduler CLI answered the probe.
	ErrNoManager = errors.New("no recognised workload manager found on cluster")
)

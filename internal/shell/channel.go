// Package shell provides command channels: uniform local and remote shells
// that run scheduler commands and report exit status faithfully.
package shell

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
)

// Result is the outcome of one command run through a channel. On a non-zero
// exit the command's stdout is folded into Stderr, so callers can treat
// Stdout as "the answer" and Stderr as "the explanation".
type Result struct {
	Stdout string
	Stderr string
	Exit   int
}

// Succeeded reports whether the command exited zero.
func (r Result) Succeeded() bool { return r.Exit == 0 }

// OnFail selects how state-update helpers react when the underlying
// operation fails.
type OnFail int

const (
	// Raise returns the error to the caller.
	Raise OnFail = iota
	// Warn logs the error and carries on.
	Warn
	// Ignore swallows the error silently.
	Ignore
)

// String is the policy's flag spelling, as accepted by update-job-state.
func (f OnFail) String() string {
	switch f {
	case Warn:
		return "warn"
	case Ignore:
		return "ignore"
	default:
		return "raise"
	}
}

// handleFailure applies the OnFail policy to an error.
func handleFailure(err error, onFail OnFail, log zerolog.Logger, what string) error {
	if err == nil {
		return nil
	}
	switch onFail {
	case Warn:
		log.Warn().Err(err).Msg(what)
		return nil
	case Ignore:
		return nil
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// CommandChannel runs commands against a cluster, either in-place on a
// login node or over SSH from a workstation. Implementations keep whatever
// session state they need between calls; Close releases it.
type CommandChannel interface {
	// Execute runs a shell command and returns its outcome. The error is
	// only non-nil for transport failures; command failures are reported
	// through Result.Exit.
	Execute(command string) (Result, error)

	// OpenFileRead opens a file on the channel's host for reading.
	OpenFileRead(path string) (io.ReadCloser, error)

	// OpenFileWrite opens a file on the channel's host for writing,
	// truncating it. The write lands when the returned writer is closed.
	OpenFileWrite(path string) (io.WriteCloser, error)

	// UpdateJobState records a state transition for a tracked job.
	UpdateJobState(jobID string, state job.State, comment string, onFail OnFail) error

	// SetMissingAlerts triggers the scan that flags still-tracked jobs
	// missing from the live queue. It runs on the cluster head node so
	// queue corrections land without a client connection.
	SetMissingAlerts(onFail OnFail) error

	// LoginMessage is the banner the host printed when the channel opened.
	LoginMessage() string

	// Host names the endpoint the channel talks to, for logging.
	Host() string

	Close() error
}

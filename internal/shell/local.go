package shell

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
)

// StateUpdater mutates the local tracking database. The concrete store is
// injected so this package stays free of database concerns.
type StateUpdater interface {
	UpdateState(jobID string, state job.State, comment string) error
	// SetMissingAlerts scans for tracked jobs missing from the live
	// queue and flags them.
	SetMissingAlerts() error
}

// LocalChannel is a CommandChannel for running directly on a cluster login
// node. Each command runs in a fresh sh invocation; tracking updates go
// straight to the local database through the injected updater.
type LocalChannel struct {
	updater StateUpdater
	log     zerolog.Logger
}

// NewLocalChannel creates a local channel. The updater may be nil when no
// tracking database is available; state updates then fail per their OnFail
// policy.
func NewLocalChannel(updater StateUpdater, log zerolog.Logger) *LocalChannel {
	return &LocalChannel{updater: updater, log: log}
}

// Execute runs the command via sh -c. Failed commands report their stdout
// on Stderr, matching the remote channel's behavior.
func (c *LocalChannel) Execute(command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("empty command")
	}
	cmd := exec.Command("sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exit := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("run %q: %w", command, err)
		}
		exit = exitErr.ExitCode()
	}
	if exit != 0 {
		return Result{Stderr: stderr.String() + stdout.String(), Exit: exit}, nil
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// OpenFileRead opens a local file.
func (c *LocalChannel) OpenFileRead(path string) (io.ReadCloser, error) {
	return os.Open(os.ExpandEnv(path))
}

// OpenFileWrite opens a local file for writing, truncating it.
func (c *LocalChannel) OpenFileWrite(path string) (io.WriteCloser, error) {
	return os.Create(os.ExpandEnv(path))
}

// UpdateJobState writes the state change to the local tracking database.
func (c *LocalChannel) UpdateJobState(jobID string, state job.State, comment string, onFail OnFail) error {
	if c.updater == nil {
		return handleFailure(fmt.Errorf("no tracking database"), onFail, c.log, "update job state")
	}
	return handleFailure(c.updater.UpdateState(jobID, state, comment), onFail, c.log, "update job state")
}

// SetMissingAlerts runs the missing-job scan in-process through the
// injected scanner.
func (c *LocalChannel) SetMissingAlerts(onFail OnFail) error {
	if c.updater == nil {
		return handleFailure(fmt.Errorf("no tracking database"), onFail, c.log, "set missing alerts")
	}
	return handleFailure(c.updater.SetMissingAlerts(), onFail, c.log, "set missing alerts")
}

// LoginMessage is empty for local channels; banner-derived data such as
// storage statistics is unavailable when running on the login node itself.
func (c *LocalChannel) LoginMessage() string { return "" }

// Host names the local machine.
func (c *LocalChannel) Host() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// Close is a no-op; local channels hold no session state.
func (c *LocalChannel) Close() error { return nil }

package shell

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
)

func TestLocalExecute(t *testing.T) {
	ch := NewLocalChannel(nil, zerolog.Nop())

	result, err := ch.Execute("echo hello")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !result.Succeeded() || result.Stdout != "hello\n" {
		t.Errorf("result = %+v", result)
	}
}

func TestLocalExecuteFailureFoldsStdout(t *testing.T) {
	ch := NewLocalChannel(nil, zerolog.Nop())

	result, err := ch.Execute("echo partial; exit 38")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if result.Exit != 38 {
		t.Errorf("Exit = %d, want 38", result.Exit)
	}
	if result.Stdout != "" {
		t.Errorf("Stdout should be empty on failure, got %q", result.Stdout)
	}
	if result.Stderr != "partial\n" {
		t.Errorf("Stderr = %q, want the failed command's output", result.Stderr)
	}
}

type recordingUpdater struct {
	updates []string
	err     error
}

func (u *recordingUpdater) UpdateState(jobID string, state job.State, comment string) error {
	u.updates = append(u.updates, jobID+":"+string(state))
	return u.err
}

func (u *recordingUpdater) SetMissingAlerts() error {
	return u.err
}

func TestLocalUpdateJobState(t *testing.T) {
	updater := &recordingUpdater{}
	ch := NewLocalChannel(updater, zerolog.Nop())

	if err := ch.UpdateJobState("abc", job.StateRunning, "", Raise); err != nil {
		t.Fatalf("UpdateJobState error: %v", err)
	}
	if len(updater.updates) != 1 || updater.updates[0] != "abc:running" {
		t.Errorf("updates = %v", updater.updates)
	}
}

func TestOnFailPolicies(t *testing.T) {
	updater := &recordingUpdater{err: errors.New("locked")}
	ch := NewLocalChannel(updater, zerolog.Nop())

	if err := ch.UpdateJobState("abc", job.StateFailed, "", Raise); err == nil {
		t.Error("Raise should surface the error")
	}
	if err := ch.UpdateJobState("abc", job.StateFailed, "", Warn); err != nil {
		t.Error("Warn should swallow the error")
	}
	if err := ch.UpdateJobState("abc", job.StateFailed, "", Ignore); err != nil {
		t.Error("Ignore should swallow the error")
	}
}

func TestLocalNoUpdater(t *testing.T) {
	ch := NewLocalChannel(nil, zerolog.Nop())
	if err := ch.UpdateJobState("abc", job.StateRunning, "", Raise); err == nil {
		t.Error("missing updater should fail with Raise")
	}
	if err := ch.SetMissingAlerts(Ignore); err != nil {
		t.Error("missing updater should be silent with Ignore")
	}
}

func TestLocalEmptyCommand(t *testing.T) {
	ch := NewLocalChannel(nil, zerolog.Nop())
	if _, err := ch.Execute("   "); err == nil {
		t.Error("empty command should fail")
	}
}

package wm

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
)

const slurmProbeCmd = "sinfo"

// SLURM is a stub adapter: submission and deletion work, queue parsing and
// reruns do not yet.
type SLURM struct {
	ch  shell.CommandChannel
	log zerolog.Logger
}

func NewSLURM(ch shell.CommandChannel, log zerolog.Logger) *SLURM {
	return &SLURM{ch: ch, log: log}
}

func (s *SLURM) Name() string { return "slurm" }

// GetJobs is not implemented; scontrol output parsing is still missing.
func (s *SLURM) GetJobs() (*job.Queue, error) {
	return nil, fmt.Errorf("%w: slurm queue parsing", ErrNotImplemented)
}

func (s *SLURM) QueryJobs(ids []string) (*job.Queue, error) {
	return nil, fmt.Errorf("%w: slurm queue parsing", ErrNotImplemented)
}

// SubmitJob submits with --requeue so the scheduler restarts preempted
// jobs on its own.
func (s *SLURM) SubmitJob(spec job.JobSpec) (string, error) {
	command := fmt.Sprintf("sbatch --requeue --export=ALL,%s='%s',%s='%s'",
		job.JobIDEnv, shell.EscapeForSingleQuotes(spec.ID),
		job.ExperimentPathEnv, shell.EscapeForSingleQuotes(spec.ExperimentPath))
	if spec.Queue != "" {
		command += fmt.Sprintf(" -p '%s'", shell.EscapeForSingleQuotes(spec.Queue))
	}
	command += fmt.Sprintf(" '%s'", shell.EscapeForSingleQuotes(spec.JobscriptPath))

	result, err := s.ch.Execute(command)
	if err != nil {
		return "", err
	}
	if !result.Succeeded() {
		return "", submissionError(spec.JobscriptPath, result)
	}
	// sbatch prints "Submitted batch job <id>".
	fields := strings.Fields(result.Stdout)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[len(fields)-1], nil
}

// DeleteJob cancels the job with scancel.
func (s *SLURM) DeleteJob(id string) error {
	result, err := s.ch.Execute(fmt.Sprintf("scancel '%s'", shell.EscapeForSingleQuotes(id)))
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("%w: %s (status %d: %s)", ErrDeletion, id, result.Exit, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// RerunJob is not implemented. A future version can chain
// `sbatch --dependency=afternotok:<id>` so the replacement only starts if
// the original failed.
func (s *SLURM) RerunJob(j *job.Job) (RerunMethod, error) {
	return Resubmitted, fmt.Errorf("%w: slurm rerun", ErrNotImplemented)
}

func (s *SLURM) ResubmitJob(j *job.Job) (string, error) {
	schedulerID, err := s.SubmitJob(j.JobSpec)
	if err != nil {
		s.ch.UpdateJobState(j.ID, job.StateFailed, err.Error(), shell.Warn)
		return "", err
	}
	s.ch.UpdateJobState(j.ID, job.StateQueued, "", shell.Warn)
	return schedulerID, nil
}

func (s *SLURM) ElevateJob(j *job.Job, queue, project string) (string, error) {
	return "", fmt.Errorf("%w: slurm elevate", ErrNotImplemented)
}

func (s *SLURM) WasKilled(j *job.Job) (bool, error) {
	return false, fmt.Errorf("%w: slurm kill detection", ErrNotImplemented)
}

func (s *SLURM) GetStorageStats() map[string]PartitionStats {
	return parseStorageBanner(s.ch.LoginMessage())
}

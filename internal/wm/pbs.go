package wm

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/parse"
	"github.com/schedtools/schedtools/internal/shell"
)

const pbsProbeCmd = "qstat"

// PBS exit codes the adapter depends on.
const (
	// pbsExitQueueFull: the user's queued-job limit is reached.
	pbsExitQueueFull = 38
	// pbsExitRerunDenied: the account is not authorized to use qrerun.
	pbsExitRerunDenied = 159
)

// missingScriptMarker appears in qsub's stderr when the jobscript path
// does not exist on the cluster.
const missingScriptMarker = "script file:: No such"

// PBS drives an OpenPBS/PBS Pro scheduler through its CLI.
type PBS struct {
	ch  shell.CommandChannel
	log zerolog.Logger

	// qrerunAllowed is flipped off permanently the first time the
	// cluster denies qrerun; reruns then always resubmit.
	qrerunAllowed bool
}

func NewPBS(ch shell.CommandChannel, log zerolog.Logger) *PBS {
	return &PBS{ch: ch, log: log, qrerunAllowed: true}
}

func (p *PBS) Name() string { return "pbs" }

// GetJobs fetches every queue entry via `qstat -fF json`.
func (p *PBS) GetJobs() (*job.Queue, error) {
	return p.fetchJobs("qstat -fF json")
}

// QueryJobs fetches full records for the named jobs only.
func (p *PBS) QueryJobs(ids []string) (*job.Queue, error) {
	command := "qstat -fF json"
	for _, id := range ids {
		command += fmt.Sprintf(" '%s'", shell.EscapeForSingleQuotes(id))
	}
	return p.fetchJobs(command)
}

// fetchJobs runs a qstat query and decodes it. Interactive shells
// occasionally corrupt the payload in transit, so decode failures refetch
// a few times before surfacing.
func (p *PBS) fetchJobs(command string) (*job.Queue, error) {
	attempts := parseRetries
	if retriesDisabled() {
		attempts = 0
	}
	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			p.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("qstat payload corrupt, refetching")
			time.Sleep(retryDelay)
		}
		result, err := p.ch.Execute(command)
		if err != nil {
			return nil, err
		}
		if !result.Succeeded() {
			return nil, fmt.Errorf("qstat failed with status %d: %s", result.Exit, strings.TrimSpace(result.Stderr))
		}
		entries, err := parse.QstatJobs([]byte(result.Stdout))
		if err != nil {
			lastErr = err
			continue
		}
		queue := job.NewQueue()
		for schedulerID, attrs := range entries {
			j, err := job.Parse(schedulerID, attrs)
			if err != nil {
				p.log.Warn().Err(err).Str("job", schedulerID).Msg("skipping unparseable queue entry")
				continue
			}
			queue.Add(j)
		}
		return queue, nil
	}
	return nil, fmt.Errorf("qstat output unparseable after %d attempts: %w", attempts+1, lastErr)
}

// SubmitJob submits the jobscript with the tracked identity exported into
// the job's environment.
func (p *PBS) SubmitJob(spec job.JobSpec) (string, error) {
	command := fmt.Sprintf("qsub -v %s='%s',%s='%s'",
		job.JobIDEnv, shell.EscapeForSingleQuotes(spec.ID),
		job.ExperimentPathEnv, shell.EscapeForSingleQuotes(spec.ExperimentPath))
	if spec.Queue != "" {
		command += fmt.Sprintf(" -q '%s'", shell.EscapeForSingleQuotes(spec.Queue))
	}
	if spec.Project != "" {
		command += fmt.Sprintf(" -P '%s'", shell.EscapeForSingleQuotes(spec.Project))
	}
	command += fmt.Sprintf(" '%s'", shell.EscapeForSingleQuotes(spec.JobscriptPath))

	result, err := p.ch.Execute(command)
	if err != nil {
		return "", err
	}
	if !result.Succeeded() {
		return "", submissionError(spec.JobscriptPath, result)
	}
	schedulerID := strings.TrimSpace(result.Stdout)
	p.log.Info().Str("job", spec.ID).Str("scheduler_id", schedulerID).Msg("job submitted")
	return schedulerID, nil
}

func submissionError(jobscriptPath string, result shell.Result) error {
	stderr := strings.TrimSpace(result.Stderr)
	switch {
	case result.Exit == pbsExitQueueFull:
		return fmt.Errorf("%w (status %d: %s)", ErrQueueFull, result.Exit, stderr)
	case strings.Contains(stderr, missingScriptMarker):
		return fmt.Errorf("%w: %s (status %d: %s)", ErrMissingJobScript, jobscriptPath, result.Exit, stderr)
	default:
		return fmt.Errorf("%w: %s (status %d: %s)", ErrSubmission, jobscriptPath, result.Exit, stderr)
	}
}

// DeleteJob removes a job from the queue with qdel.
func (p *PBS) DeleteJob(id string) error {
	result, err := p.ch.Execute(fmt.Sprintf("qdel '%s'", shell.EscapeForSingleQuotes(id)))
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("%w: %s (status %d: %s)", ErrDeletion, id, result.Exit, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// RerunJob requeues the job in place when qrerun is available, otherwise
// resubmits its jobscript. The first qrerun denial disables qrerun for the
// lifetime of the adapter.
func (p *PBS) RerunJob(j *job.Job) (RerunMethod, error) {
	if p.qrerunAllowed && j.SchedulerID != "" {
		result, err := p.ch.Execute(fmt.Sprintf("qrerun '%s'", shell.EscapeForSingleQuotes(j.SchedulerID)))
		if err != nil {
			return Requeued, err
		}
		switch result.Exit {
		case 0:
			p.log.Info().Str("job", j.ID).Str("scheduler_id", j.SchedulerID).Msg("job requeued")
			return Requeued, nil
		case pbsExitRerunDenied:
			p.log.Info().Msg("not authorized to use qrerun, requeueing from jobscript")
			p.qrerunAllowed = false
		case pbsExitQueueFull:
			return Requeued, fmt.Errorf("%w (status %d)", ErrQueueFull, result.Exit)
		default:
			return Requeued, fmt.Errorf("%w: qrerun %s (status %d: %s)",
				ErrSubmission, j.SchedulerID, result.Exit, strings.TrimSpace(result.Stderr))
		}
	}
	if _, err := p.SubmitJob(j.JobSpec); err != nil {
		return Resubmitted, err
	}
	p.log.Info().Str("job", j.ID).Str("name", j.Name).Msg("job resubmitted")
	return Resubmitted, nil
}

// ResubmitJob submits a fresh instance of the job's jobscript and records
// the outcome against the original tracked row.
func (p *PBS) ResubmitJob(j *job.Job) (string, error) {
	schedulerID, err := p.SubmitJob(j.JobSpec)
	if err != nil {
		p.ch.UpdateJobState(j.ID, job.StateFailed, err.Error(), shell.Warn)
		return "", err
	}
	p.ch.UpdateJobState(j.ID, job.StateQueued, "", shell.Warn)
	return schedulerID, nil
}

// ElevateJob moves a queued job into another queue/project by submitting a
// duplicate there and deleting the original.
func (p *PBS) ElevateJob(j *job.Job, queue, project string) (string, error) {
	if !j.IsQueued() {
		return "", fmt.Errorf("%w: job %s is %s, only queued jobs can be elevated", ErrSubmission, j.ID, j.State)
	}
	spec := j.JobSpec
	spec.Queue = queue
	spec.Project = project
	schedulerID, err := p.SubmitJob(spec)
	if err != nil {
		return "", err
	}
	if err := p.DeleteJob(j.SchedulerID); err != nil {
		return schedulerID, err
	}
	return schedulerID, nil
}

// WasKilled reports whether the scheduler killed the job for exceeding
// memory or walltime, judged from the tail of its error file.
func (p *PBS) WasKilled(j *job.Job) (bool, error) {
	if j.ErrorPath == "" {
		return false, nil
	}
	result, err := p.ch.Execute(fmt.Sprintf("tail '%s'", shell.EscapeForSingleQuotes(j.ErrorPath)))
	if err != nil {
		return false, err
	}
	if !result.Succeeded() {
		// Error file missing or unreadable: no kill evidence.
		return false, nil
	}
	for _, reason := range []string{"mem", "walltime"} {
		if strings.Contains(result.Stdout, "PBS: job killed: "+reason) {
			return true, nil
		}
	}
	return false, nil
}

// GetStorageStats parses the login banner's quota table. Parsing is
// best-effort: any banner shape it doesn't recognise yields an empty map.
func (p *PBS) GetStorageStats() map[string]PartitionStats {
	return parseStorageBanner(p.ch.LoginMessage())
}

package wm

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
)

// DisableRetryEnv bypasses all retry loops when set, so tests and
// interactive debugging fail fast.
const DisableRetryEnv = "SCHEDTOOLS_DISABLE_RETRY"

const (
	// probeRetries bounds capability-probe retries on channel faults.
	probeRetries = 2
	// parseRetries bounds qstat re-fetches when the interactive shell
	// corrupts the JSON payload in transit.
	parseRetries = 5

	retryDelay = 2 * time.Second
)

func retriesDisabled() bool { return os.Getenv(DisableRetryEnv) != "" }

// RerunMethod reports how a rerun was accomplished. A requeue leaves the
// scheduler ID intact; a resubmission mints a new one, so the caller must
// drop its record of the old job.
type RerunMethod int

const (
	// Requeued means the job was requeued in place with qrerun.
	Requeued RerunMethod = iota
	// Resubmitted means the jobscript was submitted as a fresh job.
	Resubmitted
)

func (m RerunMethod) String() string {
	if m == Requeued {
		return "requeued"
	}
	return "resubmitted"
}

// Usage is one used/total quota reading from the login banner.
type Usage struct {
	Used        string
	Total       string
	PercentUsed float64
}

// PartitionStats holds the data and file-count quotas of one storage
// partition.
type PartitionStats struct {
	Data  Usage
	Files Usage
}

// WorkloadManager is a scheduler adapter. All operations go through the
// channel the adapter was built with.
type WorkloadManager interface {
	// Name identifies the adapter ("pbs", "ucl", "slurm").
	Name() string

	// GetJobs fetches full records for every job visible on the queue.
	GetJobs() (*job.Queue, error)

	// QueryJobs fetches full records for the named jobs only.
	QueryJobs(ids []string) (*job.Queue, error)

	// SubmitJob submits a jobscript, exporting the tracked ID and
	// experiment path into the job's environment. Returns the scheduler
	// ID when the scheduler reports one.
	SubmitJob(spec job.JobSpec) (string, error)

	// DeleteJob removes a job from the queue.
	DeleteJob(id string) error

	// RerunJob gets a job running again, preferring an in-place requeue
	// and falling back to resubmitting its jobscript.
	RerunJob(j *job.Job) (RerunMethod, error)

	// ResubmitJob submits a fresh instance of the job, then records the
	// original as queued on success or failed on failure.
	ResubmitJob(j *job.Job) (string, error)

	// ElevateJob moves a queued job into another queue/project by
	// submitting a duplicate and deleting the original.
	ElevateJob(j *job.Job, queue, project string) (string, error)

	// WasKilled inspects the job's error file for a scheduler kill
	// notice (out of memory or out of walltime).
	WasKilled(j *job.Job) (bool, error)

	// GetStorageStats parses storage quotas from the login banner.
	// Parsing is best-effort; an empty map means no quota data.
	GetStorageStats() map[string]PartitionStats
}

// candidate pairs a capability-probe command with the adapter it selects.
type candidate struct {
	probe string
	build func(ch shell.CommandChannel, log zerolog.Logger) WorkloadManager
}

// adapters in probe order; the first whose probe answers wins.
var adapterOrder = []candidate{
	{pbsProbeCmd, func(ch shell.CommandChannel, log zerolog.Logger) WorkloadManager { return NewPBS(ch, log) }},
	{slurmProbeCmd, func(ch shell.CommandChannel, log zerolog.Logger) WorkloadManager { return NewSLURM(ch, log) }},
}

// Detect probes the channel for a known scheduler CLI. A PBS cluster that
// also answers the UCL dialect probe gets the UCL adapter.
func Detect(ch shell.CommandChannel, log zerolog.Logger) (WorkloadManager, error) {
	for _, c := range adapterOrder {
		valid, err := probe(ch, c.probe)
		if err != nil {
			return nil, err
		}
		if !valid {
			continue
		}
		manager := c.build(ch, log)
		if manager.Name() == "pbs" {
			if uclValid, err := probe(ch, uclProbeCmd); err == nil && uclValid {
				manager = NewUCL(ch, log)
			}
		}
		log.Debug().Str("manager", manager.Name()).Msg("workload manager detected")
		return manager, nil
	}
	return nil, ErrNoManager
}

// probe runs a capability-check command. Exit 0 means the scheduler is
// present, 127 means its CLI is not installed; anything else is a channel
// fault, retried a couple of times before surfacing.
func probe(ch shell.CommandChannel, command string) (bool, error) {
	attempts := probeRetries
	if retriesDisabled() {
		attempts = 0
	}
	var result shell.Result
	var err error
	for attempt := 0; ; attempt++ {
		result, err = ch.Execute(command)
		if err != nil {
			return false, err
		}
		switch result.Exit {
		case 0:
			return true, nil
		case 127:
			return false, nil
		}
		if attempt >= attempts {
			break
		}
		time.Sleep(retryDelay)
	}
	return false, fmt.Errorf("probe %q failed with status %d: %s", command, result.Exit, result.Stderr)
}

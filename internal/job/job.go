// Package job defines the tracked-job records, their identity rule, and the
// insertion-ordered Queue collection the reconciliation engine operates on.
package job

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schedtools/schedtools/internal/parse"
)

// Environment variables the submitter sets on every submission so that the
// worker process can call back and mutate its own tracking row.
const (
	JobIDEnv          = "JOB_ID"
	ExperimentPathEnv = "EXPERIMENT_PATH"
)

// JobSpec is a job the user wants tracked, whether or not the scheduler
// currently knows about it.
type JobSpec struct {
	// ID is the user-owned tracked identifier, stable across resubmissions.
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ExperimentPath string    `json:"experiment_path"`
	JobscriptPath  string    `json:"jobscript_path"`
	Cluster        Cluster   `json:"cluster"`
	Queue          string    `json:"queue,omitempty"`
	Project        string    `json:"project,omitempty"`
	State          State     `json:"state"`
	ModifiedTime   time.Time `json:"modified_time"`
	Comment        string    `json:"comment,omitempty"`
}

// NewUnsubmitted creates a spec for a job that has not been submitted yet.
// The ID is freshly minted and survives every later resubmission.
func NewUnsubmitted(jobscriptPath, experimentPath, queue, project string, cluster Cluster) JobSpec {
	return JobSpec{
		ID:             uuid.NewString(),
		Name:           filepath.Base(experimentPath),
		ExperimentPath: experimentPath,
		JobscriptPath:  jobscriptPath,
		Cluster:        cluster,
		Queue:          queue,
		Project:        project,
		State:          StateUnsubmitted,
		ModifiedTime:   time.Now(),
	}
}

// ResourceRequest is the resource allocation a job asked for.
type ResourceRequest struct {
	MemBytes        int64         `json:"mem_bytes"`
	NCPUs           int           `json:"ncpus"`
	NGPUs           int           `json:"ngpus"`
	NodeCount       int           `json:"node_count"`
	Place           string        `json:"place,omitempty"`
	Priority        *int          `json:"priority,omitempty"`
	SelectStatement string        `json:"select_statement,omitempty"`
	Walltime        time.Duration `json:"walltime"`
}

// ResourceUsage is what a running job has consumed so far.
type ResourceUsage struct {
	CPUPercent int           `json:"cpu_percent"`
	CPUTime    time.Duration `json:"cpu_time"`
	MemBytes   int64         `json:"mem_bytes"`
	VMemBytes  int64         `json:"vmem_bytes"`
	NCPUs      int           `json:"ncpus"`
	NGPUs      int           `json:"ngpus"`
	Walltime   time.Duration `json:"walltime"`
}

// Job extends JobSpec with scheduler-observed fields.
type Job struct {
	JobSpec

	// SchedulerID is assigned by the scheduler on submission and changes
	// on every resubmission.
	SchedulerID     string           `json:"scheduler_id,omitempty"`
	Owner           string           `json:"owner,omitempty"` // user@host
	Server          string           `json:"server,omitempty"`
	ResourceRequest ResourceRequest  `json:"resource_request"`
	ResourceUsage   *ResourceUsage   `json:"resource_usage,omitempty"`
	StartTime       *time.Time       `json:"start_time,omitempty"`
	CreationTime    time.Time        `json:"creation_time,omitzero"`
	QueueTime       time.Time        `json:"queue_time,omitzero"`
	Checkpoint      string           `json:"checkpoint,omitempty"`
	SubmitArguments []string         `json:"submit_arguments,omitempty"`
	ErrorPath       string           `json:"error_path,omitempty"`
	OutputPath      string           `json:"output_path,omitempty"`
	Priority        int              `json:"priority,omitempty"`
	RunCount        int              `json:"run_count,omitempty"`
	Details         map[string]any   `json:"-"`
}

// FromSpec wraps a bare tracking record as a Job with no scheduler fields.
func FromSpec(spec JobSpec) *Job {
	return &Job{JobSpec: spec}
}

// IsRunning reports whether the job is in the running state.
func (j *Job) IsRunning() bool { return j.State == StateRunning }

// IsQueued reports whether the job is in the queued state.
func (j *Job) IsQueued() bool { return j.State == StateQueued }

// OwnerName is the user part of the `user@host` owner string.
func (j *Job) OwnerName() string {
	name, _, _ := strings.Cut(j.Owner, "@")
	return name
}

// Walltime is the requested walltime.
func (j *Job) Walltime() time.Duration { return j.ResourceRequest.Walltime }

// EndTime is the latest instant the job can still be running, or zero time
// when the job has not started.
func (j *Job) EndTime() time.Time {
	if j.StartTime == nil {
		return time.Time{}
	}
	return j.StartTime.Add(j.ResourceRequest.Walltime)
}

// HasElapsed reports whether the job's requested walltime has fully elapsed.
func (j *Job) HasElapsed(now time.Time) bool {
	end := j.EndTime()
	return !end.IsZero() && !now.Before(end)
}

// PercentCompletion is 100 for completed jobs, 0 for failed ones, and
// otherwise the elapsed fraction of the requested walltime.
func (j *Job) PercentCompletion() float64 {
	switch j.State {
	case StateCompleted:
		return 100
	case StateFailed:
		return 0
	}
	if j.ResourceUsage != nil && j.ResourceUsage.Walltime > 0 && j.ResourceRequest.Walltime > 0 {
		return 100 * j.ResourceUsage.Walltime.Seconds() / j.ResourceRequest.Walltime.Seconds()
	}
	return 0
}

// Match reports whether two records refer to the same job: equal tracked
// IDs, or equal scheduler IDs when both sides expose one. A tracked ID on
// one side never matches a scheduler ID on the other.
func Match(a, b *Job) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if a.SchedulerID != "" && a.SchedulerID == b.SchedulerID {
		return true
	}
	return false
}

// MatchID reports whether a bare identifier refers to the job, by either
// the tracked ID or the scheduler ID.
func MatchID(id string, j *Job) bool {
	return (j.ID != "" && id == j.ID) || (j.SchedulerID != "" && id == j.SchedulerID)
}

// Parse builds a Job from one entry of a `qstat -fF json` payload.
func Parse(schedulerID string, attrs map[string]any) (*Job, error) {
	resourceList := parse.StringMap(attrs, "Resource_List")
	req, err := parseResourceRequest(resourceList)
	if err != nil {
		return nil, err
	}

	var usage *ResourceUsage
	if used := parse.StringMap(attrs, "resources_used"); used != nil {
		usage = parseResourceUsage(used)
	}

	var startTime *time.Time
	if stime := parse.String(attrs, "stime"); stime != "" {
		if t, err := parse.DateTime(stime); err == nil {
			startTime = &t
		}
	}

	var submitArgs []string
	jobscriptPath := ""
	if raw := parse.String(attrs, "Submit_arguments"); raw != "" {
		submitArgs = strings.Fields(strings.ReplaceAll(raw, "\n", ""))
		jobscriptPath = submitArgs[len(submitArgs)-1]
	}

	variables := parse.StringMap(attrs, "Variable_List")
	j := &Job{
		JobSpec: JobSpec{
			ID:             parse.String(variables, JobIDEnv),
			Name:           parse.String(attrs, "Job_Name"),
			ExperimentPath: parse.String(variables, ExperimentPathEnv),
			JobscriptPath:  jobscriptPath,
			Cluster:        ClusterFromServer(parse.String(attrs, "server")),
			Queue:          parse.String(attrs, "queue"),
			Project:        parse.String(attrs, "project"),
			State:          ParseStateCode(parse.String(attrs, "job_state")),
			Comment:        parse.String(attrs, "comment"),
		},
		SchedulerID:     schedulerID,
		Owner:           parse.String(attrs, "Job_Owner"),
		Server:          parse.String(attrs, "server"),
		ResourceRequest: req,
		ResourceUsage:   usage,
		StartTime:       startTime,
		Checkpoint:      parse.String(attrs, "Checkpoint"),
		SubmitArguments: submitArgs,
		// Error_Path and Output_Path are of form `<hostname>:<path>`.
		ErrorPath:  pathPart(parse.String(attrs, "Error_Path")),
		OutputPath: pathPart(parse.String(attrs, "Output_Path")),
		Priority:   parse.Int(attrs, "Priority"),
		RunCount:   parse.Int(attrs, "run_count"),
		Details:    attrs,
	}
	if t, err := parse.DateTime(parse.String(attrs, "ctime")); err == nil {
		j.CreationTime = t
	}
	if t, err := parse.DateTime(parse.String(attrs, "qtime")); err == nil {
		j.QueueTime = t
	}
	if t, err := parse.DateTime(parse.String(attrs, "mtime")); err == nil {
		j.ModifiedTime = t
	}
	return j, nil
}

func pathPart(hostPath string) string {
	if i := strings.LastIndex(hostPath, ":"); i >= 0 {
		return hostPath[i+1:]
	}
	return hostPath
}

func parseResourceRequest(attrs map[string]any) (ResourceRequest, error) {
	mem, err := parse.Memory(orDefault(parse.String(attrs, "mem"), "0b"))
	if err != nil {
		return ResourceRequest{}, err
	}
	walltime, err := parse.Walltime(orDefault(parse.String(attrs, "walltime"), "00:00:00"))
	if err != nil {
		return ResourceRequest{}, err
	}
	req := ResourceRequest{
		MemBytes:        mem,
		NCPUs:           parse.Int(attrs, "ncpus"),
		NGPUs:           parse.Int(attrs, "ngpus"),
		NodeCount:       parse.Int(attrs, "nodect"),
		Place:           parse.String(attrs, "place"),
		SelectStatement: parse.String(attrs, "select"),
		Walltime:        walltime,
	}
	// Older PBS versions don't report priority_job.
	if _, ok := attrs["priority_job"]; ok {
		p := parse.Int(attrs, "priority_job")
		req.Priority = &p
	}
	return req, nil
}

func parseResourceUsage(attrs map[string]any) *ResourceUsage {
	mem, _ := parse.Memory(orDefault(parse.String(attrs, "mem"), "0b"))
	vmem, _ := parse.Memory(orDefault(parse.String(attrs, "vmem"), "0b"))
	cput, _ := parse.Walltime(orDefault(parse.String(attrs, "cput"), "00:00:00"))
	walltime, _ := parse.Walltime(orDefault(parse.String(attrs, "walltime"), "00:00:00"))
	return &ResourceUsage{
		CPUPercent: parse.Int(attrs, "cpupercent"),
		CPUTime:    cput,
		MemBytes:   mem,
		VMemBytes:  vmem,
		NCPUs:      parse.Int(attrs, "ncpus"),
		NGPUs:      parse.Int(attrs, "ngpus"),
		Walltime:   walltime,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

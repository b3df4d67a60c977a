package sweep

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
	"github.com/schedtools/schedtools/internal/shell/shelltest"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/wm"
)

const testMirror = "mirror.json"

var catMirror = "cat " + testMirror + " 2>/dev/null || true"

var sweepNow = time.Date(2023, 2, 13, 12, 0, 0, 0, time.UTC)

// fakeManager is a programmable WorkloadManager. Methods the engine never
// touches report not-implemented.
type fakeManager struct {
	live        *job.Queue
	killed      map[string]bool
	killedErr   error
	rerunMethod map[string]wm.RerunMethod
	rerunErr    map[string]error
	getJobsErr  error

	reruns  []string
	deletes []string
	stats   map[string]wm.PartitionStats
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		live:        job.NewQueue(),
		killed:      map[string]bool{},
		rerunMethod: map[string]wm.RerunMethod{},
		rerunErr:    map[string]error{},
	}
}

func (f *fakeManager) Name() string { return "fake" }

func (f *fakeManager) GetJobs() (*job.Queue, error) {
	if f.getJobsErr != nil {
		return nil, f.getJobsErr
	}
	return f.live, nil
}

func (f *fakeManager) QueryJobs(ids []string) (*job.Queue, error) { return nil, wm.ErrNotImplemented }

func (f *fakeManager) SubmitJob(spec job.JobSpec) (string, error) { return "", wm.ErrNotImplemented }

func (f *fakeManager) DeleteJob(id string) error {
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeManager) RerunJob(j *job.Job) (wm.RerunMethod, error) {
	f.reruns = append(f.reruns, j.ID)
	if err := f.rerunErr[j.ID]; err != nil {
		return wm.Requeued, err
	}
	return f.rerunMethod[j.ID], nil
}

func (f *fakeManager) ResubmitJob(j *job.Job) (string, error) { return "", wm.ErrNotImplemented }

func (f *fakeManager) ElevateJob(j *job.Job, queue, project string) (string, error) {
	return "", wm.ErrNotImplemented
}

func (f *fakeManager) WasKilled(j *job.Job) (bool, error) {
	if f.killedErr != nil {
		return false, f.killedErr
	}
	return f.killed[j.ID], nil
}

func (f *fakeManager) GetStorageStats() map[string]wm.PartitionStats { return f.stats }

func newTestEngine(t *testing.T, ch shell.CommandChannel, fm wm.WorkloadManager, db *sql.DB, cfg Config) *Engine {
	t.Helper()
	if cfg.MirrorPath == "" {
		cfg.MirrorPath = testMirror
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = filepath.Join(t.TempDir(), "cache.json")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 95
	}
	e := New(ch, fm, db, cfg, zerolog.Nop())
	e.now = func() time.Time { return sweepNow }
	return e
}

// nearTimeoutJob is a running job at ~98.6% of its requested walltime.
func nearTimeoutJob(id, schedulerID string) *job.Job {
	start := sweepNow.Add(-71 * time.Hour)
	return &job.Job{
		JobSpec: job.JobSpec{
			ID:            id,
			Name:          "run1",
			JobscriptPath: "/home/jdoe/run.pbs",
			State:         job.StateRunning,
		},
		SchedulerID:     schedulerID,
		StartTime:       &start,
		ResourceRequest: job.ResourceRequest{Walltime: 72 * time.Hour},
		ResourceUsage:   &job.ResourceUsage{Walltime: 71 * time.Hour},
	}
}

func mirrorChannel(t *testing.T, tracked *job.Queue) *shelltest.Channel {
	t.Helper()
	payload, err := encodeTracked(tracked)
	require.NoError(t, err)
	return &shelltest.Channel{Results: map[string]shell.Result{
		catMirror: {Stdout: string(payload)},
	}}
}

// writtenMirror decodes the tracked set from the last echo-redirect the
// engine issued.
func writtenMirror(t *testing.T, ch *shelltest.Channel) *job.Queue {
	t.Helper()
	for i := len(ch.Executed) - 1; i >= 0; i-- {
		cmd := ch.Executed[i]
		if !strings.HasPrefix(cmd, "echo '") {
			continue
		}
		payload := strings.TrimPrefix(cmd, "echo '")
		payload = strings.TrimSuffix(payload, "' > "+testMirror)
		q, err := decodeTracked([]byte(payload))
		require.NoError(t, err)
		return q
	}
	t.Fatal("no mirror write found")
	return nil
}

func TestSweepRequeuesNearTimeout(t *testing.T) {
	j := nearTimeoutJob("abc", "7013474.pbs")

	fm := newFakeManager()
	fm.live.Add(j)
	fm.rerunMethod["abc"] = wm.Requeued

	// Never tracked before: the candidate comes from the live queue alone.
	ch := mirrorChannel(t, job.NewQueue())

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	assert.Equal(t, []string{"abc"}, fm.reruns)
	assert.Empty(t, fm.deletes, "requeue keeps the scheduler job")

	written := writtenMirror(t, ch)
	require.Equal(t, 1, written.Len())
	assert.NotNil(t, written.Get("abc"), "requeued job stays tracked")
}

func TestSweepIgnoresLiveJobsBelowThreshold(t *testing.T) {
	j := nearTimeoutJob("abc", "7013474.pbs")
	j.ResourceUsage.Walltime = 10 * time.Hour

	fm := newFakeManager()
	fm.live.Add(j)

	tracked := job.NewQueue()
	tracked.Add(j)
	ch := mirrorChannel(t, tracked)

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	assert.Empty(t, fm.reruns)
	assert.Equal(t, 1, writtenMirror(t, ch).Len())
}

func TestSweepResubmitsKilledJob(t *testing.T) {
	j := &job.Job{
		JobSpec: job.JobSpec{
			ID:            "abc",
			JobscriptPath: "/home/jdoe/run.pbs",
			State:         job.StateRunning,
		},
		SchedulerID: "7013474.pbs",
		ErrorPath:   "/home/jdoe/run1.e7013474",
	}

	fm := newFakeManager()
	fm.killed["abc"] = true
	fm.rerunMethod["abc"] = wm.Resubmitted

	tracked := job.NewQueue()
	tracked.Add(j)
	ch := mirrorChannel(t, tracked)

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	assert.Equal(t, []string{"abc"}, fm.reruns)
	assert.Empty(t, fm.deletes, "job is already off the queue")
	assert.Equal(t, 0, writtenMirror(t, ch).Len(), "resubmission untracks the old record")
}

func TestSweepDeletesSupersededLiveJob(t *testing.T) {
	j := nearTimeoutJob("abc", "7013474.pbs")

	for _, tt := range []struct {
		name            string
		continueOnRerun bool
		wantDeletes     []string
	}{
		{"delete original", false, []string{"7013474.pbs"}},
		{"continue on rerun", true, nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fm := newFakeManager()
			fm.live.Add(j)
			fm.rerunMethod["abc"] = wm.Resubmitted

			tracked := job.NewQueue()
			tracked.Add(j)
			ch := mirrorChannel(t, tracked)

			e := newTestEngine(t, ch, fm, nil, Config{ContinueOnRerun: tt.continueOnRerun})
			require.NoError(t, e.Sweep())

			assert.Equal(t, tt.wantDeletes, fm.deletes)
		})
	}
}

func TestSweepQueueFullStopsRerunLoop(t *testing.T) {
	a := &job.Job{JobSpec: job.JobSpec{ID: "aaa", JobscriptPath: "/p/a.pbs", State: job.StateUnsubmitted}}
	b := &job.Job{JobSpec: job.JobSpec{ID: "bbb", JobscriptPath: "/p/b.pbs", State: job.StateUnsubmitted}}

	fm := newFakeManager()
	fm.rerunErr["aaa"] = wm.ErrQueueFull

	tracked := job.NewQueue()
	tracked.Add(a)
	tracked.Add(b)
	ch := mirrorChannel(t, tracked)

	fallback := filepath.Join(t.TempDir(), "cache.json")
	e := newTestEngine(t, ch, fm, nil, Config{FallbackPath: fallback})
	require.NoError(t, e.Sweep())

	assert.Equal(t, []string{"aaa"}, fm.reruns, "queue-full defers the rest of the batch")
	assert.Equal(t, 2, writtenMirror(t, ch).Len(), "both stay tracked for the next sweep")

	_, err := os.Stat(fallback)
	assert.True(t, os.IsNotExist(err), "mirror write succeeded, no fallback expected")
}

func TestSweepMissingJobscriptUntracks(t *testing.T) {
	j := &job.Job{JobSpec: job.JobSpec{ID: "abc", JobscriptPath: "/gone/run.pbs", State: job.StateUnsubmitted}}

	fm := newFakeManager()
	fm.rerunErr["abc"] = wm.ErrMissingJobScript

	tracked := job.NewQueue()
	tracked.Add(j)
	ch := mirrorChannel(t, tracked)

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	assert.Equal(t, 0, writtenMirror(t, ch).Len())
}

func TestSweepOtherRerunFailureLeavesTracked(t *testing.T) {
	j := &job.Job{JobSpec: job.JobSpec{ID: "abc", JobscriptPath: "/p/run.pbs", State: job.StateUnsubmitted}}

	fm := newFakeManager()
	fm.rerunErr["abc"] = errors.New("qsub: Bad UID for job execution")

	tracked := job.NewQueue()
	tracked.Add(j)
	ch := mirrorChannel(t, tracked)

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	written := writtenMirror(t, ch)
	require.Equal(t, 1, written.Len())
	assert.NotNil(t, written.Get("abc"))
}

func TestSweepUntracksElapsedJobs(t *testing.T) {
	start := sweepNow.Add(-80 * time.Hour)
	j := &job.Job{
		JobSpec:         job.JobSpec{ID: "abc", State: job.StateRunning},
		SchedulerID:     "7013474.pbs",
		StartTime:       &start,
		ResourceRequest: job.ResourceRequest{Walltime: 72 * time.Hour},
	}

	fm := newFakeManager()

	tracked := job.NewQueue()
	tracked.Add(j)
	ch := mirrorChannel(t, tracked)

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	assert.Empty(t, fm.reruns)
	assert.Equal(t, 0, writtenMirror(t, ch).Len(), "elapsed unkilled job presumed completed")

	// A second sweep over the now-empty mirror is a no-op.
	ch2 := mirrorChannel(t, job.NewQueue())
	e2 := newTestEngine(t, ch2, fm, nil, Config{})
	require.NoError(t, e2.Sweep())
	assert.Empty(t, fm.reruns)
	assert.Equal(t, 0, writtenMirror(t, ch2).Len())
}

func TestSweepMergePrefersLiveRecord(t *testing.T) {
	tracked := job.NewQueue()
	tracked.Add(job.FromSpec(job.JobSpec{ID: "abc", JobscriptPath: "/p/run.pbs", State: job.StateQueued}))

	live := &job.Job{
		JobSpec:     job.JobSpec{ID: "abc", JobscriptPath: "/p/run.pbs", State: job.StateRunning},
		SchedulerID: "7013500.pbs",
	}
	fm := newFakeManager()
	fm.live.Add(live)

	ch := mirrorChannel(t, tracked)
	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	written := writtenMirror(t, ch)
	require.Equal(t, 1, written.Len())
	got := written.Get("abc")
	require.NotNil(t, got)
	assert.Equal(t, "7013500.pbs", got.SchedulerID, "tracked ID keeps pointing at the fresh instance")
	assert.Equal(t, job.StateRunning, got.State)
}

func TestSweepFallbackCache(t *testing.T) {
	j := &job.Job{JobSpec: job.JobSpec{ID: "abc", JobscriptPath: "/p/run.pbs", State: job.StateQueued}}

	fallback := filepath.Join(t.TempDir(), "cache.json")

	tracked := job.NewQueue()
	tracked.Add(j)

	// First sweep: the mirror write fails, the set lands in the cache.
	fm := newFakeManager()
	fm.live.Add(j)
	failing := &mirrorWriteFails{mirrorChannel(t, tracked)}
	e := newTestEngine(t, failing, fm, nil, Config{FallbackPath: fallback})
	require.NoError(t, e.Sweep())

	data, err := os.ReadFile(fallback)
	require.NoError(t, err)
	cached, err := decodeTracked(data)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())

	// Second sweep: empty remote mirror, cache replayed and cleared.
	ch := mirrorChannel(t, job.NewQueue())
	fm2 := newFakeManager()
	fm2.live.Add(j)
	e2 := newTestEngine(t, ch, fm2, nil, Config{FallbackPath: fallback})
	require.NoError(t, e2.Sweep())

	assert.Equal(t, 1, writtenMirror(t, ch).Len())
	_, err = os.Stat(fallback)
	assert.True(t, os.IsNotExist(err), "successful mirror write clears the cache")
}

// mirrorWriteFails fails every echo-redirect while answering everything
// else from the canned table.
type mirrorWriteFails struct {
	*shelltest.Channel
}

func (c *mirrorWriteFails) Execute(cmd string) (shell.Result, error) {
	result, err := c.Channel.Execute(cmd)
	if strings.HasPrefix(cmd, "echo ") {
		return shell.Result{Exit: 1, Stderr: "write error: No space left on device"}, nil
	}
	return result, err
}

func TestSweepIncludesDatabaseRows(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer db.Close()

	spec := job.JobSpec{
		ID:             "abc",
		JobscriptPath:  "/p/run.pbs",
		ExperimentPath: "/rds/exp/run1",
		State:          job.StateUnsubmitted,
	}
	require.NoError(t, store.Upsert(db, []job.JobSpec{spec}, store.Throw))

	fm := newFakeManager()
	fm.rerunMethod["abc"] = wm.Resubmitted

	ch := mirrorChannel(t, job.NewQueue())
	e := newTestEngine(t, ch, fm, db, Config{})
	require.NoError(t, e.Sweep())

	assert.Equal(t, []string{"abc"}, fm.reruns)

	row, err := store.Get(db, "abc")
	require.NoError(t, err)
	assert.Nil(t, row, "resubmission pops the database row")
}

func TestSweepAbortsOnLiveFetchFailure(t *testing.T) {
	fm := newFakeManager()
	fm.getJobsErr = errors.New("qstat: cannot connect to server")

	ch := &shelltest.Channel{}
	e := newTestEngine(t, ch, fm, nil, Config{})
	require.Error(t, e.Sweep())
	assert.Empty(t, ch.Executed, "nothing is mutated when the live queue is unreadable")
}

func TestSweepKillDetectionFailureIsNotFatal(t *testing.T) {
	j := &job.Job{
		JobSpec:     job.JobSpec{ID: "abc", State: job.StateQueued},
		SchedulerID: "7013474.pbs",
	}

	fm := newFakeManager()
	fm.killedErr = errors.New("tail: transport gone")

	tracked := job.NewQueue()
	tracked.Add(j)
	ch := mirrorChannel(t, tracked)

	e := newTestEngine(t, ch, fm, nil, Config{})
	require.NoError(t, e.Sweep())

	assert.Empty(t, fm.reruns, "unverifiable jobs are assumed not killed")
	assert.Equal(t, 1, writtenMirror(t, ch).Len())
}

func TestMissingAlerts(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer db.Close()

	specs := []job.JobSpec{
		{ID: "present", JobscriptPath: "/p/a.pbs", ExperimentPath: "/e/a", State: job.StateQueued},
		{ID: "vanished", JobscriptPath: "/p/b.pbs", ExperimentPath: "/e/b", State: job.StateQueued},
		{ID: "running", JobscriptPath: "/p/c.pbs", ExperimentPath: "/e/c", State: job.StateRunning},
	}
	require.NoError(t, store.Upsert(db, specs, store.Throw))

	fm := newFakeManager()
	fm.live.Add(&job.Job{JobSpec: job.JobSpec{ID: "present", State: job.StateQueued}, SchedulerID: "1.pbs"})

	require.NoError(t, MissingAlerts(db, fm, zerolog.Nop()))

	get := func(id string) *job.JobSpec {
		spec, err := store.Get(db, id)
		require.NoError(t, err)
		require.NotNil(t, spec)
		return spec
	}
	assert.Equal(t, job.StateQueued, get("present").State)
	assert.Equal(t, job.StateRunning, get("running").State)

	vanished := get("vanished")
	assert.Equal(t, job.StateAlert, vanished.State)
	assert.NotEmpty(t, vanished.Comment)
}

func TestDeleteDuplicates(t *testing.T) {
	live := job.NewQueue()
	live.Add(&job.Job{JobSpec: job.JobSpec{ID: "a", JobscriptPath: "/p/run.pbs"}, SchedulerID: "1.pbs"})
	live.Add(&job.Job{JobSpec: job.JobSpec{ID: "b", JobscriptPath: "/p/run.pbs"}, SchedulerID: "2.pbs"})
	live.Add(&job.Job{JobSpec: job.JobSpec{ID: "c", JobscriptPath: "/p/other.pbs"}, SchedulerID: "3.pbs"})
	live.Add(&job.Job{JobSpec: job.JobSpec{ID: "d"}, SchedulerID: "4.pbs"})
	live.Add(&job.Job{JobSpec: job.JobSpec{ID: "e"}, SchedulerID: "5.pbs"})

	fm := newFakeManager()
	deleted := DeleteDuplicates(fm, live, zerolog.Nop())

	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"2.pbs"}, fm.deletes, "first instance kept, jobs without a jobscript ignored")
}

func TestCheckStorage(t *testing.T) {
	fm := newFakeManager()
	fm.stats = map[string]wm.PartitionStats{
		"home": {
			Data:  wm.Usage{Used: "36.2GB", Total: "930GB", PercentUsed: 3.9},
			Files: wm.Usage{Used: "9800k", Total: "10000k", PercentUsed: 98},
		},
		"ephemeral": {
			Data:  wm.Usage{Used: "1.1TB", Total: "10.2TB", PercentUsed: 10.8},
			Files: wm.Usage{Used: "2067k", Total: "20480k", PercentUsed: 10.1},
		},
	}

	var buf strings.Builder
	log := zerolog.New(&buf)
	CheckStorage(fm, 90, log)

	out := buf.String()
	assert.Contains(t, out, "storage quota nearly full")
	assert.Contains(t, out, `"partition":"home"`)
	assert.Contains(t, out, `"element":"files"`)
	assert.NotContains(t, out, `"partition":"ephemeral"`)
}

package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), ".tracking", "jobs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSpec(id string) job.JobSpec {
	return job.JobSpec{
		ID:             id,
		ExperimentPath: "/rds/exp/" + id,
		JobscriptPath:  "/home/jdoe/" + id + ".pbs",
		Cluster:        job.ClusterCX3,
		Queue:          "v1_gpu72",
		State:          job.StateUnsubmitted,
		ModifiedTime:   time.Now(),
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := openTestDB(t)

	if err := Upsert(db, []job.JobSpec{testSpec("a")}, Update); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	spec, err := Get(db, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if spec == nil {
		t.Fatal("Get returned nil for existing job")
	}
	if spec.State != job.StateUnsubmitted {
		t.Errorf("State = %q", spec.State)
	}
	if spec.Cluster != job.ClusterCX3 {
		t.Errorf("Cluster = %q", spec.Cluster)
	}
	if spec.Name != "a" {
		t.Errorf("Name = %q, want experiment basename", spec.Name)
	}

	missing, err := Get(db, "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Error("Get should return nil for missing job")
	}
}

func TestUpsertConflictModes(t *testing.T) {
	db := openTestDB(t)

	original := testSpec("a")
	if err := Upsert(db, []job.JobSpec{original}, Throw); err != nil {
		t.Fatalf("initial insert failed: %v", err)
	}

	changed := original
	changed.State = job.StateQueued

	// skip: existing row untouched
	if err := Upsert(db, []job.JobSpec{changed}, Skip); err != nil {
		t.Fatalf("skip upsert failed: %v", err)
	}
	spec, _ := Get(db, "a")
	if spec.State != job.StateUnsubmitted {
		t.Errorf("skip should not change state, got %q", spec.State)
	}

	// update: row replaced
	if err := Upsert(db, []job.JobSpec{changed}, Update); err != nil {
		t.Fatalf("update upsert failed: %v", err)
	}
	spec, _ = Get(db, "a")
	if spec.State != job.StateQueued {
		t.Errorf("update should change state, got %q", spec.State)
	}

	// throw: whole batch fails, including the non-conflicting row
	if err := Upsert(db, []job.JobSpec{testSpec("b"), changed}, Throw); err == nil {
		t.Fatal("throw upsert should fail on conflict")
	}
	if b, _ := Get(db, "b"); b != nil {
		t.Error("failed batch should not persist any row")
	}
}

func TestUpsertIdempotentSkip(t *testing.T) {
	db := openTestDB(t)
	spec := testSpec("a")

	if err := Upsert(db, []job.JobSpec{spec}, Skip); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := Upsert(db, []job.JobSpec{spec}, Skip); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	all, err := All(db)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("double skip-upsert left %d rows, want 1", len(all))
	}
}

func TestUpsertInvalidPolicy(t *testing.T) {
	db := openTestDB(t)
	if err := Upsert(db, []job.JobSpec{testSpec("a")}, OnConflict("replace")); err == nil {
		t.Error("unknown conflict policy should fail")
	}
}

func TestUpdateState(t *testing.T) {
	db := openTestDB(t)
	if err := Upsert(db, []job.JobSpec{testSpec("a")}, Throw); err != nil {
		t.Fatal(err)
	}

	if err := UpdateState(db, "a", job.StateAlert, "missing from queue"); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	spec, _ := Get(db, "a")
	if spec.State != job.StateAlert {
		t.Errorf("State = %q", spec.State)
	}
	if spec.Comment != "missing from queue" {
		t.Errorf("Comment = %q", spec.Comment)
	}

	// empty comment leaves the old one in place
	if err := UpdateState(db, "a", job.StateQueued, ""); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	spec, _ = Get(db, "a")
	if spec.State != job.StateQueued || spec.Comment != "missing from queue" {
		t.Errorf("spec = %+v", spec)
	}
}

func TestPop(t *testing.T) {
	db := openTestDB(t)
	if err := Upsert(db, []job.JobSpec{testSpec("a")}, Throw); err != nil {
		t.Fatal(err)
	}

	spec, err := Pop(db, "a")
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if spec == nil || spec.ID != "a" {
		t.Fatalf("Pop returned %+v", spec)
	}
	if got, _ := Get(db, "a"); got != nil {
		t.Error("popped row should be gone")
	}

	if spec, _ := Pop(db, "a"); spec != nil {
		t.Error("second Pop should return nil")
	}
}

func TestByState(t *testing.T) {
	db := openTestDB(t)
	a, b := testSpec("a"), testSpec("b")
	b.State = job.StateQueued
	if err := Upsert(db, []job.JobSpec{a, b}, Throw); err != nil {
		t.Fatal(err)
	}

	queued, err := ByState(db, job.StateQueued)
	if err != nil {
		t.Fatalf("ByState failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "b" {
		t.Errorf("queued = %+v", queued)
	}
}

func TestOldSchemaMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	// Simulate a database created before the comment and cluster columns
	// existed.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		queue TEXT,
		project TEXT,
		jobscript_path TEXT NOT NULL,
		experiment_path TEXT NOT NULL,
		modified_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(
		`INSERT INTO jobs (id, state, jobscript_path, experiment_path) VALUES ('old', 'queued', '/p/job.pbs', '/rds/exp/old')`,
	); err != nil {
		t.Fatal(err)
	}
	db.Close()

	migrated, err := Open(path)
	if err != nil {
		t.Fatalf("Open on old schema failed: %v", err)
	}
	defer migrated.Close()

	spec, err := Get(migrated, "old")
	if err != nil {
		t.Fatalf("Get after migration failed: %v", err)
	}
	if spec == nil {
		t.Fatal("pre-migration row lost")
	}
	if spec.Cluster != job.ClusterUnknown {
		t.Errorf("migrated cluster = %q, want unknown default", spec.Cluster)
	}

	if err := UpdateState(migrated, "old", job.StateAlert, "note"); err != nil {
		t.Errorf("comment writes should work after migration: %v", err)
	}
}

func TestTrackingQueueRegister(t *testing.T) {
	db := openTestDB(t)
	tq, err := NewTrackingQueue(db, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	j := job.FromSpec(testSpec("a"))
	if err := tq.Register(j, Throw); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !tq.Queue().Contains("a") {
		t.Error("registered job missing from memory view")
	}
	if spec, _ := Get(db, "a"); spec == nil {
		t.Error("registered job missing from disk")
	}

	// Reload from disk: the set survives a restart.
	tq2, err := NewTrackingQueue(db, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !tq2.Queue().Contains("a") {
		t.Error("tracked set should survive reload")
	}
}

func TestTrackingQueueUpdateConflictWarns(t *testing.T) {
	db := openTestDB(t)
	tq, err := NewTrackingQueue(db, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	j := job.FromSpec(testSpec("a"))
	if err := tq.Register(j, Update); err != nil {
		t.Fatal(err)
	}
	// Re-registering under update must not fail.
	if err := tq.Register(j, Update); err != nil {
		t.Errorf("update re-registration should warn, not fail: %v", err)
	}
}

func TestTrackingQueuePop(t *testing.T) {
	db := openTestDB(t)
	tq, err := NewTrackingQueue(db, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := tq.Register(job.FromSpec(testSpec("a")), Throw); err != nil {
		t.Fatal(err)
	}

	j, err := tq.Pop("a")
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if j == nil || j.ID != "a" {
		t.Fatalf("Pop returned %+v", j)
	}
	if tq.Queue().Contains("a") {
		t.Error("popped job still in memory view")
	}
	if spec, _ := Get(db, "a"); spec != nil {
		t.Error("popped job still on disk")
	}
}

func TestTrackingQueuePullUpdated(t *testing.T) {
	db := openTestDB(t)
	tq, err := NewTrackingQueue(db, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := tq.Register(job.FromSpec(testSpec("a")), Throw); err != nil {
		t.Fatal(err)
	}

	// Mutate the row behind the view's back.
	if err := UpdateState(db, "a", job.StateAlert, "missing from queue"); err != nil {
		t.Fatal(err)
	}

	j, err := tq.PullUpdated("a")
	if err != nil {
		t.Fatalf("PullUpdated failed: %v", err)
	}
	if j == nil || j.State != job.StateAlert {
		t.Fatalf("PullUpdated returned %+v, want alert state", j)
	}
	if got := tq.Queue().Get("a"); got == nil || got.State != job.StateAlert {
		t.Error("in-memory view not refreshed")
	}

	// A deleted row drops out of both views.
	if _, err := Pop(db, "a"); err != nil {
		t.Fatal(err)
	}
	j, err = tq.PullUpdated("a")
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Errorf("PullUpdated returned %+v for a deleted row", j)
	}
	if tq.Queue().Contains("a") {
		t.Error("deleted row still in memory view")
	}
}

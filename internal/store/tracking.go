package store

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
)

// TrackingQueue is a Queue view over the tracking database: registrations
// land both in memory and on disk, so a crashed supervisor can rebuild its
// working set from the database alone.
type TrackingQueue struct {
	db  *sql.DB
	q   *job.Queue
	log zerolog.Logger
}

// NewTrackingQueue loads the tracked set from the database.
func NewTrackingQueue(db *sql.DB, log zerolog.Logger) (*TrackingQueue, error) {
	specs, err := All(db)
	if err != nil {
		return nil, err
	}
	q := job.NewQueue()
	for _, spec := range specs {
		q.Add(job.FromSpec(spec))
	}
	return &TrackingQueue{db: db, q: q, log: log}, nil
}

// Queue exposes the in-memory view.
func (t *TrackingQueue) Queue() *job.Queue { return t.q }

// Register adds a job to the in-memory queue and upserts it to disk. A
// disk conflict under the update policy is surfaced as a warning rather
// than a failure; the in-memory view is already consistent.
func (t *TrackingQueue) Register(j *job.Job, onConflict OnConflict) error {
	t.q.Add(j)
	if err := Upsert(t.db, []job.JobSpec{j.JobSpec}, onConflict); err != nil {
		if onConflict == Update {
			t.log.Warn().Err(err).Str("job", j.ID).Msg("tracked job not persisted")
			return nil
		}
		return err
	}
	return nil
}

// PullUpdated refreshes one job from the database, replacing the in-memory
// record. Returns nil when the row no longer exists.
func (t *TrackingQueue) PullUpdated(id string) (*job.Job, error) {
	spec, err := Get(t.db, id)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		t.q.Pop(id)
		return nil, nil
	}
	j := job.FromSpec(*spec)
	t.q.Add(j)
	return j, nil
}

// Pop removes a job from both views, returning it or nil.
func (t *TrackingQueue) Pop(id string) (*job.Job, error) {
	j := t.q.Pop(id)
	spec, err := Pop(t.db, id)
	if err != nil {
		return j, err
	}
	if j == nil && spec != nil {
		j = job.FromSpec(*spec)
	}
	return j, nil
}

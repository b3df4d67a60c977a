// Package store persists tracked jobs in a local SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/parse"
)

// OnConflict selects what an upsert does when a row with the same id
// already exists.
type OnConflict string

const (
	// Update replaces the existing row's mutable columns.
	Update OnConflict = "update"
	// Skip leaves the existing row untouched.
	Skip OnConflict = "skip"
	// Throw fails the whole batch.
	Throw OnConflict = "throw"
)

// Valid reports whether c is a known conflict policy.
func (c OnConflict) Valid() bool {
	switch c {
	case Update, Skip, Throw:
		return true
	}
	return false
}

const timeLayout = "2006-01-02 15:04:05"

// Open opens the tracking database at path, creating the file and schema
// if necessary.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create tracking dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		cluster TEXT NOT NULL DEFAULT 'unknown',
		queue TEXT,
		project TEXT,
		jobscript_path TEXT NOT NULL,
		experiment_path TEXT NOT NULL,
		comment TEXT,
		modified_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	// Migrations for databases written by older versions, which lack the
	// comment and cluster columns. The errors are duplicate-column
	// complaints when the column already exists, so they are ignored.
	_, _ = db.Exec(`ALTER TABLE jobs ADD COLUMN comment TEXT`)
	_, _ = db.Exec(`ALTER TABLE jobs ADD COLUMN cluster TEXT NOT NULL DEFAULT 'unknown'`)

	return nil
}

// Upsert writes the specs in one transaction. The conflict policy decides
// what happens to rows whose id already exists.
func Upsert(db *sql.DB, specs []job.JobSpec, onConflict OnConflict) error {
	if !onConflict.Valid() {
		return fmt.Errorf("invalid conflict policy %q", onConflict)
	}

	query := `INSERT INTO jobs (id, state, cluster, queue, project, jobscript_path, experiment_path, comment, modified_time)
	 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	switch onConflict {
	case Update:
		query += ` ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			cluster = EXCLUDED.cluster,
			queue = EXCLUDED.queue,
			project = EXCLUDED.project,
			jobscript_path = EXCLUDED.jobscript_path,
			experiment_path = EXCLUDED.experiment_path,
			modified_time = EXCLUDED.modified_time`
	case Skip:
		query += ` ON CONFLICT (id) DO NOTHING`
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, spec := range specs {
		modified := spec.ModifiedTime
		if modified.IsZero() {
			modified = time.Now()
		}
		_, err := tx.Exec(query,
			spec.ID, string(spec.State), string(spec.Cluster),
			nullable(spec.Queue), nullable(spec.Project),
			spec.JobscriptPath, spec.ExperimentPath,
			nullable(spec.Comment), modified.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("upsert job %s: %w", spec.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateState transitions a tracked job, refreshing modified_time. An
// empty comment leaves the existing comment alone.
func UpdateState(db *sql.DB, jobID string, state job.State, comment string) error {
	now := time.Now().UTC().Format(timeLayout)
	var err error
	if comment != "" {
		_, err = db.Exec(
			`UPDATE jobs SET state = ?, comment = ?, modified_time = ? WHERE id = ?`,
			string(state), comment, now, jobID,
		)
	} else {
		_, err = db.Exec(
			`UPDATE jobs SET state = ?, modified_time = ? WHERE id = ?`,
			string(state), now, jobID,
		)
	}
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return nil
}

// Pop removes a tracked job and returns it, or nil when absent.
func Pop(db *sql.DB, id string) (*job.JobSpec, error) {
	spec, err := Get(db, id)
	if err != nil || spec == nil {
		return spec, err
	}
	if _, err := db.Exec(`DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return spec, nil
}

// Get retrieves a tracked job by id, or nil when absent.
func Get(db *sql.DB, id string) (*job.JobSpec, error) {
	row := db.QueryRow(
		`SELECT id, state, cluster, queue, project, jobscript_path, experiment_path, comment, modified_time
		 FROM jobs WHERE id = ?`, id,
	)
	return scanSpec(row)
}

// All returns every tracked job, oldest registration first.
func All(db *sql.DB) ([]job.JobSpec, error) {
	rows, err := db.Query(
		`SELECT id, state, cluster, queue, project, jobscript_path, experiment_path, comment, modified_time
		 FROM jobs ORDER BY modified_time ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []job.JobSpec
	for rows.Next() {
		spec, err := scanSpecRow(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, rows.Err()
}

// ByState returns tracked jobs in the given state.
func ByState(db *sql.DB, state job.State) ([]job.JobSpec, error) {
	rows, err := db.Query(
		`SELECT id, state, cluster, queue, project, jobscript_path, experiment_path, comment, modified_time
		 FROM jobs WHERE state = ? ORDER BY modified_time ASC, id ASC`,
		string(state),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []job.JobSpec
	for rows.Next() {
		spec, err := scanSpecRow(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSpec(row *sql.Row) (*job.JobSpec, error) {
	spec, err := scanSpecRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return spec, err
}

func scanSpecRow(row scannable) (*job.JobSpec, error) {
	var spec job.JobSpec
	var state, cluster string
	var queue, project, comment sql.NullString
	var modified string

	err := row.Scan(&spec.ID, &state, &cluster, &queue, &project,
		&spec.JobscriptPath, &spec.ExperimentPath, &comment, &modified)
	if err != nil {
		return nil, err
	}

	spec.State = job.State(state)
	spec.Cluster = job.ParseCluster(cluster)
	if queue.Valid {
		spec.Queue = queue.String
	}
	if project.Valid {
		spec.Project = project.String
	}
	if comment.Valid {
		spec.Comment = comment.String
	}
	if t, err := parse.DateTime(modified); err == nil {
		spec.ModifiedTime = t
	}
	if spec.ExperimentPath != "" {
		spec.Name = filepath.Base(spec.ExperimentPath)
	}

	return &spec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

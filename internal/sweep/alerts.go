package sweep

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/wm"
)

// MissingAlerts scans the tracking database for jobs that claim to be
// queued but are absent from the live queue, and flips them to the alert
// state with a diagnostic comment. Intended to run on the cluster head
// node so corrections land without a client connection.
func MissingAlerts(db *sql.DB, adapter wm.WorkloadManager, log zerolog.Logger) error {
	queued, err := store.ByState(db, job.StateQueued)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		return nil
	}

	live, err := adapter.GetJobs()
	if err != nil {
		return fmt.Errorf("fetch live queue: %w", err)
	}

	for _, spec := range queued {
		// Refresh: the row may have moved on since the scan began.
		current, err := store.Get(db, spec.ID)
		if err != nil {
			return err
		}
		if current == nil || current.State != job.StateQueued {
			continue
		}
		if live.Find(job.FromSpec(*current)) != nil {
			continue
		}
		comment := "tracked as queued but missing from the live queue"
		if err := store.UpdateState(db, current.ID, job.StateAlert, comment); err != nil {
			return err
		}
		log.Warn().Str("job", current.ID).Str("name", current.Name).Msg("queued job missing from live queue, flagged")
	}
	return nil
}

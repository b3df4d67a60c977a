package sweep

import (
	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/wm"
)

// DeleteDuplicates removes live jobs sharing a jobscript path, keeping the
// first encountered. Names are not unique, so the jobscript path is the
// duplicate key. Individual deletion failures are logged and swallowed so
// one bad delete doesn't abort the batch.
func DeleteDuplicates(adapter wm.WorkloadManager, live *job.Queue, log zerolog.Logger) int {
	seen := map[string]bool{}
	deleted := 0
	for _, j := range live.Jobs() {
		if j.JobscriptPath == "" {
			continue
		}
		if !seen[j.JobscriptPath] {
			seen[j.JobscriptPath] = true
			continue
		}
		if err := adapter.DeleteJob(j.SchedulerID); err != nil {
			log.Warn().Err(err).Str("scheduler_id", j.SchedulerID).Msg("could not delete duplicate")
			continue
		}
		deleted++
		log.Info().Str("scheduler_id", j.SchedulerID).Str("jobscript", j.JobscriptPath).Msg("duplicate job deleted")
	}
	return deleted
}

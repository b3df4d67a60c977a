package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schedtools/schedtools/internal/job"
)

// mirrorRecord is one entry of the durable tracked-job mirror. Beyond the
// spec fields it carries what kill-detection and walltime classification
// need once the job has fallen off the live queue.
type mirrorRecord struct {
	job.JobSpec
	SchedulerID     string     `json:"scheduler_id,omitempty"`
	ErrorPath       string     `json:"error_path,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	WalltimeSeconds int64      `json:"walltime_seconds,omitempty"`
}

// encodeTracked serializes the tracked queue as a JSON array.
func encodeTracked(q *job.Queue) ([]byte, error) {
	records := make([]mirrorRecord, 0, q.Len())
	for _, j := range q.Jobs() {
		records = append(records, mirrorRecord{
			JobSpec:         j.JobSpec,
			SchedulerID:     j.SchedulerID,
			ErrorPath:       j.ErrorPath,
			StartTime:       j.StartTime,
			WalltimeSeconds: int64(j.ResourceRequest.Walltime.Seconds()),
		})
	}
	return json.Marshal(records)
}

// decodeTracked parses a mirror payload. Absent or empty content means no
// tracked jobs. Anything preceding the first '[' (prompt junk leaked by an
// interactive shell) is discarded, as qstat parsing does.
func decodeTracked(data []byte) (*job.Queue, error) {
	q := job.NewQueue()
	if start := bytes.IndexByte(data, '['); start >= 0 {
		data = data[start:]
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return q, nil
	}
	var records []mirrorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode tracked mirror: %w", err)
	}
	for _, r := range records {
		j := &job.Job{
			JobSpec:     r.JobSpec,
			SchedulerID: r.SchedulerID,
			ErrorPath:   r.ErrorPath,
			StartTime:   r.StartTime,
		}
		j.ResourceRequest.Walltime = time.Duration(r.WalltimeSeconds) * time.Second
		q.Add(j)
	}
	return q, nil
}

// writeFileAtomic writes via a temp file in the same directory plus a
// rename, so a crashed writer never leaves a torn cache.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

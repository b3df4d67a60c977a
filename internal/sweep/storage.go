package sweep

import (
	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/wm"
)

// CheckStorage raises an error-level log for every quota reading above the
// threshold percentage. The error logs feed whatever notification sink is
// attached to the logger.
func CheckStorage(adapter wm.WorkloadManager, threshold float64, log zerolog.Logger) {
	for partition, stats := range adapter.GetStorageStats() {
		for element, usage := range map[string]wm.Usage{"data": stats.Data, "files": stats.Files} {
			if usage.PercentUsed > threshold {
				log.Error().
					Str("partition", partition).
					Str("element", element).
					Float64("percent_used", usage.PercentUsed).
					Str("used", usage.Used).
					Str("total", usage.Total).
					Msg("storage quota nearly full")
			}
		}
	}
}

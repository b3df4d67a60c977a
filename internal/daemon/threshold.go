package daemon

import (
	"time"

	"github.com/rs/zerolog"
)

// A sweep only requeues a job it gets to look at before the scheduler
// kills it. The completion threshold must therefore leave at least one
// comfortable sweep interval between a job crossing the threshold and its
// walltime running out.
const (
	DefaultExpectedWalltime = 72 * time.Hour
	DefaultSafeBuffer       = 1.5
)

// SafeThreshold validates a completion threshold against the sweep
// interval and lowers it when the remaining walltime margin is too thin,
// warning about the correction.
func SafeThreshold(threshold float64, interval, expectedWalltime time.Duration, safeBuffer float64, log zerolog.Logger) float64 {
	if expectedWalltime <= 0 {
		expectedWalltime = DefaultExpectedWalltime
	}
	if safeBuffer <= 0 {
		safeBuffer = DefaultSafeBuffer
	}

	margin := (1 - threshold/100) * expectedWalltime.Seconds()
	if margin >= safeBuffer*interval.Seconds() {
		return threshold
	}

	corrected := (1 - safeBuffer*interval.Seconds()/expectedWalltime.Seconds()) * 100
	log.Warn().
		Float64("threshold", threshold).
		Float64("corrected", corrected).
		Dur("interval", interval).
		Msg("threshold leaves too little margin before walltime, lowering it")
	return corrected
}

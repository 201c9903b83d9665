package worker

import "time"

// maxStartDelay caps the pre-connect backoff at five minutes.
const maxStartDelay = 300

// StartDelay computes the pre-connect sleep from the daemon's per-user
// error counter: min(errors³−1, 300) seconds, clamped at zero. Cubic
// growth keeps one-off faults cheap (0s for the first two attempts) and
// reaches the ceiling by the seventh consecutive error.
func StartDelay(errorCount int) time.Duration {
	if errorCount <= 0 {
		return 0
	}

	seconds := errorCount*errorCount*errorCount - 1
	if seconds < 0 {
		seconds = 0
	}
	if seconds > maxStartDelay {
		seconds = maxStartDelay
	}
	return time.Duration(seconds) * time.Second
}

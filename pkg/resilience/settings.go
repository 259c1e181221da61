package resilience

import "time"

const (
	defaultInterval         = time.Minute
	defaultOpenTimeout      = 30 * time.Second
	defaultFailureThreshold = 5
	defaultHalfOpenProbes   = 1
)

// BuildSettings turns config values into Settings. Anything zero or negative
// takes the package default.
func BuildSettings(name string, interval, timeout time.Duration, failureThreshold, successThreshold int) Settings {
	return Settings{
		Name:             name,
		Interval:         durationOr(interval, defaultInterval),
		Timeout:          durationOr(timeout, defaultOpenTimeout),
		FailureThreshold: countOr(failureThreshold, defaultFailureThreshold),
		SuccessThreshold: countOr(successThreshold, defaultHalfOpenProbes),
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func countOr(n int, fallback uint32) uint32 {
	if n > 0 {
		return uint32(n)
	}
	return fallback
}

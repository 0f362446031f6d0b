package tool

import (
	"golang.org/x/time/rate"
)

// RateLimit bounds how often a single tool may run.
type RateLimit struct {
	// PerSecond is the sustained call rate. Zero or negative disables limiting.
	PerSecond float64 `yaml:"per_second"`
	// Burst is the number of calls allowed at once. Defaults to 1.
	Burst int `yaml:"burst"`
}

func newLimiter(cfg RateLimit) *rate.Limiter {
	if cfg.PerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)
}

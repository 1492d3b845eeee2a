package resilience

import "time"

// RetryPolicy bounds how often a temporary backend failure is retried.
// Local model servers answer slowly after a restart, so backoff grows to a
// couple of seconds before giving up.
type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// BreakerPolicy trips the per-operation circuit once FailureRatio of at least
// MinRequests calls failed, and keeps it open for OpenFor.
type BreakerPolicy struct {
	Enabled      bool
	MinRequests  uint32
	FailureRatio float64
	OpenFor      time.Duration
	HalfOpenMax  uint32
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			Attempts:   3,
			Initial:    250 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
		Breaker: BreakerPolicy{
			Enabled:      true,
			MinRequests:  5,
			FailureRatio: 0.6,
			OpenFor:      20 * time.Second,
			HalfOpenMax:  1,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	r := c.Retry
	if r.Attempts <= 0 {
		r.Attempts = def.Retry.Attempts
	}
	if r.Initial <= 0 {
		r.Initial = def.Retry.Initial
	}
	if r.Max < r.Initial {
		r.Max = max(r.Initial, def.Retry.Max)
	}
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}

	b := c.Breaker
	if b.MinRequests == 0 {
		b.MinRequests = def.Breaker.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.Breaker.FailureRatio
	}
	if b.OpenFor <= 0 {
		b.OpenFor = def.Breaker.OpenFor
	}
	if b.HalfOpenMax == 0 {
		b.HalfOpenMax = def.Breaker.HalfOpenMax
	}
	return Config{Retry: r, Breaker: b}
}

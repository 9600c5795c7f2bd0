package resilience

import (
	"time"
)

// Tunables carries the resilience knobs surfaced in application
// configuration. Values at or below zero keep the built-in defaults, so a
// zero Tunables behaves like DefaultRetryConfig and
// DefaultCircuitBreakerConfig.
type Tunables struct {
	BreakerFailureThreshold int
	BreakerResetSecs        int

	RetryMaxAttempts      int
	RetryInitialBackoffMs int
	RetryMaxBackoffMs     int
	RetryMultiplier       float64
	RetryJitter           float64
}

// Retry converts the retry knobs to a RetryConfig.
func (t Tunables) Retry() RetryConfig {
	cfg := DefaultRetryConfig()
	if t.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = t.RetryMaxAttempts
	}
	if t.RetryInitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(t.RetryInitialBackoffMs) * time.Millisecond
	}
	if t.RetryMaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(t.RetryMaxBackoffMs) * time.Millisecond
	}
	if t.RetryMultiplier > 0 {
		cfg.Multiplier = t.RetryMultiplier
	}
	if t.RetryJitter > 0 {
		cfg.JitterFraction = t.RetryJitter
	}
	return cfg
}

// Breaker converts the breaker knobs to a CircuitBreakerConfig.
func (t Tunables) Breaker() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if t.BreakerFailureThreshold > 0 {
		cfg.FailureThreshold = t.BreakerFailureThreshold
	}
	if t.BreakerResetSecs > 0 {
		cfg.ResetTimeout = time.Duration(t.BreakerResetSecs) * time.Second
	}
	return cfg
}

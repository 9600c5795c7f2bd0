package resilience

import (
	"testing"
	"time"
)

func TestTunables_ZeroKeepsDefaults(t *testing.T) {
	var tun Tunables

	retry := tun.Retry()
	def := DefaultRetryConfig()
	if retry.MaxAttempts != def.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", def.MaxAttempts, retry.MaxAttempts)
	}
	if retry.InitialBackoff != def.InitialBackoff {
		t.Errorf("expected %v initial backoff, got %v", def.InitialBackoff, retry.InitialBackoff)
	}
	if retry.MaxBackoff != def.MaxBackoff {
		t.Errorf("expected %v max backoff, got %v", def.MaxBackoff, retry.MaxBackoff)
	}
	if retry.Multiplier != def.Multiplier {
		t.Errorf("expected multiplier %v, got %v", def.Multiplier, retry.Multiplier)
	}
	if retry.JitterFraction != def.JitterFraction {
		t.Errorf("expected jitter %v, got %v", def.JitterFraction, retry.JitterFraction)
	}

	breaker := tun.Breaker()
	if breaker.FailureThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", breaker.FailureThreshold)
	}
	if breaker.ResetTimeout != 30*time.Second {
		t.Errorf("expected 30s reset, got %v", breaker.ResetTimeout)
	}
	if breaker.HalfOpenMaxProbes != 1 {
		t.Errorf("expected 1 probe, got %d", breaker.HalfOpenMaxProbes)
	}
}

func TestTunables_OverridesApply(t *testing.T) {
	tun := Tunables{
		BreakerFailureThreshold: 10,
		BreakerResetSecs:        60,
		RetryMaxAttempts:        5,
		RetryInitialBackoffMs:   100,
		RetryMaxBackoffMs:       2000,
		RetryMultiplier:         3.0,
		RetryJitter:             0.5,
	}

	retry := tun.Retry()
	if retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", retry.MaxAttempts)
	}
	if retry.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected 100ms initial backoff, got %v", retry.InitialBackoff)
	}
	if retry.MaxBackoff != 2*time.Second {
		t.Errorf("expected 2s max backoff, got %v", retry.MaxBackoff)
	}
	if retry.Multiplier != 3.0 {
		t.Errorf("expected multiplier 3.0, got %v", retry.Multiplier)
	}
	if retry.JitterFraction != 0.5 {
		t.Errorf("expected jitter 0.5, got %v", retry.JitterFraction)
	}

	breaker := tun.Breaker()
	if breaker.FailureThreshold != 10 {
		t.Errorf("expected threshold 10, got %d", breaker.FailureThreshold)
	}
	if breaker.ResetTimeout != time.Minute {
		t.Errorf("expected 1m reset, got %v", breaker.ResetTimeout)
	}
}

func TestTunables_NegativeKeepsDefaults(t *testing.T) {
	tun := Tunables{
		BreakerFailureThreshold: -1,
		RetryMaxAttempts:        -3,
		RetryJitter:             -0.5,
	}

	if got := tun.Retry().MaxAttempts; got != 3 {
		t.Errorf("expected default 3 attempts, got %d", got)
	}
	if got := tun.Retry().JitterFraction; got != 0.25 {
		t.Errorf("expected default jitter 0.25, got %v", got)
	}
	if got := tun.Breaker().FailureThreshold; got != 5 {
		t.Errorf("expected default threshold 5, got %d", got)
	}
}

package session

import (
	mathrand "math/rand/v2"
	"time"
)

// RetryPolicy bounds the reconnect loop of a session.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         time.Duration
	ConnectTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		BaseDelay:      2 * time.Second,
		MaxDelay:       30 * time.Second,
		Jitter:         500 * time.Millisecond,
		ConnectTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = def.ConnectTimeout
	}
	return p
}

// Backoff returns the wait before the given attempt (starting at 1):
// exponential from BaseDelay, capped at MaxDelay, plus up to Jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.BaseDelay
	for i := 1; i < attempt && backoff < p.MaxDelay; i++ {
		if backoff > p.MaxDelay/2 {
			backoff = p.MaxDelay
			break
		}
		backoff *= 2
	}
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}
	if p.Jitter > 0 {
		backoff += time.Duration(mathrand.Int64N(int64(p.Jitter) + 1))
	}
	return backoff
}

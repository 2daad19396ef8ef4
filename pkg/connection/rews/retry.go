package rews

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/storefront/adminsync/pkg/constants"
)

// Retryer decides whether and when the supervisor dials again after a failed
// attempt. attempt is 0-based: 0 is the first retry after the initial dial.
type Retryer interface {
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
	// Reset is called once a dial succeeds.
	Reset()
}

// FixedDelayRetryer waits the same Delay before each of MaxRetries retries.
type FixedDelayRetryer struct {
	Delay time.Duration
	// MaxRetries bounds the retries; 0 retries forever.
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

// DefaultRetryer returns the policy used when none is configured: a bounded
// number of attempts, evenly spaced.
func DefaultRetryer() Retryer {
	return NewFixedDelayRetryer(constants.DefaultReconnectDelay, constants.DefaultReconnectAttempts)
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}

// ExponentialBackoffRetryer grows the delay by Multiplier per attempt, capped
// at MaxDelay, with optional +/- JitterFactor jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries bounds the retries; 0 retries forever.
	MaxRetries   int
	Jitter       bool
	JitterFactor float64
}

func NewExponentialBackoffRetryer(maxRetries int) *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   maxRetries,
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // jitter, not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

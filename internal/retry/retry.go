// Package retry provides exponential backoff with jitter for startup-time
// dependencies (database, redis). Request-path code does not retry; callers of
// the engines own their retry policy.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration // 0 = uncapped

	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Startup is the policy used while waiting for backing services at boot.
var Startup = Policy{Attempts: 6, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0, v%n < n
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn until it succeeds, returns a *PermanentError, the attempts are
// used up, or ctx is cancelled. The delay doubles after every failure with
// +-25% jitter.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == attempts {
			break
		}

		jitter := delay / 4
		wait := delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

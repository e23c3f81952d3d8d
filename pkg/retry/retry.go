// Package retry retries transient failures while connecting to backing stores.
// Generated-SQL attempts are never retried here; the ask loop owns that budget.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; +/- fraction applied to each delay
	// MaxSameErrorType stops retrying after this many consecutive failures of one kind.
	MaxSameErrorType int
}

// DefaultConfig suits a quick operation against a store that is already up:
// 3 retries from 100ms, capped at 5s.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// ConnectConfig waits longer for a store that may still be starting,
// as happens when the service and its databases come up together.
func ConnectConfig() *Config {
	return &Config{
		MaxRetries:       6,
		InitialDelay:     250 * time.Millisecond,
		MaxDelay:         8 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.2,
		MaxSameErrorType: 7,
	}
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

func nextDelay(cfg *Config, delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * cfg.Multiplier)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// wait sleeps for delay or until ctx is done.
func wait(ctx context.Context, delay time.Duration) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds or the retries are used up, returning the last error.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value, such as opening a client.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if werr := wait(ctx, applyJitter(delay, cfg.JitterFactor)); werr != nil {
				return result, werr
			}
			delay = nextDelay(cfg, delay)
		}
	}

	return result, lastErr
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"the database system is starting up",
	"loading the dataset in memory", // redis LOADING
	"deadlock",
	"network is unreachable",
	"service unavailable",
	"connectivity",
	"429",
	"502",
	"503",
	"504",
}

// IsRetryable reports whether err looks transient. An error that implements
// RetryableError anywhere in its chain decides for itself; otherwise the
// message is matched against known transient failures. Context errors never retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// classifyErrorType buckets an error so repeated failures of one kind can be detected.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}
	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "429"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}
	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "starting up"), strings.Contains(errStr, "loading"):
		return "starting"
	case strings.Contains(errStr, "no such host"):
		return "dns"
	}
	return "unknown"
}

// DoIfRetryable retries only transient errors. A permanent error (bad
// credentials, unknown database) returns at once, and MaxSameErrorType
// consecutive failures of one kind are treated as permanent.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	var lastType string
	sameType := 0
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if t := classifyErrorType(err); t == lastType {
			sameType++
		} else {
			lastType, sameType = t, 1
		}
		if cfg.MaxSameErrorType > 0 && sameType >= cfg.MaxSameErrorType {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			if werr := wait(ctx, applyJitter(delay, cfg.JitterFactor)); werr != nil {
				return werr
			}
			delay = nextDelay(cfg, delay)
		}
	}

	return lastErr
}

package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options controls the exponential backoff executor.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       int

	// OnRetry, if set, is invoked once per retried attempt.
	OnRetry func()
}

// DefaultOptions mirror the upstream rate limits we usually run against.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Factor < 2 {
		o.Factor = 2
	}
	return o
}

// Do executes fn up to opts.MaxRetries times, sleeping with capped exponential
// backoff between attempts. Only errors classified as retryable are retried;
// the last attempt's error is returned unchanged.
func Do[T any](ctx context.Context, logger *zap.Logger, opts Options, name string, fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.normalized()

	var zero T
	var lastErr error
	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !Retryable(err) || attempt == opts.MaxRetries {
			return zero, err
		}

		logger.Warn("retrying after failure",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if opts.OnRetry != nil {
			opts.OnRetry()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay *= time.Duration(opts.Factor)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return zero, lastErr
}

// nonRetryableMarkers identify data the chain reports as genuinely absent:
// skipped slots, pruned history, unknown blocks. These must surface
// immediately so callers can treat them as "nothing to do".
var nonRetryableMarkers = []string{
	"skipped",
	"not found",
	"missing in long-term storage",
}

// retryableMarkers are transient upstream conditions worth backing off on.
var retryableMarkers = []string{
	"429", "502", "503", "504",
	"rate limit",
	"timeout",
	"service unavailable",
	"too many requests",
	"unable to complete request",
}

// retryableRPCCodes are vendor JSON-RPC codes for transient throttling.
var retryableRPCCodes = map[int]bool{
	-32005: true, // request rate limited
	-32603: true, // internal error, usually a flaky upstream
	429:    true,
	502:    true,
	503:    true,
	504:    true,
}

type codedError interface {
	ErrorCode() int
}

// Retryable classifies err. Structured codes are checked first, message
// substrings as a fallback; non-retryable markers always win. Kept in one
// place so the heuristic can be swapped for structured codes without touching
// call sites.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}

	var coded codedError
	if errors.As(err, &coded) && retryableRPCCodes[coded.ErrorCode()] {
		return true
	}

	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Permanent reports whether err carries one of the absent-data markers.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

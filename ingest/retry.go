package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/paragraf/paragraf/embed"
)

// TransientError marks failures worth retrying: network errors,
// timeouts and 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError is a 429, optionally carrying the server's requested
// wait from Retry-After.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError marks failures retrying cannot fix: other 4xx, auth
// and validation errors.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// httpStatusError lets sync code hand a bare status code to Classify.
type httpStatusError struct {
	status     int
	url        string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.status, e.url)
}

// Classify wraps err in one of the retry categories. Already-classified
// errors and context cancellation pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var transient *TransientError
	var rateLimit *RateLimitError
	var permanent *PermanentError
	if errors.As(err, &transient) || errors.As(err, &rateLimit) || errors.As(err, &permanent) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(err, statusErr.status, statusErr.retryAfter)
	}
	var apiErr *embed.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(err, apiErr.StatusCode, apiErr.RetryAfter)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &TransientError{Err: err}
	}
	return &PermanentError{Err: err}
}

func classifyStatus(err error, status int, retryAfter time.Duration) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Err: err, RetryAfter: retryAfter}
	case status >= 500:
		return &TransientError{Err: err}
	default:
		return &PermanentError{Err: err}
	}
}

// RetryPolicy controls backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64 // fraction of the delay, ±
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 0.5s
// base doubling up to 30s, ±25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
		Jitter:      0.25,
	}
}

// RetryPolicyFromEnv reads PARAGRAF_RETRY_MAX_ATTEMPTS,
// PARAGRAF_RETRY_BACKOFF_BASE, PARAGRAF_RETRY_BACKOFF_MAX (seconds)
// and PARAGRAF_RETRY_JITTER over the defaults.
func RetryPolicyFromEnv() RetryPolicy {
	p := DefaultRetryPolicy()
	if v, err := strconv.Atoi(os.Getenv("PARAGRAF_RETRY_MAX_ATTEMPTS")); err == nil && v > 0 {
		p.MaxAttempts = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("PARAGRAF_RETRY_BACKOFF_BASE"), 64); err == nil && v > 0 {
		p.BackoffBase = time.Duration(v * float64(time.Second))
	}
	if v, err := strconv.ParseFloat(os.Getenv("PARAGRAF_RETRY_BACKOFF_MAX"), 64); err == nil && v > 0 {
		p.BackoffMax = time.Duration(v * float64(time.Second))
	}
	if v, err := strconv.ParseFloat(os.Getenv("PARAGRAF_RETRY_JITTER"), 64); err == nil && v >= 0 {
		p.Jitter = v
	}
	return p
}

// Delay returns the backoff before the given retry (attempt counts
// from 1). A rate-limit Retry-After longer than the computed backoff
// wins.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffMax {
			delay = p.BackoffMax
			break
		}
	}
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) && rateLimit.RetryAfter > delay {
		delay = rateLimit.RetryAfter
	}
	if p.Jitter > 0 {
		f := 1 + p.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * f)
	}
	if delay > p.BackoffMax {
		delay = p.BackoffMax
	}
	return delay
}

// Do runs fn with retries per the policy. Permanent errors and context
// cancellation abort immediately; the last classified error is
// returned after exhaustion.
func Do(ctx context.Context, logger *slog.Logger, op string, p RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := Classify(fn())
		if err == nil {
			return nil
		}
		lastErr = err

		var permanent *PermanentError
		if errors.As(err, &permanent) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt, err)
		logger.Warn("retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}

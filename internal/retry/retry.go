// Package retry provides error classification and retry with backoff for
// API calls and file transfers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/curtbushko/zoom-recording-downloader/internal/ratelimit"
)

// ErrorType represents different categories of errors for retry logic
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeClient     ErrorType = "client"
	ErrorTypeFilesystem ErrorType = "filesystem"
	ErrorTypeCanceled   ErrorType = "canceled"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Transient reports whether the error is worth another attempt against the
// attempt budget. Rate limits are retried separately and are not transient.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer:
		return true
	}
	return false
}

// Fatal reports whether the error makes every later request fail too
func (t ErrorType) Fatal() bool {
	return t == ErrorTypeAuth
}

// Classified is implemented by errors that know their own category
type Classified interface {
	ErrorType() ErrorType
}

// RetryAfterError is implemented by rate limit errors carrying a server hint
type RetryAfterError interface {
	RetryAfter() time.Duration
}

// ClassifyError classifies an error into an ErrorType for retry logic
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}

	var classified Classified
	if errors.As(err, &classified) {
		return classified.ErrorType()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

// ClassifyHTTPError classifies HTTP status codes into error types
func ClassifyHTTPError(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized:
		return ErrorTypeAuth
	case statusCode == http.StatusRequestTimeout:
		return ErrorTypeTimeout
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClient
	case statusCode >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeUnknown
	}
}

// RetryConfig holds configuration for retry strategies
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// JitterPercent spreads each delay by up to ± this share (0-100)
	JitterPercent int

	// RateLimitDelay is the first wait after a rate limit response without
	// a Retry-After hint. Later ones back off from there.
	RateLimitDelay time.Duration
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterPercent:  25,
		RateLimitDelay: time.Second,
	}
}

// ValidateRetryConfig validates a retry configuration
func ValidateRetryConfig(config RetryConfig) error {
	if config.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if config.BaseDelay < 0 {
		return fmt.Errorf("base_delay cannot be negative")
	}
	if config.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be >= 1.0")
	}
	if config.MaxDelay > 0 && config.MaxDelay < config.BaseDelay {
		return fmt.Errorf("max_delay cannot be less than base_delay")
	}
	if config.JitterPercent < 0 || config.JitterPercent > 100 {
		return fmt.Errorf("jitter_percent must be between 0 and 100")
	}
	return nil
}

// Backoff returns base * multiplier^n capped at MaxDelay, before jitter
func (c RetryConfig) Backoff(base time.Duration, n int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	multiplier := c.Multiplier
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	delay := float64(base) * math.Pow(multiplier, float64(n))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Jitter spreads delay by up to ±JitterPercent
func (c RetryConfig) Jitter(delay time.Duration) time.Duration {
	if c.JitterPercent <= 0 || delay <= 0 {
		return delay
	}
	spread := float64(delay) * float64(c.JitterPercent) / 100.0
	jittered := float64(delay) + (rand.Float64()-0.5)*2*spread
	if jittered < 0 {
		jittered = float64(delay) * 0.1
	}
	return time.Duration(jittered)
}

// ExhaustedError is returned when a transient error outlives the attempt budget
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Retrier runs operations under a retry policy and a shared rate limit gate.
// It is safe for concurrent use.
type Retrier struct {
	config RetryConfig
	gate   *ratelimit.Gate

	// OnRetry, when set, is called before every wait
	OnRetry func(errorType ErrorType, delay time.Duration)
}

// NewRetrier creates a Retrier. gate may be nil.
func NewRetrier(config RetryConfig, gate *ratelimit.Gate) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &Retrier{config: config, gate: gate}
}

// Config returns the retry configuration
func (r *Retrier) Config() RetryConfig {
	return r.config
}

// Do runs op until it succeeds or fails for good.
//
// Rate limit errors pause the shared gate for every caller and never use up
// an attempt. Transient errors use up attempts with exponential backoff;
// running out yields *ExhaustedError. Anything else is returned as is.
// Cancellation is checked before every attempt and during every wait.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	rateLimited := 0

	for {
		if err := r.gate.Wait(ctx); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		errorType := ClassifyError(err)
		switch {
		case errorType == ErrorTypeRateLimit:
			delay := r.config.Backoff(r.config.RateLimitDelay, rateLimited)
			var hinted RetryAfterError
			if errors.As(err, &hinted) && hinted.RetryAfter() > 0 {
				delay = hinted.RetryAfter()
			} else {
				delay = r.config.Jitter(delay)
			}
			rateLimited++
			r.notify(errorType, delay)
			if r.gate == nil {
				if err := sleep(ctx, delay); err != nil {
					return err
				}
				continue
			}
			r.gate.Pause(delay)

		case errorType.Transient():
			attempts++
			if attempts >= r.config.MaxAttempts {
				return &ExhaustedError{Attempts: attempts, Err: err}
			}
			delay := r.config.Jitter(r.config.Backoff(r.config.BaseDelay, attempts-1))
			r.notify(errorType, delay)
			if err := sleep(ctx, delay); err != nil {
				return err
			}

		default:
			return err
		}
	}
}

func (r *Retrier) notify(errorType ErrorType, delay time.Duration) {
	if r.OnRetry != nil {
		r.OnRetry(errorType, delay)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

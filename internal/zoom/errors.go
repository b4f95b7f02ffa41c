package zoom

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
)

// AuthError represents authentication-related errors. It is fatal for the run.
type AuthError struct {
	Type   string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %s (%v)", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error %s: %s", e.Type, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) ErrorType() retry.ErrorType { return retry.ErrorTypeAuth }

// RateLimitError is returned for HTTP 429. Wait is zero when Zoom sent
// no hint.
type RateLimitError struct {
	Wait  time.Duration
	Limit string
}

func (e *RateLimitError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("rate limited (%s), retry after %v", e.Limit, e.Wait)
	}
	return fmt.Sprintf("rate limited (%s)", e.Limit)
}

func (e *RateLimitError) ErrorType() retry.ErrorType { return retry.ErrorTypeRateLimit }

func (e *RateLimitError) RetryAfter() time.Duration { return e.Wait }

// APIError represents a non-2xx response. Code and Message come from Zoom's
// JSON error body when there is one.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("zoom API error %d (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("zoom API error: HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *APIError) ErrorType() retry.ErrorType { return retry.ClassifyHTTPError(e.StatusCode) }

// PaginationError is returned when a listing page cannot be decoded. It is
// retried like a server error.
type PaginationError struct {
	Endpoint string
	Err      error
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("malformed page from %s: %v", e.Endpoint, e.Err)
}

func (e *PaginationError) Unwrap() error { return e.Err }

func (e *PaginationError) ErrorType() retry.ErrorType { return retry.ErrorTypeServer }

// StallError is returned when a transfer makes no progress for Idle
type StallError struct {
	Idle time.Duration
}

func (e *StallError) Error() string {
	return fmt.Sprintf("transfer stalled for %v", e.Idle)
}

func (e *StallError) ErrorType() retry.ErrorType { return retry.ErrorTypeTimeout }

func (e *StallError) Timeout() bool { return true }

func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	if len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}
	return apiErr
}

// parseRetryAfter parses the Retry-After header and returns the wait duration
func parseRetryAfter(resp *http.Response, now time.Time) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

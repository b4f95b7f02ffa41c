// Package zoom provides an API client for the Zoom users and cloud recording endpoints
package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const apiDateLayout = "2006-01-02"

// Lister is the paginated listing surface used by the enumerators
type Lister interface {
	ListUsersPage(ctx context.Context, pageToken string) (*ListUsersResponse, error)
	ListRecordingsPage(ctx context.Context, userID string, params ListRecordingsParams) (*ListRecordingsResponse, error)
}

// ListRecordingsParams holds parameters for listing recordings. From and To
// are inclusive calendar days.
type ListRecordingsParams struct {
	From          time.Time
	To            time.Time
	NextPageToken string
}

// ClientConfig holds connection settings for Client
type ClientConfig struct {
	BaseURL   string
	PageSize  int
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the Zoom REST API with a bearer token.
//
// A 401 drops the cached token and the call is made once more; a second
// 401 is an AuthError. A 429 becomes a RateLimitError. Retrying is left to
// the caller.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	config     ClientConfig
	requests   atomic.Int64
}

// NewClient creates a new Zoom API client
func NewClient(cfg ClientConfig, tokens TokenProvider, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "zoom-recording-downloader"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, tokens: tokens, config: cfg}
}

// Requests is the number of HTTP requests sent, including token retries
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// ListUsersPage fetches one page of active users
func (c *Client) ListUsersPage(ctx context.Context, pageToken string) (*ListUsersResponse, error) {
	query := url.Values{}
	query.Set("status", "active")
	query.Set("page_size", strconv.Itoa(c.config.PageSize))
	if pageToken != "" {
		query.Set("next_page_token", pageToken)
	}
	endpoint := c.config.BaseURL + "/users?" + query.Encode()

	var result ListUsersResponse
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRecordingsPage fetches one page of a user's cloud recordings
func (c *Client) ListRecordingsPage(ctx context.Context, userID string, params ListRecordingsParams) (*ListRecordingsResponse, error) {
	query := url.Values{}
	query.Set("from", params.From.Format(apiDateLayout))
	query.Set("to", params.To.Format(apiDateLayout))
	query.Set("page_size", strconv.Itoa(c.config.PageSize))
	if params.NextPageToken != "" {
		query.Set("next_page_token", params.NextPageToken)
	}
	endpoint := fmt.Sprintf("%s/users/%s/recordings?%s", c.config.BaseURL, url.PathEscape(userID), query.Encode())

	var result ListRecordingsResponse
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return &PaginationError{Endpoint: redact(endpoint), Err: err}
	}
	return nil
}

// Download starts fetching a recording file. The returned reader fails with
// a StallError if no bytes arrive for the client timeout. size is -1 when
// the server sent no Content-Length.
func (c *Client) Download(ctx context.Context, downloadURL string) (body io.ReadCloser, size int64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	watchdog := newStallWatchdog(c.config.Timeout, cancel)

	resp, err := c.get(ctx, downloadURL, "*/*")
	if err != nil {
		watchdog.stop()
		cancel()
		if watchdog.fired() {
			return nil, 0, &StallError{Idle: c.config.Timeout}
		}
		return nil, 0, err
	}

	return &stallReader{body: resp.Body, watchdog: watchdog, cancel: cancel}, resp.ContentLength, nil
}

func (c *Client) get(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	for refreshed := false; ; refreshed = true {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Accept", accept)
		req.Header.Set("User-Agent", c.config.UserAgent)

		c.requests.Add(1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			if !refreshed {
				c.tokens.Invalidate()
				continue
			}
			return nil, &AuthError{Type: "unauthorized", Reason: "request rejected after token refresh"}

		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			return nil, &RateLimitError{
				Wait:  parseRetryAfter(resp, time.Now()),
				Limit: resp.Header.Get("X-RateLimit-Type"),
			}

		case resp.StatusCode >= 300:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, parseAPIError(resp.StatusCode, body)
		}
		return resp, nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// redact strips the query string, which may carry page tokens
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

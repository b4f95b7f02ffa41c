package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
)

// DefaultEarlyExpiry is how long before expiry a token is replaced
const DefaultEarlyExpiry = 5 * time.Minute

// TokenProvider hands out the bearer credential for API calls.
// Invalidate drops the current token so the next call fetches a fresh one.
type TokenProvider interface {
	Token() (*oauth2.Token, error)
	Invalidate()
}

// TokenResponse represents the response from the OAuth token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	Error       string `json:"error,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ServerToServerAuth fetches account credentials tokens from Zoom's OAuth
// endpoint. It implements oauth2.TokenSource and does no caching; wrap it in
// a RefreshingTokenSource.
type ServerToServerAuth struct {
	ctx    context.Context
	config config.OAuthConfig
	client *http.Client
}

// NewServerToServerAuth creates a token source. ctx bounds every token
// request, the same way oauth2.Config.TokenSource does.
func NewServerToServerAuth(ctx context.Context, cfg config.OAuthConfig, client *http.Client) *ServerToServerAuth {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ServerToServerAuth{ctx: ctx, config: cfg, client: client}
}

// Token requests a new access token
func (s *ServerToServerAuth) Token() (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", "account_credentials")
	data.Set("account_id", s.config.AccountID)

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &AuthError{Type: "request_creation", Reason: "failed to create OAuth request", Err: err}
	}
	req.SetBasicAuth(s.config.ClientID, s.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		// network trouble is retried by the caller, not fatal
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Wait: parseRetryAfter(resp, time.Now()), Limit: "oauth"}
	}
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var tokenResponse TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, &AuthError{Type: "response_parsing", Reason: "failed to parse token response", Err: err}
	}
	if tokenResponse.Error != "" {
		return nil, &AuthError{Type: tokenResponse.Error, Reason: tokenResponse.Reason}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Type: "http_error", Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, tokenResponse.Reason)}
	}
	if tokenResponse.AccessToken == "" {
		return nil, &AuthError{Type: "empty_token", Reason: "token endpoint returned no access_token"}
	}

	token := &oauth2.Token{
		AccessToken: tokenResponse.AccessToken,
		TokenType:   tokenResponse.TokenType,
		ExpiresIn:   int64(tokenResponse.ExpiresIn),
		Expiry:      tokenExpiry(tokenResponse, time.Now()),
	}
	if tokenResponse.Scope != "" {
		token = token.WithExtra(map[string]any{"scope": tokenResponse.Scope})
	}
	return token, nil
}

// tokenExpiry prefers expires_in and falls back to the exp claim of the
// access token, which Zoom issues as a JWT.
func tokenExpiry(resp TokenResponse, now time.Time) time.Time {
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	// unknown lifetime, Zoom's documented default
	return now.Add(time.Hour)
}

// RefreshingTokenSource caches a token and replaces it earlyExpiry before it
// runs out. It is safe for concurrent use.
type RefreshingTokenSource struct {
	mu          sync.Mutex
	base        oauth2.TokenSource
	earlyExpiry time.Duration
	current     oauth2.TokenSource
	refreshes   int
}

// NewRefreshingTokenSource wraps base with proactive refresh
func NewRefreshingTokenSource(base oauth2.TokenSource, earlyExpiry time.Duration) *RefreshingTokenSource {
	return &RefreshingTokenSource{
		base:        base,
		earlyExpiry: earlyExpiry,
		current:     oauth2.ReuseTokenSourceWithExpiry(nil, base, earlyExpiry),
	}
}

func (r *RefreshingTokenSource) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	src := r.current
	r.mu.Unlock()

	return src.Token()
}

// Invalidate forgets the cached token
func (r *RefreshingTokenSource) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = oauth2.ReuseTokenSourceWithExpiry(nil, r.base, r.earlyExpiry)
	r.refreshes++
}

// Invalidations is the number of times the cached token was dropped
func (r *RefreshingTokenSource) Invalidations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}

// StaticToken is a TokenProvider for a fixed bearer token
type StaticToken string

func (s StaticToken) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(s), TokenType: "Bearer"}, nil
}

func (StaticToken) Invalidate() {}

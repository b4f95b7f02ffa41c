package zoom

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtbushko/zoom-recording-downloader/internal/ratelimit"
	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
	"github.com/curtbushko/zoom-recording-downloader/internal/window"
)

// fakeLister serves canned pages keyed by page token. Errors queued in
// failures are returned, one per call, before any page is served.
type fakeLister struct {
	mu         sync.Mutex
	userPages  map[string]*ListUsersResponse
	recPages   map[string]map[string]*ListRecordingsResponse // window start -> token -> page
	failures   []error
	userCalls  int
	recCalls   []ListRecordingsParams
	recUserIDs []string
}

func (f *fakeLister) nextFailure() error {
	if len(f.failures) == 0 {
		return nil
	}
	err := f.failures[0]
	f.failures = f.failures[1:]
	return err
}

func (f *fakeLister) ListUsersPage(ctx context.Context, pageToken string) (*ListUsersResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	page, ok := f.userPages[pageToken]
	if !ok {
		return &ListUsersResponse{}, nil
	}
	return page, nil
}

func (f *fakeLister) ListRecordingsPage(ctx context.Context, userID string, params ListRecordingsParams) (*ListRecordingsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recCalls = append(f.recCalls, params)
	f.recUserIDs = append(f.recUserIDs, userID)
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	page, ok := f.recPages[params.From.Format(apiDateLayout)][params.NextPageToken]
	if !ok {
		return &ListRecordingsResponse{}, nil
	}
	return page, nil
}

func testRetrier() *retry.Retrier {
	return retry.NewRetrier(retry.RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2,
		RateLimitDelay: time.Millisecond,
	}, ratelimit.NewGate(0, 0))
}

func collectUsers(t *testing.T, e *UserEnumerator) ([]string, error) {
	t.Helper()
	var emails []string
	for u, err := range e.Users(context.Background()) {
		if err != nil {
			return emails, err
		}
		emails = append(emails, u.Email)
	}
	return emails, nil
}

func TestUserEnumerator(t *testing.T) {
	tests := []struct {
		name      string
		lister    *fakeLister
		want      []string
		wantCalls int
		wantErr   bool
	}{
		{
			name: "follows page tokens",
			lister: &fakeLister{userPages: map[string]*ListUsersResponse{
				"":   {NextPageToken: "p2", Users: []User{{Email: "a@example.com"}, {Email: "b@example.com"}}},
				"p2": {NextPageToken: "", Users: []User{{Email: "c@example.com"}}},
			}},
			want:      []string{"a@example.com", "b@example.com", "c@example.com"},
			wantCalls: 2,
		},
		{
			name: "empty page stops despite token",
			lister: &fakeLister{userPages: map[string]*ListUsersResponse{
				"":   {NextPageToken: "p2", Users: []User{{Email: "a@example.com"}}},
				"p2": {NextPageToken: "p3"},
			}},
			want:      []string{"a@example.com"},
			wantCalls: 2,
		},
		{
			name: "rate limit and server error are retried",
			lister: &fakeLister{
				userPages: map[string]*ListUsersResponse{"": {Users: []User{{Email: "a@example.com"}}}},
				failures:  []error{&RateLimitError{}, &APIError{StatusCode: 502}},
			},
			want:      []string{"a@example.com"},
			wantCalls: 3,
		},
		{
			name: "client error ends enumeration",
			lister: &fakeLister{
				failures: []error{&APIError{StatusCode: 400, Message: "bad"}},
			},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectUsers(t, NewUserEnumerator(tt.lister, testRetrier()))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, tt.lister.userCalls)
		})
	}
}

func TestUserEnumeratorEarlyBreak(t *testing.T) {
	lister := &fakeLister{userPages: map[string]*ListUsersResponse{
		"":   {NextPageToken: "p2", Users: []User{{Email: "a@example.com"}, {Email: "b@example.com"}}},
		"p2": {Users: []User{{Email: "c@example.com"}}},
	}}

	for u := range NewUserEnumerator(lister, testRetrier()).Users(context.Background()) {
		assert.Equal(t, "a@example.com", u.Email)
		break
	}
	assert.Equal(t, 1, lister.userCalls)
}

func marchToMay() window.Range {
	return window.Range{
		First: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
		Last:  time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestRecordingEnumerator(t *testing.T) {
	lister := &fakeLister{recPages: map[string]map[string]*ListRecordingsResponse{
		"2023-03-01": {
			"":   {NextPageToken: "m2", Meetings: []Meeting{{UUID: "m-1", Topic: "One"}, {UUID: "m-2", Topic: "Two"}}},
			"m2": {Meetings: []Meeting{{UUID: "m-3", Topic: "Three"}}},
		},
		"2023-04-01": {
			// m-3 reappears across the month boundary
			"": {Meetings: []Meeting{{UUID: "m-3", Topic: "Three"}, {UUID: "m-4", Topic: "Four"}}},
		},
		"2023-05-01": {
			"": {Meetings: []Meeting{{Topic: "no uuid"}, {Topic: "no uuid"}}},
		},
	}}

	user := User{ID: "u1", Email: "alice@example.com"}
	var topics []string
	for m, err := range NewRecordingEnumerator(lister, testRetrier()).Meetings(context.Background(), user, marchToMay().Windows()) {
		require.NoError(t, err)
		topics = append(topics, m.Topic)
	}

	assert.Equal(t, []string{"One", "Two", "Three", "Four", "no uuid", "no uuid"}, topics)
	require.Len(t, lister.recCalls, 4)
	assert.Equal(t, "2023-03-31", lister.recCalls[0].To.Format(apiDateLayout))
	assert.Equal(t, "m2", lister.recCalls[1].NextPageToken)
	assert.Equal(t, "2023-04-30", lister.recCalls[2].To.Format(apiDateLayout))
	assert.Empty(t, lister.recCalls[2].NextPageToken)
	for _, id := range lister.recUserIDs {
		assert.Equal(t, "u1", id)
	}
}

func TestRecordingEnumeratorFallsBackToEmail(t *testing.T) {
	lister := &fakeLister{}
	for _, err := range NewRecordingEnumerator(lister, testRetrier()).Meetings(context.Background(), User{Email: "bob@example.com"}, marchToMay().Windows()) {
		require.NoError(t, err)
	}
	require.Len(t, lister.recUserIDs, 3)
	assert.Equal(t, "bob@example.com", lister.recUserIDs[0])
}

func TestRecordingEnumeratorFatalError(t *testing.T) {
	lister := &fakeLister{failures: []error{&AuthError{Type: "unauthorized"}}}

	var errs []error
	for _, err := range NewRecordingEnumerator(lister, testRetrier()).Meetings(context.Background(), User{ID: "u1"}, marchToMay().Windows()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	var authErr *AuthError
	assert.True(t, errors.As(errs[0], &authErr))
	assert.Len(t, lister.recCalls, 1)
}

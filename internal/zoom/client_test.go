package zoom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
)

// rotatingTokens hands out token_1, then token_2 after an invalidation, and so on
type rotatingTokens struct {
	generation atomic.Int32
}

func (r *rotatingTokens) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: fmt.Sprintf("token_%d", r.generation.Load()+1), TokenType: "Bearer"}, nil
}

func (r *rotatingTokens) Invalidate() { r.generation.Add(1) }

func createTestClient(baseURL string, tokens TokenProvider) *Client {
	return NewClient(ClientConfig{BaseURL: baseURL, PageSize: 300, Timeout: 5 * time.Second}, tokens, nil)
}

func TestListUsersPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "Bearer test_token", r.Header.Get("Authorization"))
		query := r.URL.Query()
		assert.Equal(t, "active", query.Get("status"))
		assert.Equal(t, "300", query.Get("page_size"))
		assert.Equal(t, "page-2", query.Get("next_page_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"page_size": 300,
			"total_records": 2,
			"next_page_token": "",
			"users": [
				{"id": "u1", "email": "alice@example.com", "first_name": "Alice", "type": 2, "status": "active"},
				{"id": "u2", "email": "bob@example.com", "type": 1, "status": "active"}
			]
		}`))
	}))
	defer server.Close()

	resp, err := createTestClient(server.URL, StaticToken("test_token")).ListUsersPage(context.Background(), "page-2")
	require.NoError(t, err)
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "alice@example.com", resp.Users[0].Email)
	assert.Empty(t, resp.NextPageToken)
}

func TestListRecordingsPage(t *testing.T) {
	tests := []struct {
		name          string
		userID        string
		params        ListRecordingsParams
		wantPath      string
		wantPageToken string
	}{
		{
			name:   "first page",
			userID: "u1",
			params: ListRecordingsParams{
				From: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
			},
			wantPath: "/users/u1/recordings",
		},
		{
			name:   "email as user id with page token",
			userID: "alice+zoom@example.com",
			params: ListRecordingsParams{
				From:          time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC),
				To:            time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
				NextPageToken: "abc/==",
			},
			wantPath:      "/users/alice+zoom@example.com/recordings",
			wantPageToken: "abc/==",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantPath, r.URL.Path)
				query := r.URL.Query()
				assert.Equal(t, "2023-03-01", query.Get("from"))
				assert.Equal(t, "2023-03-31", query.Get("to"))
				assert.Equal(t, tt.wantPageToken, query.Get("next_page_token"))

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{
					"from": "2023-03-01",
					"to": "2023-03-31",
					"next_page_token": "",
					"meetings": [
						{
							"uuid": "m-1",
							"id": 1,
							"topic": "Team Sync",
							"start_time": "2023-03-05T10:00:00Z",
							"recording_files": [
								{"id": "abc123", "file_type": "MP4", "file_size": 42, "download_url": "https://zoom.us/rec/abc123"}
							]
						}
					]
				}`))
			}))
			defer server.Close()

			resp, err := createTestClient(server.URL, StaticToken("t")).ListRecordingsPage(context.Background(), tt.userID, tt.params)
			require.NoError(t, err)
			require.Len(t, resp.Meetings, 1)
			assert.Equal(t, "m-1", resp.Meetings[0].UUID)
			assert.Equal(t, int64(42), resp.Meetings[0].RecordingFiles[0].FileSize)
		})
	}
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		header   map[string]string
		wantType retry.ErrorType
		check    func(t *testing.T, err error)
	}{
		{
			name:     "rate limited with seconds",
			status:   http.StatusTooManyRequests,
			header:   map[string]string{"Retry-After": "3", "X-RateLimit-Type": "QPS"},
			wantType: retry.ErrorTypeRateLimit,
			check: func(t *testing.T, err error) {
				var rateErr *RateLimitError
				require.ErrorAs(t, err, &rateErr)
				assert.Equal(t, 3*time.Second, rateErr.Wait)
				assert.Equal(t, "QPS", rateErr.Limit)
			},
		},
		{
			name:     "rate limited without hint",
			status:   http.StatusTooManyRequests,
			wantType: retry.ErrorTypeRateLimit,
			check: func(t *testing.T, err error) {
				var rateErr *RateLimitError
				require.ErrorAs(t, err, &rateErr)
				assert.Zero(t, rateErr.Wait)
			},
		},
		{
			name:     "not found",
			status:   http.StatusNotFound,
			body:     `{"code": 1001, "message": "User does not exist"}`,
			wantType: retry.ErrorTypeClient,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, 1001, apiErr.Code)
				assert.Equal(t, "User does not exist", apiErr.Message)
			},
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantType: retry.ErrorTypeServer,
		},
		{
			name:     "malformed page",
			status:   http.StatusOK,
			body:     `{"users": [`,
			wantType: retry.ErrorTypeServer,
			check: func(t *testing.T, err error) {
				var pageErr *PaginationError
				require.ErrorAs(t, err, &pageErr)
				assert.NotContains(t, pageErr.Endpoint, "page_size")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := createTestClient(server.URL, StaticToken("t")).ListUsersPage(context.Background(), "")
			require.Error(t, err)
			assert.Equal(t, tt.wantType, retry.ClassifyError(err))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestClientRefreshesTokenOnce(t *testing.T) {
	t.Run("second token accepted", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer token_2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"users": []}`))
		}))
		defer server.Close()

		tokens := &rotatingTokens{}
		client := createTestClient(server.URL, tokens)
		_, err := client.ListUsersPage(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, int64(2), client.Requests())
		assert.Equal(t, int32(1), tokens.generation.Load())
	})

	t.Run("rejected twice is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := createTestClient(server.URL, &rotatingTokens{})
		_, err := client.ListUsersPage(context.Background(), "")

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.True(t, retry.ClassifyError(err).Fatal())
		assert.Equal(t, int64(2), client.Requests())
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			resp.Header.Set("Retry-After", tt.value)
			assert.Equal(t, tt.want, parseRetryAfter(resp, now))
		})
	}
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "23")
		_, _ = w.Write([]byte("fake video file content"))
	}))
	defer server.Close()

	body, size, err := createTestClient(server.URL, StaticToken("t")).Download(context.Background(), server.URL+"/rec/abc123")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "fake video file content", string(data))
	assert.Equal(t, int64(23), size)
}

func TestDownloadFollowsRedirect(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("redirected file content"))
	}))
	defer final.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/final.mp4", http.StatusFound)
	}))
	defer server.Close()

	body, _, err := createTestClient(server.URL, StaticToken("t")).Download(context.Background(), server.URL+"/rec/abc123")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "redirected file content", string(data))
}

func TestDownloadStall(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "stalls before headers",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
		},
		{
			name: "stalls mid body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "1000")
				_, _ = w.Write([]byte("partial"))
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(ClientConfig{BaseURL: server.URL, Timeout: 100 * time.Millisecond}, StaticToken("t"), nil)
			body, _, err := client.Download(context.Background(), server.URL+"/rec/slow")
			if err == nil {
				defer body.Close()
				_, err = io.ReadAll(body)
			}

			var stallErr *StallError
			require.ErrorAs(t, err, &stallErr)
			assert.Equal(t, retry.ErrorTypeTimeout, retry.ClassifyError(err))
		})
	}
}

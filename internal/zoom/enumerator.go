package zoom

import (
	"context"
	"iter"

	"github.com/curtbushko/zoom-recording-downloader/internal/logging"
	"github.com/curtbushko/zoom-recording-downloader/internal/retry"
	"github.com/curtbushko/zoom-recording-downloader/internal/window"
)

// UserEnumerator walks every page of the account's user list
type UserEnumerator struct {
	lister  Lister
	retrier *retry.Retrier
}

// NewUserEnumerator creates a UserEnumerator. Each page request goes through
// retrier, so rate limits and transient failures are retried per page.
func NewUserEnumerator(lister Lister, retrier *retry.Retrier) *UserEnumerator {
	return &UserEnumerator{lister: lister, retrier: retrier}
}

// Users yields users in provider order. A page that fails for good ends the
// sequence with its error. An empty page ends it quietly.
func (e *UserEnumerator) Users(ctx context.Context) iter.Seq2[User, error] {
	return func(yield func(User, error) bool) {
		token := ""
		for page := 1; ; page++ {
			var resp *ListUsersResponse
			err := e.retrier.Do(ctx, func(ctx context.Context) error {
				var err error
				resp, err = e.lister.ListUsersPage(ctx, token)
				return err
			})
			if err != nil {
				yield(User{}, err)
				return
			}

			logging.DebugWithContext(ctx, "Fetched user page %d with %d users", page, len(resp.Users))
			for _, u := range resp.Users {
				if !yield(u, nil) {
					return
				}
			}
			if resp.NextPageToken == "" || len(resp.Users) == 0 {
				return
			}
			token = resp.NextPageToken
		}
	}
}

// RecordingEnumerator lists a user's recorded meetings window by window
type RecordingEnumerator struct {
	lister  Lister
	retrier *retry.Retrier
}

// NewRecordingEnumerator creates a RecordingEnumerator
func NewRecordingEnumerator(lister Lister, retrier *retry.Retrier) *RecordingEnumerator {
	return &RecordingEnumerator{lister: lister, retrier: retrier}
}

// Meetings yields the user's meetings across windows in chronological window
// order, keeping provider order within a window. A meeting UUID seen
// earlier in the pass is skipped.
func (e *RecordingEnumerator) Meetings(ctx context.Context, user User, windows iter.Seq[window.Window]) iter.Seq2[Meeting, error] {
	userID := user.ID
	if userID == "" {
		userID = user.Email
	}

	return func(yield func(Meeting, error) bool) {
		seen := make(map[string]struct{})
		for w := range windows {
			params := ListRecordingsParams{From: w.From(), To: w.To()}
			for {
				var resp *ListRecordingsResponse
				err := e.retrier.Do(ctx, func(ctx context.Context) error {
					var err error
					resp, err = e.lister.ListRecordingsPage(ctx, userID, params)
					return err
				})
				if err != nil {
					yield(Meeting{}, err)
					return
				}

				for _, m := range resp.Meetings {
					if m.UUID != "" {
						if _, dup := seen[m.UUID]; dup {
							logging.DebugWithContext(ctx, "Skipping duplicate meeting %s in window %s", m.UUID, w)
							continue
						}
						seen[m.UUID] = struct{}{}
					}
					if !yield(m, nil) {
						return
					}
				}
				if resp.NextPageToken == "" || len(resp.Meetings) == 0 {
					break
				}
				params.NextPageToken = resp.NextPageToken
			}
		}
	}
}

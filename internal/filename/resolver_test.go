package filename

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
	"github.com/curtbushko/zoom-recording-downloader/internal/zoom"
)

func teamSync() (zoom.User, zoom.Meeting, zoom.RecordingFile) {
	user := zoom.User{ID: "u1", Email: "alice@example.com"}
	file := zoom.RecordingFile{
		ID:            "abc123",
		FileType:      "MP4",
		FileExtension: "MP4",
		RecordingType: "shared_screen_with_speaker_view",
	}
	meeting := zoom.Meeting{
		UUID:           "m-1",
		Topic:          "Team Sync",
		StartTime:      time.Date(2023, 3, 5, 10, 0, 0, 0, time.UTC),
		RecordingFiles: []zoom.RecordingFile{file},
	}
	return user, meeting, file
}

func exampleFormat() config.FilepathFormatConfig {
	return config.FilepathFormatConfig{
		Timezone:         "UTC",
		TimeFormat:       "%Y%m%d-%H%M",
		FolderTemplate:   "{year}/{month}/{meeting_time}-{topic}",
		FilenameTemplate: "{meeting_time}-{topic}-{rec_type}-{recording_id}.{file_extension}",
		SanitizeFrom:     " ",
		SanitizeTo:       "_",
	}
}

func TestResolve(t *testing.T) {
	user, meeting, file := teamSync()

	tests := []struct {
		name         string
		format       func(f *config.FilepathFormatConfig)
		meeting      func(m *zoom.Meeting)
		file         func(f *zoom.RecordingFile)
		wantFolder   string
		wantFilename string
	}{
		{
			name:         "documented example",
			wantFolder:   "2023/03/20230305-1000-Team_Sync",
			wantFilename: "20230305-1000-Team_Sync-shared_screen_with_speaker_view-abc123.mp4",
		},
		{
			name: "default templates",
			format: func(f *config.FilepathFormatConfig) {
				*f = config.FilepathFormatConfig{
					Timezone:         config.DefaultTimezone,
					TimeFormat:       config.DefaultTimeFormat,
					FolderTemplate:   config.DefaultFolderTemplate,
					FilenameTemplate: config.DefaultFilenameTemplate,
				}
			},
			wantFolder:   "Team Sync - 2023.03.05 - 10.00 AM UTC",
			wantFilename: "2023.03.05 - 10.00 AM UTC - Team Sync - shared_screen_with_speaker_view - abc123.mp4",
		},
		{
			name: "timezone shifts the date",
			format: func(f *config.FilepathFormatConfig) {
				f.Timezone = "America/Los_Angeles"
			},
			meeting: func(m *zoom.Meeting) {
				m.StartTime = time.Date(2023, 3, 1, 5, 30, 0, 0, time.UTC)
			},
			wantFolder:   "2023/02/20230228-2130-Team_Sync",
			wantFilename: "20230228-2130-Team_Sync-shared_screen_with_speaker_view-abc123.mp4",
		},
		{
			name: "topic cannot add folders",
			meeting: func(m *zoom.Meeting) {
				m.Topic = "../../etc/passwd"
			},
			wantFolder:   "2023/03/20230305-1000-etcpasswd",
			wantFilename: "20230305-1000-etcpasswd-shared_screen_with_speaker_view-abc123.mp4",
		},
		{
			name: "timeline file",
			file: func(f *zoom.RecordingFile) {
				f.FileType = zoom.FileTypeTimeline
				f.FileExtension = "JSON"
				f.RecordingType = ""
			},
			wantFolder:   "2023/03/20230305-1000-Team_Sync",
			wantFilename: "20230305-1000-Team_Sync-TIMELINE-abc123.json",
		},
		{
			name: "user variables",
			format: func(f *config.FilepathFormatConfig) {
				f.FolderTemplate = "{user}/{year}"
				f.FilenameTemplate = "{email}-{recording_id}.{file_extension}"
			},
			wantFolder:   "alice/2023",
			wantFilename: "alice@example.com-abc123.mp4",
		},
		{
			name: "empty folder template",
			format: func(f *config.FilepathFormatConfig) {
				f.FolderTemplate = ""
			},
			wantFolder:   "",
			wantFilename: "20230305-1000-Team_Sync-shared_screen_with_speaker_view-abc123.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format := exampleFormat()
			if tt.format != nil {
				tt.format(&format)
			}
			m, f := meeting, file
			if tt.meeting != nil {
				tt.meeting(&m)
			}
			if tt.file != nil {
				tt.file(&f)
			}

			r, err := NewResolver(format)
			require.NoError(t, err)

			target, err := r.Resolve(user, m, f)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFolder, target.Folder)
			assert.Equal(t, tt.wantFilename, target.Filename)
		})
	}
}

func TestTargetPath(t *testing.T) {
	target := Target{Folder: "2023/03", Filename: "a.mp4"}
	assert.Equal(t, "2023/03/a.mp4", target.Rel())
	assert.Equal(t, filepath.Join("downloads", "2023", "03", "a.mp4"), target.Path("downloads"))
}

func TestNewResolverErrors(t *testing.T) {
	tests := []struct {
		name   string
		format func(f *config.FilepathFormatConfig)
		field  string
	}{
		{
			name:   "unknown timezone",
			format: func(f *config.FilepathFormatConfig) { f.Timezone = "Mars/Olympus" },
			field:  "FilepathFormat.timezone",
		},
		{
			name:   "unknown placeholder in folder",
			format: func(f *config.FilepathFormatConfig) { f.FolderTemplate = "{host}/{year}" },
			field:  "FilepathFormat.folder",
		},
		{
			name:   "unknown placeholder in filename",
			format: func(f *config.FilepathFormatConfig) { f.FilenameTemplate = "{Topic}.{file_extension}" },
			field:  "FilepathFormat.filename",
		},
		{
			name:   "separator in filename",
			format: func(f *config.FilepathFormatConfig) { f.FilenameTemplate = "{year}/{topic}" },
			field:  "FilepathFormat.filename",
		},
		{
			name:   "empty filename",
			format: func(f *config.FilepathFormatConfig) { f.FilenameTemplate = "" },
			field:  "FilepathFormat.filename",
		},
		{
			name:   "climbing folder",
			format: func(f *config.FilepathFormatConfig) { f.FolderTemplate = "../{topic}" },
			field:  "FilepathFormat.folder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format := exampleFormat()
			tt.format(&format)

			_, err := NewResolver(format)
			var cfgErr *config.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestResolveDisambiguatesCollisions(t *testing.T) {
	format := exampleFormat()
	format.FilenameTemplate = "{meeting_time}-{topic}.{file_extension}"

	r, err := NewResolver(format)
	require.NoError(t, err)

	user, meeting, _ := teamSync()
	first := zoom.RecordingFile{ID: "aaaaaaaa-1111", FileType: "MP4", FileExtension: "MP4", RecordingType: "gallery_view"}
	second := zoom.RecordingFile{ID: "bbbbbbbb-2222", FileType: "MP4", FileExtension: "MP4", RecordingType: "speaker_view"}
	third := zoom.RecordingFile{ID: "bbbbbbbb-3333", FileType: "MP4", FileExtension: "MP4", RecordingType: "active_speaker"}

	a, err := r.Resolve(user, meeting, first)
	require.NoError(t, err)
	b, err := r.Resolve(user, meeting, second)
	require.NoError(t, err)
	c, err := r.Resolve(user, meeting, third)
	require.NoError(t, err)

	assert.Equal(t, "20230305-1000-Team_Sync.mp4", a.Filename)
	assert.Equal(t, "20230305-1000-Team_Sync-bbbbbbbb.mp4", b.Filename)
	assert.Equal(t, "20230305-1000-Team_Sync-bbbbbbbb-2.mp4", c.Filename)

	again, err := r.Resolve(user, meeting, second)
	require.NoError(t, err)
	assert.Equal(t, b, again, "same file must keep its path")
}

func TestResolveConcurrentUniqueness(t *testing.T) {
	format := exampleFormat()
	format.FilenameTemplate = "{topic}.{file_extension}"

	r, err := NewResolver(format)
	require.NoError(t, err)
	user, meeting, _ := teamSync()

	const files = 50
	targets := make([]Target, files)
	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file := zoom.RecordingFile{ID: fmt.Sprintf("rec-%03d", i), FileType: "MP4", FileExtension: "mp4"}
			target, err := r.Resolve(user, meeting, file)
			assert.NoError(t, err)
			targets[i] = target
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, target := range targets {
		assert.False(t, seen[target.Rel()], "duplicate path %s", target.Rel())
		seen[target.Rel()] = true
	}
}

func TestResolveKeepsNamesWithinLimit(t *testing.T) {
	format := exampleFormat()
	format.FilenameTemplate = "{topic}-{topic}.{file_extension}"
	format.FolderTemplate = "{topic}{topic}/{month}"

	r, err := NewResolver(format)
	require.NoError(t, err)

	user, meeting, _ := teamSync()
	meeting.Topic = strings.Repeat("会議", 100)
	first := zoom.RecordingFile{ID: "aaaaaaaa-1111", FileType: "MP4", FileExtension: "MP4"}
	second := zoom.RecordingFile{ID: "bbbbbbbb-2222", FileType: "MP4", FileExtension: "MP4"}

	a, err := r.Resolve(user, meeting, first)
	require.NoError(t, err)
	b, err := r.Resolve(user, meeting, second)
	require.NoError(t, err)

	for _, target := range []Target{a, b} {
		assert.LessOrEqual(t, len(target.Filename), MaxFilenameBytes)
		assert.True(t, utf8.ValidString(target.Filename))
		assert.True(t, strings.HasSuffix(target.Filename, ".mp4"), target.Filename)
		for _, segment := range strings.Split(target.Folder, "/") {
			assert.LessOrEqual(t, len(segment), MaxFilenameBytes)
			assert.True(t, utf8.ValidString(segment))
		}
	}
	assert.NotEqual(t, a.Rel(), b.Rel())
	assert.Contains(t, b.Filename, "-bbbbbbbb.mp4")
}

func TestResolveCollisionsIgnoreCase(t *testing.T) {
	format := exampleFormat()
	format.FilenameTemplate = "{topic}.{file_extension}"

	r, err := NewResolver(format)
	require.NoError(t, err)

	user, meeting, _ := teamSync()
	other := meeting
	other.UUID = "m-2"
	other.Topic = "team sync"

	a, err := r.Resolve(user, meeting, zoom.RecordingFile{ID: "aaaaaaaa-1111", FileType: "MP4"})
	require.NoError(t, err)
	b, err := r.Resolve(user, other, zoom.RecordingFile{ID: "bbbbbbbb-2222", FileType: "MP4"})
	require.NoError(t, err)

	assert.Equal(t, "Team_Sync.mp4", a.Filename)
	assert.Equal(t, "team_sync-bbbbbbbb.mp4", b.Filename)
}

package report

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

var csvHeader = []string{
	"user",
	"meeting_uuid",
	"topic",
	"recording_id",
	"file_type",
	"path",
	"size_bytes",
	"outcome",
	"reason",
	"attempts",
	"duration_seconds",
	"finished_at",
	"error",
}

// WriteCSV writes every entry of the report to path, replacing the file.
// The file is written next to its final name first, so a reader never sees
// half a report.
func (r *Report) WriteCSV(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := writeEntries(csv.NewWriter(file), r.Entries()); err != nil {
		file.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}

func writeEntries(writer *csv.Writer, entries []Entry) error {
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.User,
			e.MeetingUUID,
			e.Topic,
			e.RecordingID,
			e.FileType,
			e.Path,
			strconv.FormatInt(e.Size, 10),
			string(e.Outcome),
			e.Reason.String(),
			strconv.Itoa(e.Attempts),
			strconv.FormatFloat(e.Duration.Seconds(), 'f', 1, 64),
			e.FinishedAt.Format(time.RFC3339),
			e.Err,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

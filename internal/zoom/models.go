// Package zoom defines data structures for the Zoom users and cloud recording APIs
package zoom

import (
	"strings"
	"time"
)

// FileTypeTimeline is the file type of the meeting timeline JSON. It has no
// recording type of its own.
const FileTypeTimeline = "TIMELINE"

// User represents an account member as returned by the list users endpoint
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Type      int    `json:"type"`
	Status    string `json:"status,omitempty"`
}

// DisplayName returns "First Last - email", or just the email when no name is set
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name + " - " + u.Email
}

// ListUsersResponse represents one page of the list users endpoint
type ListUsersResponse struct {
	PageCount     int    `json:"page_count"`
	PageNumber    int    `json:"page_number"`
	PageSize      int    `json:"page_size"`
	TotalRecords  int    `json:"total_records"`
	NextPageToken string `json:"next_page_token"`
	Users         []User `json:"users"`
}

// RecordingFile represents a single recording file within a meeting recording
type RecordingFile struct {
	ID             string    `json:"id"`
	MeetingID      string    `json:"meeting_id"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
	FileType       string    `json:"file_type"`
	FileExtension  string    `json:"file_extension,omitempty"`
	FileSize       int64     `json:"file_size"`
	DownloadURL    string    `json:"download_url"`
	Status         string    `json:"status"`
	RecordingType  string    `json:"recording_type,omitempty"`
}

// Incomplete reports whether Zoom is still processing the file
func (f RecordingFile) Incomplete() bool {
	return f.FileType == ""
}

// RecType is the value of the {rec_type} path variable
func (f RecordingFile) RecType() string {
	switch {
	case f.Incomplete():
		return "incomplete"
	case f.FileType == FileTypeTimeline || f.RecordingType == "":
		return f.FileType
	default:
		return f.RecordingType
	}
}

// Extension returns the lower-cased file extension, falling back to the file type
func (f RecordingFile) Extension() string {
	if f.FileExtension != "" {
		return strings.ToLower(f.FileExtension)
	}
	return strings.ToLower(f.FileType)
}

// Meeting represents one recorded meeting instance and its files
type Meeting struct {
	UUID           string          `json:"uuid"`
	ID             int64           `json:"id"`
	AccountID      string          `json:"account_id"`
	HostID         string          `json:"host_id"`
	HostEmail      string          `json:"host_email,omitempty"`
	Topic          string          `json:"topic"`
	Type           int             `json:"type"`
	StartTime      time.Time       `json:"start_time"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// ListRecordingsResponse represents one page of the list recordings endpoint
type ListRecordingsResponse struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	PageCount     int       `json:"page_count"`
	PageSize      int       `json:"page_size"`
	TotalRecords  int       `json:"total_records"`
	NextPageToken string    `json:"next_page_token"`
	Meetings      []Meeting `json:"meetings"`
}

package filename

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/strftime"

	"github.com/curtbushko/zoom-recording-downloader/internal/config"
	"github.com/curtbushko/zoom-recording-downloader/internal/email"
	"github.com/curtbushko/zoom-recording-downloader/internal/zoom"
)

// Placeholders lists every variable a folder or filename template may use
var Placeholders = []string{
	"meeting_time",
	"topic",
	"rec_type",
	"recording_id",
	"file_extension",
	"year",
	"month",
	"day",
	"email",
	"user",
}

const (
	// MaxFilenameBytes is the name length limit of common filesystems
	MaxFilenameBytes = 255

	// suffixReserve leaves room for a "-<id8>-<n>" disambiguator
	suffixReserve = 16
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// Target is where one recording file goes, relative to the download directory
type Target struct {
	Folder   string
	Filename string
}

// Rel returns the slash separated path below the download directory
func (t Target) Rel() string {
	return path.Join(t.Folder, t.Filename)
}

// Path joins the target onto downloadDir using the OS separator
func (t Target) Path(downloadDir string) string {
	return filepath.Join(downloadDir, filepath.FromSlash(t.Folder), t.Filename)
}

// identity is what makes two recording files distinct
type identity struct {
	meetingUUID string
	recordingID string
	fileType    string
}

// Resolver renders destination paths for recording files. Every path it
// hands out during its lifetime is unique per recording file, and asking
// again for the same file returns the same path. It is safe for concurrent
// use.
type Resolver struct {
	format   config.FilepathFormatConfig
	location *time.Location
	replacer *strings.Replacer

	mu         sync.Mutex
	issued     map[string]identity
	byIdentity map[identity]Target
}

// NewResolver validates the format once and returns a Resolver. Problems
// with the timezone, the strftime pattern or the templates are reported as
// *config.ConfigError.
func NewResolver(format config.FilepathFormatConfig) (*Resolver, error) {
	location, err := time.LoadLocation(format.Timezone)
	if err != nil {
		return nil, &config.ConfigError{Field: "FilepathFormat.timezone", Reason: fmt.Sprintf("unknown timezone %q", format.Timezone), Err: err}
	}
	if _, err := strftime.Format(format.TimeFormat, time.Now()); err != nil {
		return nil, &config.ConfigError{Field: "FilepathFormat.strftime", Reason: "invalid format", Err: err}
	}
	if err := validateTemplate("FilepathFormat.folder", format.FolderTemplate); err != nil {
		return nil, err
	}
	if err := validateTemplate("FilepathFormat.filename", format.FilenameTemplate); err != nil {
		return nil, err
	}
	if strings.TrimSpace(format.FilenameTemplate) == "" {
		return nil, config.Errorf("FilepathFormat.filename", "must not be empty")
	}
	if strings.ContainsAny(format.FilenameTemplate, `/\`) {
		return nil, config.Errorf("FilepathFormat.filename", "must not contain path separators, use the folder template")
	}

	r := &Resolver{
		format:     format,
		location:   location,
		issued:     make(map[string]identity),
		byIdentity: make(map[identity]Target),
	}
	if format.SanitizeFrom != "" {
		r.replacer = strings.NewReplacer(format.SanitizeFrom, format.SanitizeTo)
	}
	return r, nil
}

func validateTemplate(field, template string) error {
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !slices.Contains(Placeholders, match[1]) {
			return config.Errorf(field, "unknown placeholder {%s}, allowed: %s", match[1], strings.Join(Placeholders, ", "))
		}
	}
	for _, segment := range strings.Split(filepath.ToSlash(template), "/") {
		if segment == ".." {
			return config.Errorf(field, "must not climb out of the download directory")
		}
	}
	return nil
}

// Resolve renders the folder and filename for file, then makes sure no other
// recording file resolved by r shares the path.
func (r *Resolver) Resolve(user zoom.User, meeting zoom.Meeting, file zoom.RecordingFile) (Target, error) {
	values, err := r.variables(user, meeting, file)
	if err != nil {
		return Target{}, err
	}

	target := Target{
		Folder:   r.cleanFolder(r.render(r.format.FolderTemplate, values)),
		Filename: fitName(r.render(r.format.FilenameTemplate, values), MaxFilenameBytes-suffixReserve),
	}

	return r.claim(identity{meetingUUID: meeting.UUID, recordingID: file.ID, fileType: file.FileType}, target), nil
}

func (r *Resolver) variables(user zoom.User, meeting zoom.Meeting, file zoom.RecordingFile) (map[string]string, error) {
	local := meeting.StartTime.In(r.location)
	meetingTime, err := strftime.Format(r.format.TimeFormat, local)
	if err != nil {
		return nil, fmt.Errorf("failed to format meeting time: %w", err)
	}

	addr := user.Email
	if addr == "" {
		addr = meeting.HostEmail
	}

	raw := map[string]string{
		"meeting_time":   meetingTime,
		"topic":          meeting.Topic,
		"rec_type":       file.RecType(),
		"recording_id":   file.ID,
		"file_extension": file.Extension(),
		"year":           local.Format("2006"),
		"month":          local.Format("01"),
		"day":            local.Format("02"),
		"email":          addr,
		"user":           email.LocalPart(addr),
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = SanitizeComponent(v)
	}
	return values, nil
}

func (r *Resolver) render(template string, values map[string]string) string {
	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		return values[token[1:len(token)-1]]
	})
	if r.replacer != nil {
		rendered = r.replacer.Replace(rendered)
	}
	return rendered
}

// cleanFolder normalizes separators and drops empty segments
func (r *Resolver) cleanFolder(folder string) string {
	var segments []string
	for _, segment := range strings.Split(filepath.ToSlash(folder), "/") {
		segment = strings.TrimSpace(segment)
		if len(segment) > MaxFilenameBytes {
			segment = strings.TrimRight(truncate(segment, MaxFilenameBytes), ". ")
		}
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		segments = append(segments, segment)
	}
	return strings.Join(segments, "/")
}

// claim records target for id, disambiguating it first when another file
// already holds the path
func (r *Resolver) claim(id identity, target Target) Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byIdentity[id]; ok {
		return existing
	}

	candidate := target
	if _, taken := r.issued[issuedKey(candidate)]; taken {
		short := id.recordingID
		if len(short) > 8 {
			short = short[:8]
		}
		short = SanitizeComponent(short)
		candidate.Filename = insertSuffix(target.Filename, "-"+short)
		for n := 2; ; n++ {
			if _, taken := r.issued[issuedKey(candidate)]; !taken {
				break
			}
			candidate.Filename = insertSuffix(target.Filename, fmt.Sprintf("-%s-%d", short, n))
		}
	}

	r.issued[issuedKey(candidate)] = id
	r.byIdentity[id] = candidate
	return candidate
}

// issuedKey folds case so paths that only differ in case are treated as the
// same file, as they are on case-insensitive filesystems
func issuedKey(t Target) string {
	return strings.ToLower(t.Rel())
}

// fitName cuts the stem of name so the whole name fits in limit bytes,
// keeping the extension
func fitName(name string, limit int) string {
	if len(name) > limit {
		ext := path.Ext(name)
		if ext == name || len(ext) >= limit/2 {
			ext = ""
		}
		stem := strings.TrimRight(truncate(strings.TrimSuffix(name, ext), limit-len(ext)), ". ")
		if stem == "" {
			stem = DefaultComponent
		}
		name = stem + ext
	}
	if name == "" {
		return DefaultComponent
	}
	return name
}

// insertSuffix puts suffix before the extension of name
func insertSuffix(name, suffix string) string {
	ext := path.Ext(name)
	if ext == name {
		ext = ""
	}
	return strings.TrimSuffix(name, ext) + suffix + ext
}

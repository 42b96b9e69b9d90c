package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// recentEventLimit bounds the in-memory tail of the log kept for queries
// that only reach back a short time.
const recentEventLimit = 1000

// FileLogger appends events to a JSONL file, one event per line, and serves
// queries from the file plus any rotated siblings next to it.
type FileLogger struct {
	namespace string
	fileOpts  FileOptions

	mu     sync.RWMutex
	file   *os.File
	recent []Event
}

// FileOptions are the file-provider settings carried in Config.Options.
// Rotation itself is left to external tooling; MaxSize, MaxBackups and
// MaxAge document the intended policy and queries pick up rotated files
// by name.
type FileOptions struct {
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size,omitempty"`    // MB
	MaxBackups int    `json:"max_backups,omitempty"` // rotated files kept
	MaxAge     int    `json:"max_age,omitempty"`     // days
}

// NewFileLogger opens (or creates) the configured log file for appending.
func NewFileLogger(config *Config) (*FileLogger, error) {
	var fileOpts FileOptions
	if err := parseOptions(config.Options, &fileOpts); err != nil {
		return nil, fmt.Errorf("invalid file logger options: %w", err)
	}
	if fileOpts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file logger")
	}
	if fileOpts.MaxSize == 0 {
		fileOpts.MaxSize = 100
	}
	if fileOpts.MaxBackups == 0 {
		fileOpts.MaxBackups = 5
	}
	if fileOpts.MaxAge == 0 {
		fileOpts.MaxAge = 30
	}

	if err := os.MkdirAll(filepath.Dir(fileOpts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{
		namespace: config.Namespace,
		fileOpts:  fileOpts,
		file:      file,
	}, nil
}

// Log records one event. Well-known metadata keys (request_id, user_id,
// item_key, error) are promoted into structured Event fields so they work
// as first-class query filters.
func (fl *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Namespace: fl.namespace,
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
	if v, ok := stringField(metadata, "request_id"); ok {
		event.RequestID = v
	}
	if v, ok := stringField(metadata, "user_id"); ok {
		event.UserID = v
	}
	if v, ok := stringField(metadata, "item_key"); ok {
		event.ItemKey = v
	}
	if v, ok := stringField(metadata, "error"); ok {
		event.Error = v
	}

	return fl.appendEvent(event)
}

func stringField(metadata map[string]interface{}, key string) (string, bool) {
	if metadata == nil {
		return "", false
	}
	v, ok := metadata[key].(string)
	return v, ok && v != ""
}

// appendEvent writes one JSONL line and syncs. The file handle is reopened
// on demand so a logger shared across sessions keeps working after a
// session closed it.
func (fl *FileLogger) appendEvent(event Event) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		file, err := os.OpenFile(fl.fileOpts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to reopen audit log: %w", err)
		}
		fl.file = file
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	if _, err = fl.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	// An audit line that never reaches the disk is worse than a slow one.
	if err = fl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	fl.recent = append(fl.recent, event)
	if len(fl.recent) > recentEventLimit {
		fl.recent = fl.recent[len(fl.recent)-recentEventLimit:]
	}
	return nil
}

// Query returns matching events newest first. Time-bounded queries that the
// in-memory tail fully covers are answered from it; everything else walks
// the log file and its rotated siblings.
func (fl *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	if fl.recentCovers(options) {
		return fl.queryRecent(options), nil
	}
	return fl.queryFiles(options)
}

// recentCovers reports whether the in-memory tail is guaranteed to contain
// every event the query could match.
func (fl *FileLogger) recentCovers(options QueryOptions) bool {
	if len(fl.recent) == 0 {
		return false
	}
	// Without a lower time bound the query may reach events the tail has
	// already dropped.
	if options.Since == nil && options.Until == nil {
		return false
	}
	if options.Since != nil && options.Since.Before(fl.recent[0].Timestamp) {
		return false
	}
	return true
}

func (fl *FileLogger) queryRecent(options QueryOptions) QueryResult {
	var matched []Event
	for _, event := range fl.recent {
		if matchesFilter(event, options) {
			matched = append(matched, event)
		}
	}
	sortNewestFirst(matched)

	start := options.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	return QueryResult{
		Events:     matched[start:end],
		TotalCount: len(fl.recent),
		Filtered:   len(matched),
		HasMore:    end < len(matched),
	}
}

func (fl *FileLogger) queryFiles(options QueryOptions) (QueryResult, error) {
	var matched []Event
	totalCount := 0

	for _, path := range fl.logFiles() {
		events, scanned, err := scanLogFile(path, options)
		if err != nil {
			return QueryResult{}, fmt.Errorf("failed to read events from %s: %w", path, err)
		}
		matched = append(matched, events...)
		totalCount += scanned
	}

	sortNewestFirst(matched)

	start := options.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	return QueryResult{
		Events:     matched[start:end],
		TotalCount: totalCount,
		Filtered:   len(matched),
		HasMore:    end < len(matched),
	}, nil
}

// logFiles returns the active log plus rotated siblings (audit.log.1 and so
// on) produced by external rotation.
func (fl *FileLogger) logFiles() []string {
	files := []string{fl.fileOpts.FilePath}
	matches, err := filepath.Glob(fl.fileOpts.FilePath + ".*")
	if err != nil {
		return files
	}
	return append(files, matches...)
}

// scanLogFile reads one JSONL file, returning the events that match plus the
// total number of lines scanned. Lines that fail to parse are skipped; an
// audit query must not die on a torn write.
func scanLogFile(path string, options QueryOptions) ([]Event, int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanned := 0

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		scanned++

		var event Event
		if err = json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if matchesFilter(event, options) {
			events = append(events, event)
		}
	}
	if err = scanner.Err(); err != nil {
		return events, scanned, fmt.Errorf("error reading audit log file: %w", err)
	}
	return events, scanned, nil
}

// expiryActionMarkers identify the purge-related actions ExpiryOnly selects.
var expiryActionMarkers = []string{
	"item_expired",
	"record_discarded",
	"rescan",
	"cleanup",
}

func matchesFilter(event Event, options QueryOptions) bool {
	if options.Namespace != "" && event.Namespace != options.Namespace {
		return false
	}
	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}
	if options.Action != "" && event.Action != options.Action {
		return false
	}
	if options.Success != nil && event.Success != *options.Success {
		return false
	}
	if options.ItemKey != "" && event.ItemKey != options.ItemKey {
		return false
	}
	if options.ExpiryOnly {
		action := strings.ToLower(event.Action)
		found := false
		for _, marker := range expiryActionMarkers {
			if strings.Contains(action, marker) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortNewestFirst(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

// Close releases the file handle. A later Log reopens it.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return nil
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}

// Package audit records security-relevant storage events (session opens,
// item writes, expiries, purges) through pluggable backends. Item keys may
// appear in events since the unencrypted store exposes them anyway;
// plaintext values never do.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Logger is the sink session operations report to. Implementations must
// tolerate concurrent Log calls.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event is one recorded operation. RequestID ties the event to the
// operation that produced it; ItemKey is set for per-item actions.
type Event struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Namespace string                 `json:"namespace"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	ItemKey   string                 `json:"item_key,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Source    string                 `json:"source,omitempty"` // host or origin
	SessionID string                 `json:"session_id,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
}

// QueryOptions filter an audit query. Zero values mean "no constraint";
// Success distinguishes nil (all) from pointers to true or false.
type QueryOptions struct {
	Namespace  string
	Since      *time.Time
	Until      *time.Time
	Action     string
	Success    *bool
	ItemKey    string
	Limit      int
	Offset     int
	ExpiryOnly bool // only expiry and purge related events
}

// QueryResult carries one page of matching events, newest first.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"` // events scanned
	Filtered   int     `json:"filtered"`    // events matching the filters
	HasMore    bool    `json:"has_more"`
}

// Config selects and configures a logging backend.
type Config struct {
	Enabled   bool                   `json:"enabled"`
	Namespace string                 `json:"namespace"`
	Type      ConfigType             `json:"type"`
	Options   map[string]interface{} `json:"options"` // provider-specific
	LogLevel  string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// NewLogger builds the backend the config names. Disabled or nil configs
// yield the no-op logger, never an error.
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// parseOptions maps the free-form Options into a provider's option struct
// by a JSON round trip, so providers declare plain tagged structs.
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err = json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return nil
}

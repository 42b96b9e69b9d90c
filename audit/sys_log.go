package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"time"

	"github.com/google/uuid"
)

var _ Logger = (*SyslogLogger)(nil)

// SyslogOptions are the syslog-provider settings carried in Config.Options.
// Leaving Network and Address empty connects to the local syslog daemon.
type SyslogOptions struct {
	Network  string `json:"network"`  // "tcp", "udp", ""
	Address  string `json:"address"`  // "localhost:514"
	Priority int    `json:"priority"` // overrides the level-derived default
	Tag      string `json:"tag"`
}

// SyslogLogger forwards events to syslog as JSON payloads. Syslog is a
// write-only sink; queries are answered by whatever stores the daemon's
// output, not by this logger.
type SyslogLogger struct {
	namespace string
	logLevel  string
	writer    *syslog.Writer
}

// NewSyslogLogger connects to the configured syslog daemon.
func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var opts SyslogOptions
	if err := parseOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}
	if opts.Priority == 0 {
		opts.Priority = defaultPriority(config.LogLevel)
	}
	if opts.Tag == "" {
		opts.Tag = "securestore-audit"
	}

	var writer *syslog.Writer
	var err error
	if opts.Network != "" && opts.Address != "" {
		writer, err = syslog.Dial(opts.Network, opts.Address, syslog.Priority(opts.Priority), opts.Tag)
	} else {
		writer, err = syslog.New(syslog.Priority(opts.Priority), opts.Tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create syslog writer: %w", err)
	}

	return &SyslogLogger{
		namespace: config.Namespace,
		logLevel:  config.LogLevel,
		writer:    writer,
	}, nil
}

func defaultPriority(logLevel string) int {
	switch logLevel {
	case "error":
		return int(syslog.LOG_ERR | syslog.LOG_USER)
	case "warn":
		return int(syslog.LOG_WARNING | syslog.LOG_USER)
	default:
		return int(syslog.LOG_INFO | syslog.LOG_USER)
	}
}

func (s *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Namespace: s.namespace,
		Action:    action,
		Success:   success,
		Metadata:  metadata,
		Source:    "securestore",
	}
	if v, ok := stringField(metadata, "error"); ok {
		event.Error = v
	}
	if v, ok := stringField(metadata, "item_key"); ok {
		event.ItemKey = v
	}
	return s.emit(event)
}

// emit picks the syslog severity from the event outcome: failures with an
// error go to Err, other failures to Warning, security-relevant successes
// to Notice, the rest to Info. At log level "error" routine successes are
// suppressed entirely.
func (s *SyslogLogger) emit(event Event) error {
	if s.writer == nil {
		return fmt.Errorf("syslog writer not initialized")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	// Fixed prefix so daemon-side filters have something to match on.
	message := "SECURESTORE_AUDIT: " + string(payload)

	switch {
	case !event.Success && event.Error != "":
		return s.writer.Err(message)
	case !event.Success:
		return s.writer.Warning(message)
	case noteworthyActions[event.Action]:
		return s.writer.Notice(message)
	case s.logLevel == "error":
		return nil
	default:
		return s.writer.Info(message)
	}
}

// noteworthyActions are successes still worth a Notice: they change what an
// operator can expect to find in the namespace.
var noteworthyActions = map[string]bool{
	"SESSION_OPENED":    true,
	"RECORD_DISCARDED":  true,
	"NAMESPACE_CLEARED": true,
	"IMPORT_COMPLETED":  true,
}

// Query always fails: the daemon owns the stored log, not this process.
func (s *SyslogLogger) Query(options QueryOptions) (QueryResult, error) {
	return QueryResult{Events: []Event{}}, fmt.Errorf("syslog logger does not support querying historical data")
}

func (s *SyslogLogger) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "audit.log")
	config := &Config{
		Enabled:   true,
		Namespace: "test-ns",
		Type:      FileAuditType,
		Options: map[string]interface{}{
			"file_path": logPath,
		},
	}

	logger, err := NewFileLogger(config)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	return logger, logPath
}

func TestFileLoggerWritesJSONL(t *testing.T) {
	logger, logPath := newTestFileLogger(t)

	if err := logger.Log("ITEM_STORED", true, map[string]interface{}{
		"request_id": "v_123",
		"item_key":   "token",
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Log("ITEM_EXPIRED", true, map[string]interface{}{
		"item_key": "token",
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read audit log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("audit log file is empty")
	}
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	actions := []struct {
		action  string
		success bool
		itemKey string
	}{
		{"SESSION_OPENED", true, ""},
		{"ITEM_STORED", true, "alpha"},
		{"ITEM_STORED", true, "beta"},
		{"ITEM_STORED", false, "gamma"},
		{"ITEM_EXPIRED", true, "alpha"},
		{"SESSION_CLOSED", true, ""},
	}
	for _, a := range actions {
		metadata := map[string]interface{}{}
		if a.itemKey != "" {
			metadata["item_key"] = a.itemKey
		}
		if err := logger.Log(a.action, a.success, metadata); err != nil {
			t.Fatalf("Log(%s) failed: %v", a.action, err)
		}
	}

	t.Run("ByAction", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Action: "ITEM_STORED"})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(result.Events) != 3 {
			t.Errorf("expected 3 ITEM_STORED events, got %d", len(result.Events))
		}
	})

	t.Run("ByItemKey", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{ItemKey: "alpha"})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(result.Events) != 2 {
			t.Errorf("expected 2 events for item alpha, got %d", len(result.Events))
		}
	})

	t.Run("ByFailure", func(t *testing.T) {
		failed := false
		result, err := logger.Query(QueryOptions{Success: &failed})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(result.Events) != 1 {
			t.Errorf("expected 1 failed event, got %d", len(result.Events))
		}
	})

	t.Run("ExpiryOnly", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{ExpiryOnly: true})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(result.Events) != 1 {
			t.Errorf("expected 1 expiry event, got %d", len(result.Events))
		}
		if len(result.Events) == 1 && result.Events[0].Action != "ITEM_EXPIRED" {
			t.Errorf("expected ITEM_EXPIRED, got %s", result.Events[0].Action)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Limit: 2})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(result.Events) != 2 {
			t.Errorf("expected 2 events with limit, got %d", len(result.Events))
		}
		if !result.HasMore {
			t.Error("expected HasMore with limit smaller than event count")
		}
	})
}

func TestFileLoggerQueryNewestFirst(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	logger.Log("FIRST", true, nil)
	time.Sleep(5 * time.Millisecond)
	logger.Log("SECOND", true, nil)

	result, err := logger.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	if result.Events[0].Action != "SECOND" {
		t.Errorf("expected newest event first, got %s", result.Events[0].Action)
	}
}

func TestFileLoggerSurvivesReopen(t *testing.T) {
	logger, logPath := newTestFileLogger(t)

	if err := logger.Log("SESSION_OPENED", true, nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A closed logger reopens its file on the next write
	if err := logger.Log("SESSION_OPENED", true, nil); err != nil {
		t.Fatalf("Log after Close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read audit log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("audit log file is empty after reopen")
	}
}

func TestNewLoggerFactory(t *testing.T) {
	t.Run("DisabledReturnsNoOp", func(t *testing.T) {
		logger, err := NewLogger(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if _, ok := logger.(*NoOpLogger); !ok {
			t.Errorf("expected NoOpLogger, got %T", logger)
		}
	})

	t.Run("NilConfigReturnsNoOp", func(t *testing.T) {
		logger, err := NewLogger(nil)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if _, ok := logger.(*NoOpLogger); !ok {
			t.Errorf("expected NoOpLogger, got %T", logger)
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: "carrier-pigeon"})
		if err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})

	t.Run("NoOpLoggerAcceptsEverything", func(t *testing.T) {
		logger := NewNoOpLogger()
		if err := logger.Log("ANYTHING", true, nil); err != nil {
			t.Errorf("NoOp Log returned error: %v", err)
		}
		if _, err := logger.Query(QueryOptions{}); err != nil {
			t.Errorf("NoOp Query returned error: %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("NoOp Close returned error: %v", err)
		}
	})
}

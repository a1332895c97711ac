package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/platinummonkey/caregate/pkg/contextkeys"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		if entry["level"] != "info" {
			t.Errorf("Expected level info, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("formatted warn logged", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("cache %s", "down")
		entry := decodeEntry(t, &buf)
		if entry["msg"] != "cache down" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("user_id", 7).
		WithFields(map[string]interface{}{"hospital_id": 3}).
		WithError(errors.New("boom")).
		Error("resolve failed")

	entry := decodeEntry(t, &buf)
	if entry["user_id"] != float64(7) {
		t.Errorf("Expected user_id 7, got %v", entry["user_id"])
	}
	if entry["hospital_id"] != float64(3) {
		t.Errorf("Expected hospital_id 3, got %v", entry["hospital_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewNopLogger()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "42")

	FromContext(ctx).Info("hello")
	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-1" {
		t.Errorf("Expected request_id, got %v", entry["request_id"])
	}
	if entry["user_id"] != "42" {
		t.Errorf("Expected user_id, got %v", entry["user_id"])
	}
}

func TestLogLevel_String(t *testing.T) {
	levels := map[LogLevel]string{DebugLevel: "DEBUG", InfoLevel: "INFO", WarnLevel: "WARN", ErrorLevel: "ERROR"}
	for level, want := range levels {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %s, want %s", level, got, want)
		}
	}
}

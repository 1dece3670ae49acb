package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerCreatesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(true, logPath)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("test entry", zap.String("component", "test"))
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "test entry") {
		t.Errorf("log file does not contain entry, got: %s", data)
	}
}

func TestLogFileIsJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(false, logPath)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("structured entry", zap.Int("count", 42))
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, "{") {
		t.Errorf("expected JSON log line, got: %s", line)
	}
	if !strings.Contains(line, `"count":42`) {
		t.Errorf("expected count field in JSON, got: %s", line)
	}
}

func TestSensitiveFieldsRedacted(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(false, logPath)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("client configured",
		zap.String("api_key", "sk-supersecret"),
		zap.String("base_url", "http://localhost:11434"),
	)
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	content := string(data)
	if strings.Contains(content, "sk-supersecret") {
		t.Error("api key leaked into log output")
	}
	if !strings.Contains(content, redactedValue) {
		t.Error("expected redaction marker in log output")
	}
	if !strings.Contains(content, "http://localhost:11434") {
		t.Error("non-sensitive field should pass through unchanged")
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"api_key", true},
		{"LLM_API_KEY", true},
		{"password_hash", true},
		{"access_token", true},
		{"client_secret", true},
		{"authorization", true},
		{"base_url", false},
		{"document_id", false},
		{"status", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := isSensitiveKey(tt.key); got != tt.want {
				t.Errorf("isSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedactFieldsLeavesOriginalUntouched(t *testing.T) {
	fields := []zapcore.Field{
		zap.String("api_key", "secret-value"),
		zap.String("name", "doc.pdf"),
	}

	out := redactFields(fields)

	if fields[0].String != "secret-value" {
		t.Error("redactFields mutated the input slice")
	}
	if out[0].String != redactedValue {
		t.Errorf("redacted value = %q, want %q", out[0].String, redactedValue)
	}
	if out[1].String != "doc.pdf" {
		t.Error("non-sensitive field was altered")
	}
}

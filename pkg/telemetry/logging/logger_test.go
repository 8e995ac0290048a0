package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/tollgate/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid JSON config",
			config: Config{Level: "info", Format: "json", RedactPII: true},
		},
		{
			name:   "valid text config",
			config: Config{Level: "debug", Format: "text"},
		},
		{
			name:   "valid console config",
			config: Config{Level: "WARN", Format: "console", RedactPII: true},
		},
		{
			name:   "defaults",
			config: Config{},
		},
		{
			name:    "invalid log level",
			config:  Config{Level: "invalid", Format: "json"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  Config{Level: "info", Format: "invalid"},
			wantErr: true,
		},
		{
			name: "invalid redact pattern",
			config: Config{
				RedactPII:      true,
				RedactPatterns: []config.RedactPattern{{Name: "bad", Pattern: "[unclosed"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Writer = &bytes.Buffer{}

			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		log     func(buf *bytes.Buffer, level string)
		wantLog bool
	}{
		{"debug", logDebug, true},
		{"info", logDebug, false},
		{"info", logInfo, true},
		{"warn", logInfo, false},
		{"error", logWarn, false},
	}

	for _, tt := range tests {
		buf := &bytes.Buffer{}
		tt.log(buf, tt.level)
		if got := buf.Len() > 0; got != tt.wantLog {
			t.Errorf("level %s: logged = %v, want %v (%q)", tt.level, got, tt.wantLog, buf.String())
		}
	}
}

func logDebug(buf *bytes.Buffer, level string) { mustLogger(buf, level).Debug("message") }
func logInfo(buf *bytes.Buffer, level string)  { mustLogger(buf, level).Info("message") }
func logWarn(buf *bytes.Buffer, level string)  { mustLogger(buf, level).Warn("message") }

func mustLogger(buf *bytes.Buffer, level string) interface {
	Debug(string, ...any)
	Info(string, ...any)
	Warn(string, ...any)
} {
	logger, err := New(Config{Level: level, Format: "json", Writer: buf})
	if err != nil {
		panic(err)
	}
	return logger
}

func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info("allocation granted", "user_id", "alice", "tokens_allocated", 300)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "allocation granted" {
		t.Errorf("Expected msg field, got %v", entry["msg"])
	}
	if entry["user_id"] != "alice" {
		t.Errorf("Expected user_id alice, got %v", entry["user_id"])
	}
	if entry["tokens_allocated"] != float64(300) {
		t.Errorf("Expected tokens_allocated 300, got %v", entry["tokens_allocated"])
	}
}

func TestLogger_Redaction(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "text", RedactPII: true, Writer: buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.With("api_key", "sk-abcdef123456").Info("request from alice@example.com",
		"header", "Bearer abc.def.ghi",
		"tokens_requested", 500,
	)

	out := buf.String()
	for _, leaked := range []string{"sk-abcdef123456", "alice@example.com", "abc.def.ghi"} {
		if strings.Contains(out, leaked) {
			t.Errorf("Output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "tokens_requested=500") {
		t.Errorf("Token counts must not be redacted: %s", out)
	}
	if !strings.Contains(out, "a***@example.com") {
		t.Errorf("Expected partially redacted email: %s", out)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should not be enabled at error level")
	}
	logger.Error("dropped")
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json without output", config: &Config{Level: "debug", Format: "json"}},
		{name: "console config", config: &Config{Level: "info", Format: "console", Output: io.Discard}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, New(tt.config))
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	log.Info("profile detected")

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "profile detected", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	child := log.With().
		Str("run_id", "r-1").
		Str("stage", "load").
		Int("chunk", 3).
		Int64("rows", 5000).
		Bool("bulk", true).
		Dur("elapsed", 1500*time.Millisecond).
		Logger()

	child.Info("chunk committed")

	entry := decode(t, buf)
	assert.Equal(t, "r-1", entry["run_id"])
	assert.Equal(t, "load", entry["stage"])
	assert.Equal(t, float64(3), entry["chunk"])
	assert.Equal(t, float64(5000), entry["rows"])
	assert.Equal(t, true, entry["bulk"])
	assert.Equal(t, "chunk committed", entry["message"])
}

func TestLogger_Stage(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	log.Stage("provision", "", "people").Info("table created")

	entry := decode(t, buf)
	assert.Equal(t, "provision", entry["stage"])
	assert.Equal(t, "people", entry["table"])
	assert.NotContains(t, entry, "run_id")
}

func TestLogger_ErrorWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "error", Format: "json", Output: buf})

	log.ErrorWith("chunk failed", errors.New("connection reset"), map[string]interface{}{
		"chunk":   7,
		"attempt": 4,
	})

	entry := decode(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "chunk failed", entry["message"])
	assert.Equal(t, "connection reset", entry["error"])
	assert.Equal(t, float64(7), entry["chunk"])
	assert.Equal(t, float64(4), entry["attempt"])
}

func TestLogger_WarnWith(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "warning", Format: "json", Output: buf})

	log.WarnWith("retrying chunk", errors.New("timeout"), map[string]interface{}{"chunk": 1})

	entry := decode(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "timeout", entry["error"])
}

func TestLogger_Context(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	ctx := log.WithContext(context.Background())
	FromContext(ctx).Info("from context")

	assert.Equal(t, "from context", decode(t, buf)["message"])
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	prev := L()
	t.Cleanup(func() { SetGlobal(prev) })

	nop := Nop()
	SetGlobal(nop)
	assert.Same(t, nop, FromContext(context.Background()))
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFunc  func(*Logger)
		expected bool // should log or not
	}{
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("debug message") }, true},
		{"info level skips debug", "info", func(l *Logger) { l.Debug("debug message") }, false},
		{"error level logs error", "error", func(l *Logger) { l.Error("error message") }, true},
		{"error level skips info", "error", func(l *Logger) { l.Info("info message") }, false},
		{"uppercase level", "WARN", func(l *Logger) { l.Info("info message") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log := New(&Config{Level: tt.level, Format: "json", Output: buf})

			tt.logFunc(log)

			if tt.expected {
				assert.NotEmpty(t, buf.String(), "expected log output")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func BenchmarkLogger_WithFields(b *testing.B) {
	log := New(&Config{Level: "info", Format: "json", Output: io.Discard})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.With().
			Str("stage", "load").
			Int("chunk", i).
			Logger().
			Info("chunk committed")
	}
}

package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	testcases := []struct {
		name      string
		log       func(l *Logger)
		wantLevel string
		wantMsg   string
		wantErr   string
	}{
		{
			name:      "debug",
			log:       func(l *Logger) { l.Debug("debug message") },
			wantLevel: "debug",
			wantMsg:   "debug message",
		},
		{
			name:      "info",
			log:       func(l *Logger) { l.Info("info message") },
			wantLevel: "info",
			wantMsg:   "info message",
		},
		{
			name:      "warn",
			log:       func(l *Logger) { l.Warn("warn message") },
			wantLevel: "warn",
			wantMsg:   "warn message",
		},
		{
			name:      "error",
			log:       func(l *Logger) { l.Error("error message", errors.New("boom")) },
			wantLevel: "error",
			wantMsg:   "error message",
			wantErr:   "boom",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := &Logger{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)}
			tc.log(l)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tc.wantLevel, entry["level"])
			assert.Equal(t, tc.wantMsg, entry["message"])
			if tc.wantErr != "" {
				assert.Equal(t, tc.wantErr, entry["error"])
			}
		})
	}
}

func TestNew(t *testing.T) {
	testcases := []struct {
		name      string
		level     string
		wantLevel zerolog.Level
	}{
		{name: "debug level", level: "debug", wantLevel: zerolog.DebugLevel},
		{name: "upper case level", level: "WARN", wantLevel: zerolog.WarnLevel},
		{name: "unknown level", level: "verbose", wantLevel: zerolog.InfoLevel},
		{name: "empty level", level: "", wantLevel: zerolog.InfoLevel},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			l := New(&bytes.Buffer{}, tc.level)
			assert.Equal(t, tc.wantLevel, l.Logger.GetLevel())
		})
	}
}

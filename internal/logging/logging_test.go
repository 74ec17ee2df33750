package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		logger, err := New(tt.level)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", tt.level, err)
		}
		if !logger.Core().Enabled(tt.want) {
			t.Errorf("New(%q) does not enable %s", tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q) enables %s", tt.level, tt.want-1)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New("chatty"); err == nil {
		t.Fatal("New() should fail for an unknown level")
	}
}

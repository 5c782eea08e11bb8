package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":    zapcore.DebugLevel,
		"DEBUG":    zapcore.DebugLevel,
		"INFO":     zapcore.InfoLevel,
		"warning":  zapcore.WarnLevel,
		"WARN":     zapcore.WarnLevel,
		"ERROR":    zapcore.ErrorLevel,
		"CRITICAL": zapcore.ErrorLevel,
		"":         zapcore.InfoLevel,
		"verbose":  zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	log, err := New("warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled at warn level")
	}
	if !log.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn disabled at warn level")
	}
}

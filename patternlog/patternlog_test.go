package patternlog

import (
	"strings"
	"testing"
)

func TestNewWriter_LogsAtConfiguredLevel(t *testing.T) {
	var buf strings.Builder
	logger := NewWriter("test", "warn", &buf)

	logger.Info("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected info to be suppressed at warn level, got %q", buf.String())
	}

	logger.Warn("should appear", "key", "value")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message in output, got %q", buf.String())
	}
}

func TestDiscard_NeverPanics(t *testing.T) {
	logger := Discard()
	logger.Info("anything", "a", 1)
}

func TestDefault_IsUsable(t *testing.T) {
	if Default == nil {
		t.Fatal("Default logger should not be nil")
	}
}

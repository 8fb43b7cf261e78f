package logging

import "testing"

func TestNewLoggerAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "warning", "error", " Info "} {
		logger, err := NewLogger(level)
		if err != nil {
			t.Fatalf("unexpected error for level %q: %v", level, err)
		}
		if logger == nil {
			t.Fatalf("expected logger for level %q", level)
		}
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("verbose"); err == nil {
		t.Fatalf("expected unknown level to be rejected")
	}
}

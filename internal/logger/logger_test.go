package logger

import "testing"

func TestNewBuildsForKnownModes(t *testing.T) {
	for _, mode := range []string{"development", "production", "", "unrecognized"} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if log == nil || log.SugaredLogger == nil {
			t.Fatalf("New(%q) returned an incomplete logger", mode)
		}
	}
}

func TestWithReturnsIndependentChildLogger(t *testing.T) {
	log, err := New("development")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := log.With("component", "test")
	if child == log {
		t.Fatalf("expected With to return a distinct logger instance")
	}
	if child.SugaredLogger == nil {
		t.Fatalf("expected child logger to retain a sugared logger")
	}
}

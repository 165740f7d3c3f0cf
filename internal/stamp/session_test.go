package stamp

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWaitForPromptAfterStartupNoise(t *testing.T) {
	out := strings.NewReader("GIMP version 2.10\nloading scripts...\nts> ")
	s := newSession(io.Discard, out)

	if err := s.waitFor(promptMarker); err != nil {
		t.Fatalf("prompt not found: %v", err)
	}
}

func TestWaitForCompletionLine(t *testing.T) {
	out := strings.NewReader("(stamper-stamp ...)\n\"Seal Saved\"\nts> ")
	s := newSession(io.Discard, out)

	if err := s.waitFor(stampDoneMarker); err != nil {
		t.Fatalf("completion marker not found: %v", err)
	}
	// After the completion line the prompt is still waiting in the
	// stream.
	if err := s.waitFor(promptMarker); err != nil {
		t.Fatalf("prompt after completion not found: %v", err)
	}
}

func TestWaitForReturnsErrorOnStreamEnd(t *testing.T) {
	out := strings.NewReader("almost ts>")
	s := newSession(io.Discard, out)

	err := s.waitFor(promptMarker)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestWaitForConsecutivePrompts(t *testing.T) {
	out := strings.NewReader("ts> ts> ")
	s := newSession(io.Discard, out)

	if err := s.waitFor(promptMarker); err != nil {
		t.Fatalf("first prompt: %v", err)
	}
	if err := s.waitFor(promptMarker); err != nil {
		t.Fatalf("second prompt: %v", err)
	}
}

func TestSubmitWritesCommand(t *testing.T) {
	var sb strings.Builder
	s := newSession(&sb, strings.NewReader(""))

	if err := s.submit("(gimp-quit 0)\n"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if sb.String() != "(gimp-quit 0)\n" {
		t.Fatalf("unexpected command written: %q", sb.String())
	}
}

package guard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/slkreddy/SafeLayer/internal/audit"
)

func TestManagerCleansText(t *testing.T) {
	sink := &audit.MemorySink{}
	manager := NewManager([]Guard{
		NewPIIGuard(PIIOptions{}, testLogger()),
		NewToneGuard(ToneOptions{}, testLogger()),
	}, sink, testLogger())

	output, err := manager.Run(context.Background(), "Email me at foo@bar.com. This is crap.")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.Contains(output, "[EMAIL MASKED]") {
		t.Errorf("Expected email placeholder in %q", output)
	}
	if !strings.Contains(output, "****") {
		t.Errorf("Expected profanity placeholder in %q", output)
	}

	entries := sink.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Entity != "email" || entries[0].Guard != "pii" {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].Entity != "profanity" || entries[1].Guard != "tone" {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			t.Errorf("Entry missing timestamp: %+v", e)
		}
		if e.Snippet == "" {
			t.Errorf("Entry missing pre-mask snippet: %+v", e)
		}
	}
}

func TestManagerCleanInputUnchanged(t *testing.T) {
	sink := &audit.MemorySink{}
	manager := NewManager([]Guard{
		NewPIIGuard(PIIOptions{}, testLogger()),
		NewToneGuard(ToneOptions{}, testLogger()),
		NewSpeechGuard(false, testLogger()),
	}, sink, testLogger())

	input := "A perfectly ordinary sentence."
	output, err := manager.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if output != input {
		t.Errorf("Clean input changed: %q", output)
	}
	if len(sink.Entries()) != 0 {
		t.Errorf("Expected zero audit entries, got %d", len(sink.Entries()))
	}
}

func TestManagerEmptyInput(t *testing.T) {
	manager := NewManager([]Guard{NewPIIGuard(PIIOptions{}, testLogger())}, nil, testLogger())

	output, err := manager.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if output != "" {
		t.Errorf("Empty input should return unchanged, got %q", output)
	}
}

// TestManagerOrderMatters shows that guard order is caller-significant: an
// earlier guard's masking can change what a later guard sees.
func TestManagerOrderMatters(t *testing.T) {
	input := "contact damn.user@example.com"

	piiFirst := NewManager([]Guard{
		NewPIIGuard(PIIOptions{}, testLogger()),
		NewToneGuard(ToneOptions{}, testLogger()),
	}, nil, testLogger())
	toneFirst := NewManager([]Guard{
		NewToneGuard(ToneOptions{}, testLogger()),
		NewPIIGuard(PIIOptions{}, testLogger()),
	}, nil, testLogger())

	out1, err := piiFirst.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out2, err := toneFirst.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out1 == out2 {
		t.Errorf("Expected order-dependent outputs, both were %q", out1)
	}
	if out1 != "contact [EMAIL MASKED]" {
		t.Errorf("PII-first output unexpected: %q", out1)
	}
	if !strings.Contains(out2, "****") {
		t.Errorf("Tone-first output should carry the tone placeholder: %q", out2)
	}
}

// failingGuard raises from Check to exercise abort semantics.
type failingGuard struct {
	base
}

func (g *failingGuard) Check(text string) ([]Finding, error) {
	return nil, errors.New("detector exploded")
}

func (g *failingGuard) Mask(text string) (string, error) {
	return text, nil
}

func TestManagerGuardErrorAborts(t *testing.T) {
	sink := &audit.MemorySink{}
	manager := NewManager([]Guard{
		NewPIIGuard(PIIOptions{}, testLogger()),
		&failingGuard{base: base{name: "broken", logger: testLogger()}},
		NewToneGuard(ToneOptions{}, testLogger()),
	}, sink, testLogger())

	output, err := manager.Run(context.Background(), "foo@bar.com is crap")
	if err == nil {
		t.Fatal("Expected error from failing guard")
	}
	if output != "" {
		t.Errorf("No partial output should be returned, got %q", output)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Error should name the guard: %v", err)
	}
}

func TestManagerContextCancellation(t *testing.T) {
	manager := NewManager([]Guard{NewPIIGuard(PIIOptions{}, testLogger())}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := manager.Run(ctx, "anything"); err == nil {
		t.Fatal("Expected context cancellation error")
	}
}

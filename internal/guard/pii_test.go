package guard

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func TestPIIGuard(t *testing.T) {
	g := NewPIIGuard(PIIOptions{}, testLogger())

	t.Run("EmailMasking", func(t *testing.T) {
		masked, err := g.Mask("Contact: jane.doe@example.com")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		if !strings.Contains(masked, "[EMAIL MASKED]") {
			t.Errorf("Expected email placeholder, got %q", masked)
		}
		if strings.Contains(masked, "jane.doe@example.com") {
			t.Errorf("Email still present in output: %q", masked)
		}
	})

	t.Run("PhoneMasking", func(t *testing.T) {
		masked, err := g.Mask("Call me at 9876543210.")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		if !strings.Contains(masked, "[PHONE MASKED]") {
			t.Errorf("Expected phone placeholder, got %q", masked)
		}
	})

	t.Run("CheckEmailAndPhone", func(t *testing.T) {
		findings, err := g.Check("john@foo.com 9876543210")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if len(findings) != 2 {
			t.Fatalf("Expected 2 findings, got %d", len(findings))
		}

		entities := map[string]bool{}
		for _, f := range findings {
			entities[f.Entity] = true
			if f.Start < 0 || f.End > len("john@foo.com 9876543210") || f.Start > f.End {
				t.Errorf("Finding offsets out of range: %+v", f)
			}
		}
		if !entities["email"] || !entities["phone"] {
			t.Errorf("Expected email and phone entities, got %v", entities)
		}
	})

	t.Run("CheckDoesNotMutate", func(t *testing.T) {
		text := "john@foo.com"
		if _, err := g.Check(text); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if text != "john@foo.com" {
			t.Error("Check mutated its input")
		}
	})

	t.Run("MaskIdempotent", func(t *testing.T) {
		once, _ := g.Mask("reach me: a@b.io or 1234567890")
		twice, _ := g.Mask(once)
		if once != twice {
			t.Errorf("Mask not idempotent: %q vs %q", once, twice)
		}
	})

	t.Run("CleanTextUntouched", func(t *testing.T) {
		masked, _ := g.Mask("nothing sensitive here")
		if masked != "nothing sensitive here" {
			t.Errorf("Clean text changed: %q", masked)
		}
	})
}

// fakeRecognizer is a canned EntityRecognizer for testing the delegated path.
type fakeRecognizer struct {
	entities []Entity
	err      error
}

func (f *fakeRecognizer) Recognize(text string) ([]Entity, error) { return f.entities, f.err }
func (f *fakeRecognizer) IsReady() bool                           { return true }
func (f *fakeRecognizer) Close() error                            { return nil }

func TestPIIGuardWithRecognizer(t *testing.T) {
	rec := &fakeRecognizer{entities: []Entity{
		{Type: "EMAIL_ADDRESS", Start: 9, End: 21},
	}}
	g := NewPIIGuard(PIIOptions{Recognizer: rec}, testLogger())

	findings, err := g.Check("write to john@foo.com today")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("Expected 1 finding, got %d", len(findings))
	}
	if findings[0].Entity != "EMAIL_ADDRESS" {
		t.Errorf("Expected recognizer entity kind, got %q", findings[0].Entity)
	}

	// Masking stays pattern based regardless of the detection backend.
	masked, _ := g.Mask("write to john@foo.com today")
	if !strings.Contains(masked, "[EMAIL MASKED]") {
		t.Errorf("Expected email placeholder, got %q", masked)
	}
}

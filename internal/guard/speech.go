package guard

import (
	"fmt"
	"regexp"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// Patterns that are unsafe to hand to a speech synthesizer: embedded
// script-like markup, and non-ASCII runs the synthesizer cannot voice.
var speechPatterns = []struct {
	entity  string
	pattern *regexp.Regexp
}{
	{"invalid_tts", regexp.MustCompile(`(?i)<[^>]*script`)},
	{"invalid_tts", regexp.MustCompile(`[^\x00-\x7F]+`)},
}

// SpeechGuard detects constructs unsafe for text-to-speech output and strips
// them entirely rather than substituting placeholders.
type SpeechGuard struct {
	base
}

// NewSpeechGuard creates a speech safety guard.
func NewSpeechGuard(explain bool, log *logger.Logger) *SpeechGuard {
	return &SpeechGuard{
		base: base{name: "tts", explain: explain, logger: log},
	}
}

// Check returns one finding per unsafe fragment.
func (g *SpeechGuard) Check(text string) ([]Finding, error) {
	findings := make([]Finding, 0)
	for _, p := range speechPatterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Entity:      p.entity,
				Start:       loc[0],
				End:         loc[1],
				Explanation: fmt.Sprintf("unsafe for speech: %q at %d-%d", text[loc[0]:loc[1]], loc[0], loc[1]),
			})
		}
	}
	return findings, nil
}

// Mask removes every unsafe fragment.
func (g *SpeechGuard) Mask(text string) (string, error) {
	for _, p := range speechPatterns {
		text = p.pattern.ReplaceAllString(text, "")
	}
	return text, nil
}

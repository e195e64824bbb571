package guard

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// defaultDenylist is the built-in profanity vocabulary. Policies can replace
// it through the guard's custom configuration.
var defaultDenylist = []string{"damn", "crap", "shit", "fuck"}

// toneMask is the fixed-width placeholder written over every matched word,
// regardless of the word's length.
const toneMask = "****"

// ToneGuard detects a denylist of profane or offensive tokens with
// case-insensitive whole-word matching.
type ToneGuard struct {
	base
	words   []string
	pattern *regexp.Regexp
}

// ToneOptions configures a ToneGuard.
type ToneOptions struct {
	Explain bool
	Words   []string
}

// NewToneGuard creates a tone guard. An empty word list falls back to the
// built-in denylist.
func NewToneGuard(opts ToneOptions, log *logger.Logger) *ToneGuard {
	words := opts.Words
	if len(words) == 0 {
		words = defaultDenylist
	}

	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = regexp.QuoteMeta(w)
	}
	pattern := regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)

	log.Debug("Tone guard initialized", zap.Int("denylist_size", len(words)))

	return &ToneGuard{
		base:    base{name: "tone", explain: opts.Explain, logger: log},
		words:   words,
		pattern: pattern,
	}
}

// Check returns one finding per matched word.
func (g *ToneGuard) Check(text string) ([]Finding, error) {
	findings := make([]Finding, 0)
	for _, loc := range g.pattern.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		findings = append(findings, Finding{
			Entity:      "profanity",
			Start:       loc[0],
			End:         loc[1],
			Explanation: fmt.Sprintf("profanity %q at %d-%d", word, loc[0], loc[1]),
		})
	}
	return findings, nil
}

// Mask overwrites each matched word with the fixed-width placeholder.
func (g *ToneGuard) Mask(text string) (string, error) {
	return g.pattern.ReplaceAllString(text, toneMask), nil
}

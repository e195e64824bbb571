package guard

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// DetectionRule represents a single pattern-based detection rule
type DetectionRule struct {
	Entity      string
	Pattern     *regexp.Regexp
	Replacement string
}

var piiRules = []DetectionRule{
	{
		Entity:      "email",
		Pattern:     regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`),
		Replacement: "[EMAIL MASKED]",
	},
	{
		Entity:      "phone",
		Pattern:     regexp.MustCompile(`\b\d{10}\b`),
		Replacement: "[PHONE MASKED]",
	},
}

// PIIGuard detects and masks email addresses and phone numbers. Detection
// uses the built-in pattern rules unless an external entity recognizer is
// injected, in which case the recognizer drives Check while masking stays
// pattern based.
type PIIGuard struct {
	base
	rules      []DetectionRule
	recognizer EntityRecognizer
}

// PIIOptions configures a PIIGuard.
type PIIOptions struct {
	Explain    bool
	Recognizer EntityRecognizer
}

// NewPIIGuard creates a PII guard with the default rule set.
func NewPIIGuard(opts PIIOptions, log *logger.Logger) *PIIGuard {
	g := &PIIGuard{
		base:       base{name: "pii", explain: opts.Explain, logger: log},
		rules:      piiRules,
		recognizer: opts.Recognizer,
	}

	if g.recognizer != nil && g.recognizer.IsReady() {
		log.Info("PII guard using external entity recognizer")
	} else {
		g.recognizer = nil
		log.Debug("PII guard using pattern rules", zap.Int("rules", len(g.rules)))
	}

	return g
}

// Check returns one finding per detected entity.
func (g *PIIGuard) Check(text string) ([]Finding, error) {
	if g.recognizer != nil {
		return g.checkRecognizer(text)
	}

	findings := make([]Finding, 0)
	for _, rule := range g.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Entity:      rule.Entity,
				Start:       loc[0],
				End:         loc[1],
				Explanation: fmt.Sprintf("%s %q at %d-%d", rule.Entity, text[loc[0]:loc[1]], loc[0], loc[1]),
			})
		}
	}
	return findings, nil
}

// checkRecognizer delegates detection to the injected recognizer. Entity
// kinds follow the recognizer's vocabulary (e.g. EMAIL_ADDRESS, PHONE_NUMBER).
func (g *PIIGuard) checkRecognizer(text string) ([]Finding, error) {
	entities, err := g.recognizer.Recognize(text)
	if err != nil {
		return nil, fmt.Errorf("entity recognizer failed: %w", err)
	}

	findings := make([]Finding, 0, len(entities))
	for _, e := range entities {
		findings = append(findings, Finding{
			Entity:      e.Type,
			Start:       e.Start,
			End:         e.End,
			Explanation: fmt.Sprintf("recognizer: %s at %d-%d", e.Type, e.Start, e.End),
		})
	}
	return findings, nil
}

// Mask replaces each entity class with its placeholder token.
func (g *PIIGuard) Mask(text string) (string, error) {
	for _, rule := range g.rules {
		text = rule.Pattern.ReplaceAllString(text, rule.Replacement)
	}
	return text, nil
}

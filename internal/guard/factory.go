package guard

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
	"github.com/slkreddy/SafeLayer/internal/policy"
)

// Options carries pipeline-wide construction settings.
type Options struct {
	// Explain enables human-readable rationale logging on every guard.
	Explain bool
	// Recognizer, when non-nil and ready, backs the PII guard's detection.
	Recognizer EntityRecognizer
}

// FromPolicy builds the guard chain implied by a policy set. Disabled slots
// are skipped; slots are instantiated in sorted slot-name order so the chain
// is deterministic for a given policy. An unknown guard type is a
// configuration error.
func FromPolicy(ps *policy.PolicySet, opts Options, log *logger.Logger) ([]Guard, error) {
	names := make([]string, 0, len(ps.Guards))
	for name := range ps.Guards {
		names = append(names, name)
	}
	sort.Strings(names)

	guards := make([]Guard, 0, len(names))
	for _, name := range names {
		gp := ps.Guards[name]
		if !gp.Enabled {
			continue
		}

		g, err := build(gp, opts, log)
		if err != nil {
			return nil, fmt.Errorf("guard slot %q: %w", name, err)
		}
		guards = append(guards, g)
	}

	log.Info("Guard chain built",
		zap.String("policy", ps.Name),
		zap.Int("guards", len(guards)),
	)

	return guards, nil
}

func build(gp *policy.GuardPolicy, opts Options, log *logger.Logger) (Guard, error) {
	switch gp.GuardType {
	case "pii":
		return NewPIIGuard(PIIOptions{Explain: opts.Explain, Recognizer: opts.Recognizer}, log), nil
	case "tone":
		return NewToneGuard(ToneOptions{Explain: opts.Explain, Words: customWords(gp)}, log), nil
	case "tts":
		return NewSpeechGuard(opts.Explain, log), nil
	default:
		return nil, fmt.Errorf("unknown guard type: %s", gp.GuardType)
	}
}

// customWords reads an optional "words" list from the guard's custom
// configuration.
func customWords(gp *policy.GuardPolicy) []string {
	raw, ok := gp.CustomConfig["words"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		words := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				words = append(words, s)
			}
		}
		return words
	default:
		return nil
	}
}

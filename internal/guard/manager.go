package guard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/audit"
	"github.com/slkreddy/SafeLayer/internal/logger"
)

// Manager runs an ordered list of guards over input text, sequentially
// detecting and masking, and records every finding to the audit sink.
//
// Guard order is caller-significant: each guard's Check runs against the
// output of all earlier guards' masking, so an earlier guard can hide or
// alter text a later guard would otherwise have flagged. No isolation
// between guards is provided; this coupling is deliberate.
type Manager struct {
	guards []Guard
	sink   audit.Sink
	logger *logger.Logger
}

// NewManager creates a manager over the given guard chain.
func NewManager(guards []Guard, sink audit.Sink, log *logger.Logger) *Manager {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Manager{guards: guards, sink: sink, logger: log}
}

// Guards returns the ordered guard chain.
func (m *Manager) Guards() []Guard {
	return m.guards
}

// Run sanitizes text through every guard in order and returns the result.
// For each guard it checks the current text, records an audit entry and
// emits an explanation per finding, then masks and hands the masked text to
// the next guard. A guard or sink error aborts the whole run; no partially
// masked output is returned.
//
// Audit entries carry offsets as they were at detection time together with
// the matched snippet, since masking invalidates offsets against the final
// output.
func (m *Manager) Run(ctx context.Context, text string) (string, error) {
	for _, g := range m.guards {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		findings, err := g.Check(text)
		if err != nil {
			return "", fmt.Errorf("guard %s check failed: %w", g.Name(), err)
		}

		for _, f := range findings {
			entry := audit.Entry{
				Guard:       g.Name(),
				Entity:      f.Entity,
				Start:       f.Start,
				End:         f.End,
				Snippet:     snippet(text, f.Start, f.End),
				Explanation: f.Explanation,
				Timestamp:   time.Now().UTC(),
			}
			if err := m.sink.Record(entry); err != nil {
				return "", fmt.Errorf("audit record failed for guard %s: %w", g.Name(), err)
			}
			g.Explain(f)
		}

		masked, err := g.Mask(text)
		if err != nil {
			return "", fmt.Errorf("guard %s mask failed: %w", g.Name(), err)
		}

		if len(findings) > 0 {
			m.logger.Debug("Guard masked text",
				zap.String("guard", g.Name()),
				zap.Int("findings", len(findings)),
			)
		}

		text = masked
	}

	return text, nil
}

// snippet extracts the matched region, clamped to the text bounds.
func snippet(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

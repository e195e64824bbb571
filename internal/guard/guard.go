// Package guard implements the detection pipeline: pluggable guards that
// inspect untrusted text for one category of unsafe content and rewrite it,
// and the manager that chains them while recording every finding.
package guard

import (
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// Finding represents one detected violation. Start and End are byte offsets
// into the text as passed to Check; they become stale as soon as any mask
// operation changes the text's length.
type Finding struct {
	Entity      string `json:"entity"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Explanation string `json:"explanation"`
}

// Guard is a pluggable detector/rewriter for one category of unsafe or
// sensitive content. Implementations must be stateless with respect to the
// text they process: Check must not mutate its input and must be
// deterministic for a given configuration, and Mask must be idempotent on
// text with no remaining violations of the guard's kind.
type Guard interface {
	// Name identifies the guard in audit records and logs.
	Name() string
	// Check inspects text and returns all violations found.
	Check(text string) ([]Finding, error)
	// Mask returns a new string with this guard's violations neutralized.
	Mask(text string) (string, error)
	// Explain emits a human-readable rationale for the finding when the
	// guard was built with explanations enabled. It never affects output.
	Explain(finding Finding)
}

// base carries the state shared by all built-in guards.
type base struct {
	name    string
	explain bool
	logger  *logger.Logger
}

func (b *base) Name() string { return b.name }

func (b *base) Explain(finding Finding) {
	if !b.explain {
		return
	}
	b.logger.Info("Guard explanation",
		zap.String("guard", b.name),
		zap.String("entity", finding.Entity),
		zap.String("explanation", finding.Explanation),
	)
}

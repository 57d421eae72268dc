// Package parse converts captured stdout into typed findings via one of
// three interchangeable strategies: pattern (ordered per-line regex rules),
// structured (validate as JSON, extract from fields, degrade to pattern on
// invalid input), and semantic (external text-understanding collaborator
// with multi-pass consensus).
//
// Independent of strategy, the fallback invariant holds: non-empty stdout
// that yields zero findings produces exactly one generic info finding
// carrying the full raw output. Parsing can degrade but never discards
// evidence.
package parse

import (
	"context"
	"strings"

	"github.com/your-org/scanforge/internal/plan"
	"github.com/your-org/scanforge/internal/state"
)

// Extractor is one parsing strategy.
type Extractor interface {
	Extract(ctx context.Context, task string, stdout []string) ([]state.Finding, error)
}

// Parser applies a strategy and enforces the fallback invariant.
type Parser struct {
	extractor Extractor
}

// New wraps an extractor.
func New(extractor Extractor) *Parser {
	return &Parser{extractor: extractor}
}

// ForDefinition builds the parser selected by a task definition. The
// semantic strategy needs a collaborator; when none is configured it
// degrades to pattern extraction so plans stay runnable.
func ForDefinition(def *plan.Definition, semantic SemanticClient) *Parser {
	switch def.Parsing.Strategy {
	case plan.StrategyStructured:
		return New(NewStructured(def.Parsing.Patterns))
	case plan.StrategySemantic:
		if semantic != nil {
			return New(NewSemantic(semantic, DefaultSemanticPasses))
		}
		return New(NewPattern(def.Parsing.Patterns))
	default:
		return New(NewPattern(def.Parsing.Patterns))
	}
}

// Parse extracts findings from captured stdout. Empty stdout yields no
// findings and no error. Extraction failures degrade to the fallback
// finding rather than propagating.
func (p *Parser) Parse(ctx context.Context, task string, stdout []string) []state.Finding {
	raw := strings.TrimSpace(strings.Join(stdout, "\n"))
	if raw == "" {
		return nil
	}

	findings, err := p.extractor.Extract(ctx, task, stdout)
	if err != nil || len(findings) == 0 {
		return []state.Finding{fallback(task, raw)}
	}
	return findings
}

// fallback is the generic info finding carrying the full raw output.
func fallback(task, raw string) state.Finding {
	return state.Finding{
		Task:        task,
		Severity:    state.SeverityInfo,
		Title:       "Unparsed tool output",
		Description: raw,
	}
}

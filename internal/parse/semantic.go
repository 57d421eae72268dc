package parse

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/your-org/scanforge/internal/state"
)

// DefaultSemanticPasses is how many independent extraction passes the
// semantic strategy runs before comparing results.
const DefaultSemanticPasses = 2

// SemanticClient is the external text-understanding collaborator. Its
// implementation lives outside the engine; the engine only trusts findings
// that agree across passes.
type SemanticClient interface {
	ExtractFindings(ctx context.Context, task, raw string) ([]state.Finding, error)
}

// Semantic hands raw output to the collaborator, reserved for tools whose
// output is too irregular for reliable patterns. Each pass is retried with
// bounded exponential backoff on transient failures; findings that do not
// appear in every pass are discarded.
type Semantic struct {
	client SemanticClient
	passes int
}

// NewSemantic builds the semantic strategy.
func NewSemantic(client SemanticClient, passes int) *Semantic {
	if passes < 1 {
		passes = 1
	}
	return &Semantic{client: client, passes: passes}
}

func (s *Semantic) Extract(ctx context.Context, task string, stdout []string) ([]state.Finding, error) {
	raw := strings.Join(stdout, "\n")

	results := make([][]state.Finding, 0, s.passes)
	for i := 0; i < s.passes; i++ {
		findings, err := s.extractOnce(ctx, task, raw)
		if err != nil {
			return nil, err
		}
		results = append(results, findings)
	}
	return consensus(results), nil
}

func (s *Semantic) extractOnce(ctx context.Context, task, raw string) ([]state.Finding, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
	), 3), ctx)

	var findings []state.Finding
	op := func() error {
		var err error
		findings, err = s.client.ExtractFindings(ctx, task, raw)
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return findings, nil
}

// consensus keeps findings present in every pass, keyed by title and
// severity. The first pass fixes ordering and descriptions.
func consensus(results [][]state.Finding) []state.Finding {
	if len(results) == 0 {
		return nil
	}
	if len(results) == 1 {
		return results[0]
	}

	counts := make(map[string]int)
	for _, pass := range results[1:] {
		seen := make(map[string]struct{})
		for _, f := range pass {
			k := consensusKey(f)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			counts[k]++
		}
	}

	var agreed []state.Finding
	emitted := make(map[string]struct{})
	for _, f := range results[0] {
		k := consensusKey(f)
		if _, dup := emitted[k]; dup {
			continue
		}
		if counts[k] == len(results)-1 {
			emitted[k] = struct{}{}
			agreed = append(agreed, f)
		}
	}
	return agreed
}

func consensusKey(f state.Finding) string {
	return strings.ToLower(strings.TrimSpace(f.Title)) + "|" + f.Severity.String()
}

package parse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/scanforge/internal/state"
)

// scriptedClient returns a different result slice per call, cycling when the
// script runs out.
type scriptedClient struct {
	script [][]state.Finding
	errs   []error
	calls  int
}

func (c *scriptedClient) ExtractFindings(_ context.Context, _, _ string) ([]state.Finding, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if len(c.script) == 0 {
		return nil, nil
	}
	return c.script[i%len(c.script)], nil
}

func finding(title string, sev state.Severity) state.Finding {
	return state.Finding{Task: "deepscan", Severity: sev, Title: title}
}

func TestSemanticConsensusKeepsAgreedFindings(t *testing.T) {
	client := &scriptedClient{script: [][]state.Finding{
		{finding("Exposed backup", state.SeverityHigh), finding("Flaky hint", state.SeverityLow)},
		{finding("exposed backup", state.SeverityHigh)}, // case-insensitive agreement
	}}
	s := NewSemantic(client, 2)

	findings, err := s.Extract(context.Background(), "deepscan", []string{"raw output"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	// First pass fixes the emitted form.
	assert.Equal(t, "Exposed backup", findings[0].Title)
	assert.Equal(t, 2, client.calls)
}

func TestSemanticDisagreementOnSeverityDrops(t *testing.T) {
	client := &scriptedClient{script: [][]state.Finding{
		{finding("Weak cipher", state.SeverityHigh)},
		{finding("Weak cipher", state.SeverityMedium)},
	}}
	s := NewSemantic(client, 2)

	findings, err := s.Extract(context.Background(), "deepscan", []string{"raw output"})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestSemanticRetriesTransientFailure(t *testing.T) {
	client := &scriptedClient{
		errs: []error{errors.New("transient")},
		script: [][]state.Finding{
			{finding("Stable", state.SeverityMedium)},
		},
	}
	s := NewSemantic(client, 1)

	findings, err := s.Extract(context.Background(), "deepscan", []string{"raw output"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.GreaterOrEqual(t, client.calls, 2)
}

func TestSemanticSinglePassSkipsConsensus(t *testing.T) {
	client := &scriptedClient{script: [][]state.Finding{
		{finding("A", state.SeverityInfo), finding("B", state.SeverityInfo)},
	}}
	s := NewSemantic(client, 1)

	findings, err := s.Extract(context.Background(), "deepscan", []string{"raw"})
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestConsensusDeduplicates(t *testing.T) {
	dup := finding("Same", state.SeverityLow)
	agreed := consensus([][]state.Finding{
		{dup, dup},
		{dup},
	})
	assert.Len(t, agreed, 1)
}

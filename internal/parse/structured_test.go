package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/scanforge/internal/plan"
	"github.com/your-org/scanforge/internal/state"
)

func TestStructuredFlattensDocument(t *testing.T) {
	s := NewStructured(patterns(
		&plan.Pattern{Regex: `vulnerabilities\[\d+\]\.id:\s+(\S+)`, Severity: state.SeverityHigh},
	))

	stdout := []string{
		`{"host": "10.0.0.5", "vulnerabilities": [`,
		`  {"id": "CVE-2021-41773", "score": 9.8},`,
		`  {"id": "CVE-2021-42013", "score": 9.8}`,
		`]}`,
	}
	findings, err := s.Extract(context.Background(), "vulnscan", stdout)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "CVE-2021-41773", findings[0].Description)
	assert.Equal(t, "CVE-2021-42013", findings[1].Description)
}

func TestStructuredJSONLines(t *testing.T) {
	s := NewStructured(patterns(
		&plan.Pattern{Regex: `status:\s+500`, Severity: state.SeverityMedium, Title: "Server error"},
	))

	stdout := []string{
		`{"url": "http://t/a", "status": 200}`,
		`{"url": "http://t/b", "status": 500}`,
	}
	findings, err := s.Extract(context.Background(), "httpx", stdout)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "Server error", findings[0].Title)
}

func TestStructuredDegradesOnInvalidJSON(t *testing.T) {
	s := NewStructured(patterns(rule(`open`, state.SeverityInfo)))

	// Not JSON at all: falls back to plain pattern extraction over raw lines.
	findings, err := s.Extract(context.Background(), "probe", []string{"80/tcp open http"})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "80/tcp open http", findings[0].Description)
}

func TestDecodeRejectsMixedLines(t *testing.T) {
	_, ok := decode([]string{`{"a": 1}`, `not json`})
	assert.False(t, ok)

	_, ok = decode(nil)
	assert.False(t, ok)
}

func TestFlattenPaths(t *testing.T) {
	lines := flatten("", map[string]interface{}{
		"b": []interface{}{"x", "y"},
		"a": map[string]interface{}{"c": 1.0},
	})
	assert.Equal(t, []string{"a.c: 1", "b[0]: x", "b[1]: y"}, lines)
}

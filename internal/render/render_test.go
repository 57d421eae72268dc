package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/scanforge/internal/plan"
)

func testDef() *plan.Definition {
	return &plan.Definition{
		Name:       "probe",
		Executable: "probe",
		Args:       []string{"-t", "{{target}}", "-p", "{{port}}", "--out", "{{output_dir}}/probe.txt"},
		Env:        map[string]string{"PROBE_TARGET": "{{target}}"},
	}
}

func TestRenderDeterministic(t *testing.T) {
	vars := Context{
		"target":     "10.0.0.5",
		"port":       "443",
		"output_dir": "/tmp/run",
	}

	first, err := Render(testDef(), vars)
	require.NoError(t, err)
	second, err := Render(testDef(), vars)
	require.NoError(t, err)

	assert.Equal(t, first.Argv(), second.Argv())
	assert.Equal(t, []string{"probe", "-t", "10.0.0.5", "-p", "443", "--out", "/tmp/run/probe.txt"}, first.Argv())
	assert.Equal(t, "/tmp/run", first.Dir)
	assert.Equal(t, "10.0.0.5", first.Env["PROBE_TARGET"])
}

func TestRenderMissingVariableFailsClosed(t *testing.T) {
	vars := Context{"target": "10.0.0.5", "output_dir": "/tmp/run"}

	cmd, err := Render(testDef(), vars)
	assert.Nil(t, cmd)
	require.Error(t, err)

	var missing *MissingVariableError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "probe", missing.Task)
	assert.Equal(t, []string{"port"}, missing.Variables)
	assert.Contains(t, err.Error(), "port")
}

func TestRenderNeverSubstitutesEmpty(t *testing.T) {
	def := &plan.Definition{
		Name:       "scan",
		Executable: "scan",
		Args:       []string{"{{missing_one}}", "{{missing_two}}"},
	}

	_, err := Render(def, Context{"output_dir": "/tmp"})
	var missing *MissingVariableError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"missing_one", "missing_two"}, missing.Variables)
}

func TestRenderKeepsMetacharactersLiteral(t *testing.T) {
	def := &plan.Definition{
		Name:       "scan",
		Executable: "scan",
		Args:       []string{"{{target}}; rm -rf /", "$(id)", "*.log", "a|b"},
	}

	cmd, err := Render(def, Context{"target": "host", "output_dir": "/tmp"})
	require.NoError(t, err)
	// Arguments pass through untouched; nothing interprets shell syntax.
	assert.Equal(t, []string{"host; rm -rf /", "$(id)", "*.log", "a|b"}, cmd.Args)
}

func TestRenderWhitespaceInTokens(t *testing.T) {
	def := &plan.Definition{
		Name:       "scan",
		Executable: "scan",
		Args:       []string{"{{ target }}"},
	}

	cmd, err := Render(def, Context{"target": "host", "output_dir": "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"host"}, cmd.Args)
}

func TestReferencedVariables(t *testing.T) {
	vars := ReferencedVariables(testDef())
	assert.Contains(t, vars, "target")
	assert.Contains(t, vars, "port")
	assert.Contains(t, vars, "output_dir")
}

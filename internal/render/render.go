// Package render turns a task definition's argument template into a
// concrete command. It is a pure function of (definition, variable context):
// no I/O, no shell. Every argument is produced as a literal string for
// direct process invocation; metacharacters are never interpreted. Tasks
// needing shell composition must ship a wrapper script as their executable.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/your-org/scanforge/internal/plan"
)

// Well-known variable names supplied by the scheduler per instance.
const (
	VarTarget    = "target"
	VarPort      = "port"
	VarPorts     = "ports"
	VarOutputDir = "output_dir"
	VarWordlist  = "wordlist"
)

var tokenRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Context maps variable names to concrete values for one task instance.
type Context map[string]string

// Command is a fully rendered invocation: a literal argv, a working
// directory and the environment additions from the definition.
type Command struct {
	Task string
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// Argv returns the full command line including the executable, for error
// logs and preview output.
func (c *Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// MissingVariableError reports template variables absent from the context.
// Rendering fails closed: a missing variable never becomes an empty string.
type MissingVariableError struct {
	Task      string
	Variables []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("task %q: missing template variables: %s",
		e.Task, strings.Join(e.Variables, ", "))
}

// Render produces the concrete command for a definition bound to a variable
// context. Deterministic: the same inputs always yield the same argv.
func Render(def *plan.Definition, vars Context) (*Command, error) {
	missing := make(map[string]struct{})

	resolve := func(in string) string {
		return tokenRegex.ReplaceAllStringFunc(in, func(match string) string {
			name := strings.TrimSpace(match[2 : len(match)-2])
			if val, ok := vars[name]; ok {
				return val
			}
			missing[name] = struct{}{}
			return match
		})
	}

	args := make([]string, len(def.Args))
	for i, arg := range def.Args {
		args[i] = resolve(arg)
	}

	env := make(map[string]string, len(def.Env))
	for k, v := range def.Env {
		env[k] = resolve(v)
	}

	dir := vars[VarOutputDir]

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &MissingVariableError{Task: def.Name, Variables: names}
	}

	return &Command{
		Task: def.Name,
		Path: def.Executable,
		Args: args,
		Dir:  dir,
		Env:  env,
	}, nil
}

// ReferencedVariables extracts the distinct variable names a definition's
// templates mention, in first-appearance order. Used by plan validation and
// preview.
func ReferencedVariables(def *plan.Definition) []string {
	seen := make(map[string]struct{})
	var names []string

	collect := func(in string) {
		for _, m := range tokenRegex.FindAllStringSubmatch(in, -1) {
			name := strings.TrimSpace(m[1])
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}

	for _, arg := range def.Args {
		collect(arg)
	}
	for _, v := range def.Env {
		collect(v)
	}
	return names
}

// Package workspace lays out the per-target run directory and persists
// verbatim raw tool output. Raw stdout/stderr is written for every
// execution regardless of parse outcome; parsing failure never loses the
// underlying evidence.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace is one target's output directory tree:
//
//	<root>/<target>/scans/   raw stdout/stderr per task instance
//	<root>/<target>/logs/    engine log files
type Workspace struct {
	Root   string
	Target string
	dir    string
}

// New creates the directory layout for a target.
func New(root, target string) (*Workspace, error) {
	dir := filepath.Join(root, Sanitize(target))
	for _, sub := range []string{"scans", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace %s: %w", dir, err)
		}
	}
	return &Workspace{Root: root, Target: target, dir: dir}, nil
}

// Dir returns the target's workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// ScansDir returns the raw output directory, handed to tasks as the
// output_dir template variable.
func (w *Workspace) ScansDir() string { return filepath.Join(w.dir, "scans") }

// LogsDir returns the engine log directory.
func (w *Workspace) LogsDir() string { return filepath.Join(w.dir, "logs") }

// WriteRaw persists one execution's captured streams verbatim. Files are
// named <task>_<instance>.{stdout,stderr}.txt; empty streams still produce
// a file so absence of output is itself recorded.
func (w *Workspace) WriteRaw(task, instance string, stdout, stderr []string) error {
	base := fmt.Sprintf("%s_%s", Sanitize(task), instance)
	for suffix, lines := range map[string][]string{
		"stdout": stdout,
		"stderr": stderr,
	} {
		path := filepath.Join(w.ScansDir(), fmt.Sprintf("%s.%s.txt", base, suffix))
		if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
			return fmt.Errorf("writing raw %s for task %s: %w", suffix, task, err)
		}
	}
	return nil
}

// WriteReport serializes bytes into the workspace root, used by the CLI to
// drop the final snapshot.
func (w *Workspace) WriteReport(name string, data []byte) (string, error) {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report %s: %w", name, err)
	}
	return path, nil
}

// Sanitize replaces filename-hostile characters in targets and task names.
func Sanitize(in string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	out := replacer.Replace(in)
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// Stamp returns the run timestamp used in workspace names.
func Stamp() string {
	return time.Now().Format("20060102_150405")
}

package plan

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a plan file and validates its structure. Executable presence on
// PATH is checked separately by Validate so plans can be loaded on machines
// that don't have every tool installed.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file %s: %w", path, err)
	}
	return Parse(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), data)
}

// Parse validates plan bytes from any source, such as the embedded default
// plan. The fallback name applies when the document declares none.
func Parse(name string, data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if p.Name == "" {
		p.Name = name
	}

	if err := check(&p); err != nil {
		return nil, fmt.Errorf("plan %s: %w", p.Name, err)
	}
	return &p, nil
}

// check enforces structural validity: unique names, known classes and
// strategies, compilable patterns, dependencies naming real tasks.
func check(p *Plan) error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan defines no tasks")
	}

	names := make(map[string]struct{}, len(p.Tasks))
	for _, d := range p.Tasks {
		if d.Name == "" {
			return fmt.Errorf("task with empty name")
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("duplicate task name %q", d.Name)
		}
		names[d.Name] = struct{}{}

		if d.Executable == "" {
			return fmt.Errorf("task %q: executable is required", d.Name)
		}
		switch d.ResourceClass {
		case ClassDiscovery, ClassEnumeration:
		default:
			return fmt.Errorf("task %q: unknown resource class %q", d.Name, d.ResourceClass)
		}
		switch d.Parsing.Strategy {
		case StrategyPattern, StrategyStructured, StrategySemantic:
		case "":
			d.Parsing.Strategy = StrategyPattern
		default:
			return fmt.Errorf("task %q: unknown parsing strategy %q", d.Name, d.Parsing.Strategy)
		}
		for _, pat := range d.Parsing.Patterns {
			if _, err := pat.Compiled(); err != nil {
				return fmt.Errorf("task %q: pattern %q: %w", d.Name, pat.Regex, err)
			}
		}
		if d.Discovers && d.ResourceClass != ClassDiscovery {
			return fmt.Errorf("task %q: only discovery-class tasks may produce services", d.Name)
		}
		if d.Discovers && d.ServicePredicate() != "" {
			return fmt.Errorf("task %q: a service producer cannot itself be service-triggered", d.Name)
		}

		svcDeps := 0
		for _, dep := range d.DependsOn {
			if dep.Task == "" && dep.Service == "" {
				return fmt.Errorf("task %q: empty dependency", d.Name)
			}
			if dep.Task != "" && dep.Service != "" {
				return fmt.Errorf("task %q: dependency sets both task and service", d.Name)
			}
			if dep.Service != "" {
				svcDeps++
			}
		}
		if svcDeps > 1 {
			return fmt.Errorf("task %q: at most one service predicate per task", d.Name)
		}
	}

	for _, d := range p.Tasks {
		for _, dep := range d.TaskDependencies() {
			if _, ok := names[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", d.Name, dep)
			}
			if dep == d.Name {
				return fmt.Errorf("task %q depends on itself", d.Name)
			}
			// Reactive tasks fan out per service; there is no single
			// completion to gate an explicit dependent on.
			if p.Definition(dep).ServicePredicate() != "" {
				return fmt.Errorf("task %q depends on reactive task %q", d.Name, dep)
			}
		}
	}

	return checkCycles(p)
}

// checkCycles rejects circular explicit dependencies; they would deadlock
// admission.
func checkCycles(p *Plan) error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(p.Tasks))

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("dependency cycle involving task %q", name)
		case done:
			return nil
		}
		marks[name] = visiting
		for _, dep := range p.Definition(name).TaskDependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}

	for _, d := range p.Tasks {
		if err := visit(d.Name); err != nil {
			return err
		}
	}
	return nil
}

// Validate performs the deep checks Load skips: every executable must
// resolve on PATH.
func Validate(p *Plan) error {
	var missing []string
	for _, d := range p.Tasks {
		if _, err := exec.LookPath(d.Executable); err != nil {
			missing = append(missing, fmt.Sprintf("%s (task %s)", d.Executable, d.Name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("executables not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

package plan

import (
	"regexp"
	"strings"
	"time"

	"github.com/your-org/scanforge/internal/state"
)

// ResourceClass names the concurrency pool a task competes for. The set is
// closed: discovery tasks are few and expensive, enumeration tasks are many
// and spawned reactively per discovered service.
type ResourceClass string

const (
	ClassDiscovery   ResourceClass = "discovery"
	ClassEnumeration ResourceClass = "enumeration"
)

// Fatal reports whether a failure in this class aborts the whole run.
func (c ResourceClass) Fatal() bool {
	return c == ClassDiscovery
}

// Strategy selects how a task's stdout is turned into findings.
type Strategy string

const (
	StrategyPattern    Strategy = "pattern"
	StrategyStructured Strategy = "structured"
	StrategySemantic   Strategy = "semantic"
)

// Pattern is one (regex, severity) extraction rule. Earlier patterns win
// over later ones for a given line.
type Pattern struct {
	Regex    string         `yaml:"regex"`
	Severity state.Severity `yaml:"severity"`
	Title    string         `yaml:"title,omitempty"`

	compiled *regexp.Regexp
}

// Compiled returns the compiled regex, compiling lazily on first use.
func (p *Pattern) Compiled() (*regexp.Regexp, error) {
	if p.compiled == nil {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, err
		}
		p.compiled = re
	}
	return p.compiled, nil
}

// Parsing selects the output-parsing strategy for a task definition.
type Parsing struct {
	Strategy Strategy   `yaml:"strategy"`
	Patterns []*Pattern `yaml:"patterns,omitempty"`
}

// Dependency gates task admission. Exactly one of Task or Service is set:
// Task names an upstream definition that must complete first; Service is a
// predicate matched against discovered services ("http", "https", or "any"),
// spawning one instance per match.
type Dependency struct {
	Task    string `yaml:"task,omitempty"`
	Service string `yaml:"service,omitempty"`
}

// MatchesService reports whether a discovered service satisfies a service
// predicate. "any" matches every service; otherwise the predicate matches
// its own name and derived names in the same family (the "http" predicate
// admits both http and https endpoints).
func MatchesService(predicate string, svc state.Service) bool {
	predicate = strings.ToLower(strings.TrimSpace(predicate))
	if predicate == "" {
		return false
	}
	if predicate == "any" {
		return true
	}
	name := strings.ToLower(svc.Name)
	return name == predicate || strings.HasPrefix(name, predicate)
}

// Definition is the static, reusable description of one external tool
// invocation. Definitions are immutable once loaded; the scheduler binds
// them to concrete variable contexts at admission time.
type Definition struct {
	Name           string            `yaml:"name"`
	Executable     string            `yaml:"executable"`
	Args           []string          `yaml:"args"`
	ResourceClass  ResourceClass     `yaml:"resource_class"`
	DependsOn      []Dependency      `yaml:"depends_on,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Env            map[string]string `yaml:"env,omitempty"`
	RequiresRoot   bool              `yaml:"requires_elevated_privilege,omitempty"`
	Discovers      bool              `yaml:"discovers,omitempty"` // designated service producer
	Parsing        Parsing           `yaml:"parsing"`
}

// Timeout returns the declared per-definition timeout.
func (d *Definition) Timeout() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ServicePredicate returns the service predicate, or "" when the definition
// has only explicit task dependencies.
func (d *Definition) ServicePredicate() string {
	for _, dep := range d.DependsOn {
		if dep.Service != "" {
			return dep.Service
		}
	}
	return ""
}

// TaskDependencies returns the names of upstream definitions that must
// complete before this one is admitted.
func (d *Definition) TaskDependencies() []string {
	var names []string
	for _, dep := range d.DependsOn {
		if dep.Task != "" {
			names = append(names, dep.Task)
		}
	}
	return names
}

// Plan is an immutable set of task definitions loaded once per run.
type Plan struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Tasks       []*Definition `yaml:"tasks"`
}

// Definition looks up a task definition by name.
func (p *Plan) Definition(name string) *Definition {
	for _, d := range p.Tasks {
		if d.Name == name {
			return d
		}
	}
	return nil
}

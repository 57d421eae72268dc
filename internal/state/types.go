package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity orders findings from informational to critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSeverity converts a config string into a Severity.
func ParseSeverity(name string) (Severity, error) {
	for sev, n := range severityNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return sev, nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *Severity) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	sev, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Finding is one unit of extracted information from a task's output.
// Findings are append-only once recorded.
type Finding struct {
	Task        string   `json:"task"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Port        int      `json:"port,omitempty"` // 0 when not port-associated
}

// Protocol is the transport of a discovered service.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Service is a discovered network endpoint. Only discovery-class tasks
// produce services; the scheduler consumes them to instantiate dependent
// tasks.
type Service struct {
	Address  string   `json:"address"`
	Protocol Protocol `json:"protocol"`
	Port     int      `json:"port"`
	Name     string   `json:"name"`
	Secure   bool     `json:"secure"`
}

// Key identifies a service for deduplication.
func (s Service) Key() string {
	return fmt.Sprintf("%s/%s/%d/%s", s.Address, s.Protocol, s.Port, s.Name)
}

// Status is the lifecycle state of a task instance.
type Status int

const (
	StatusPending Status = iota
	StatusAdmitted
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusTimedOut
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAdmitted:
		return "admitted"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusSkipped:
		return true
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome records how one task instance finished.
type Outcome struct {
	Task     string        `json:"task"`
	Instance string        `json:"instance"`
	Target   string        `json:"target"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// TaskError is one entry in the run's error log.
type TaskError struct {
	Task       string   `json:"task"`
	Command    []string `json:"command,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
	ExitStatus string   `json:"exit_status,omitempty"`
	Stderr     string   `json:"stderr,omitempty"` // excerpt, not full capture
	Message    string   `json:"message"`
}

// Counters track aggregate task outcomes for progress display.
type Counters struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Skipped   int `json:"skipped"`
}

// Snapshot is a point-in-time, caller-owned copy of the run state. Once the
// run is sealed, snapshots are stable and safe to serialize without further
// synchronization.
type Snapshot struct {
	Target   string      `json:"target,omitempty"`
	Services []Service   `json:"services"`
	Findings []Finding   `json:"findings"`
	Errors   []TaskError `json:"errors"`
	Counters Counters    `json:"counters"`
	Sealed   bool        `json:"sealed"`
}

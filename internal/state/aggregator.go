package state

import (
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Aggregator is the single synchronized store for everything a run
// discovers: services, findings, error records and outcome counters. All
// mutation goes through its methods; each record call is atomic but no
// ordering is guaranteed between unrelated tasks' updates.
//
// Recorded services are additionally published on the event channel so the
// scheduler can instantiate reactive tasks without polling.
type Aggregator struct {
	mu       sync.RWMutex
	services []Service
	seen     map[string]struct{}
	findings []Finding
	errors   []TaskError
	counters Counters
	sealed   bool

	evMu     sync.Mutex
	events   chan Service
	evClosed bool

	logger *log.Logger
}

// NewAggregator creates the run-scoped state store. One aggregator exists
// per run; it must not be reused across runs.
func NewAggregator(logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Aggregator{
		seen:   make(map[string]struct{}),
		events: make(chan Service, 256),
		logger: logger,
	}
}

// Events returns the service discovery stream. The scheduler is the single
// consumer; the channel is closed by Seal once no further discoveries can
// occur.
func (a *Aggregator) Events() <-chan Service {
	return a.events
}

// RecordService stores a discovered service and publishes it to the event
// stream. Duplicate services (same address/protocol/port/name) are dropped
// and not re-published. Returns true when the service was new.
func (a *Aggregator) RecordService(svc Service) bool {
	a.mu.Lock()
	if a.sealed {
		a.mu.Unlock()
		a.logger.Warn("service recorded after seal, dropped", "service", svc.Key())
		return false
	}
	if _, dup := a.seen[svc.Key()]; dup {
		a.mu.Unlock()
		return false
	}
	a.seen[svc.Key()] = struct{}{}
	a.services = append(a.services, svc)
	a.mu.Unlock()

	a.logger.Info("service discovered",
		"address", svc.Address, "port", svc.Port,
		"protocol", svc.Protocol, "name", svc.Name, "secure", svc.Secure)

	a.evMu.Lock()
	defer a.evMu.Unlock()
	if !a.evClosed {
		a.events <- svc
	}
	return true
}

// RecordFinding appends one finding. Findings are never mutated afterward.
func (a *Aggregator) RecordFinding(f Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		a.logger.Warn("finding recorded after seal, dropped", "task", f.Task, "title", f.Title)
		return
	}
	a.findings = append(a.findings, f)
}

// RecordError appends one entry to the run's error log.
func (a *Aggregator) RecordError(e TaskError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.errors = append(a.errors, e)
}

// RecordStarted bumps the started counter when an instance enters Running.
func (a *Aggregator) RecordStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters.Started++
}

// RecordOutcome records a terminal status for one task instance.
func (a *Aggregator) RecordOutcome(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch o.Status {
	case StatusCompleted:
		a.counters.Completed++
	case StatusFailed:
		a.counters.Failed++
	case StatusTimedOut:
		a.counters.TimedOut++
	case StatusSkipped:
		a.counters.Skipped++
	}
}

// Snapshot returns a deep copy of the current state, safe for concurrent
// readers while tasks are still recording.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		Services: make([]Service, len(a.services)),
		Findings: make([]Finding, len(a.findings)),
		Errors:   make([]TaskError, len(a.errors)),
		Counters: a.counters,
		Sealed:   a.sealed,
	}
	copy(snap.Services, a.services)
	copy(snap.Findings, a.findings)
	copy(snap.Errors, a.errors)
	return snap
}

// Services returns a copy of all services recorded so far.
func (a *Aggregator) Services() []Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Service, len(a.services))
	copy(out, a.services)
	return out
}

// CloseEvents ends the discovery stream. Called by the scheduler once every
// discovery-class task has reached a terminal state, after which no new
// services can appear.
func (a *Aggregator) CloseEvents() {
	a.evMu.Lock()
	defer a.evMu.Unlock()
	if !a.evClosed {
		a.evClosed = true
		close(a.events)
	}
}

// Seal marks the run complete. After Seal no mutation is accepted and
// snapshots may be serialized by reporting without synchronization.
func (a *Aggregator) Seal() {
	a.CloseEvents()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
}

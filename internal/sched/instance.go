package sched

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/your-org/scanforge/internal/plan"
	"github.com/your-org/scanforge/internal/render"
	"github.com/your-org/scanforge/internal/state"
)

// Instance is one task definition bound to a concrete variable context.
type Instance struct {
	ID      string
	Def     *plan.Definition
	Target  string
	Vars    render.Context
	Service *state.Service // set for reactively spawned instances
}

func newInstance(def *plan.Definition, target string, base render.Context) *Instance {
	vars := make(render.Context, len(base)+2)
	for k, v := range base {
		vars[k] = v
	}
	return &Instance{
		ID:     uuid.NewString()[:8],
		Def:    def,
		Target: target,
		Vars:   vars,
	}
}

// bindService attaches the discovered service that triggered this instance
// and exposes its port and name as template variables.
func (i *Instance) bindService(svc state.Service) {
	i.Service = &svc
	i.Vars[render.VarPort] = strconv.Itoa(svc.Port)
	i.Vars["service"] = svc.Name
	i.Vars["protocol"] = string(svc.Protocol)
}

// taskResult gates explicit dependents: done closes when the task reaches a
// terminal state; ok reports whether dependents may run.
type taskResult struct {
	done   chan struct{}
	status state.Status
}

func newTaskResult() *taskResult {
	return &taskResult{done: make(chan struct{})}
}

func (r *taskResult) finish(status state.Status) {
	r.status = status
	close(r.done)
}

func (r *taskResult) ok() bool {
	return r.status == state.StatusCompleted
}

// Package sched owns the dependency-aware task queue. It admits instances
// into bounded per-class pools, drives each through render, supervise and
// parse, and reacts to service-discovery events by instantiating matching
// enumeration tasks. Admission is fair but not FIFO: an instance becomes
// eligible the moment its dependencies resolve.
package sched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/your-org/scanforge/internal/config"
	"github.com/your-org/scanforge/internal/parse"
	"github.com/your-org/scanforge/internal/plan"
	"github.com/your-org/scanforge/internal/render"
	"github.com/your-org/scanforge/internal/resmon"
	"github.com/your-org/scanforge/internal/state"
	"github.com/your-org/scanforge/internal/supervise"
)

// Runner executes one rendered command. The concrete implementation is the
// process supervisor; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd *render.Command, pol supervise.Policy) (*supervise.Result, error)
}

// RawSink persists captured output verbatim. Nil disables persistence.
type RawSink interface {
	WriteRaw(target, task, instance string, stdout, stderr []string) error
}

// Options wires a scheduler.
type Options struct {
	Config     *config.Config
	Plan       *plan.Plan
	Aggregator *state.Aggregator
	Runner     Runner
	Monitor    *resmon.Monitor      // optional soft admission throttle
	Semantic   parse.SemanticClient // optional, for semantic-strategy tasks
	Raw        RawSink              // optional raw output persistence
	Logger     *log.Logger
	Elevated   bool              // engine has elevated privilege
	OutputDirs map[string]string // per-target output_dir template variable
	Wordlist   string            // optional wordlist path exposed to templates

	// TaskTimeout tightens every definition's declared timeout when set.
	// Overrides never loosen.
	TaskTimeout time.Duration
}

// Scheduler coordinates one run.
type Scheduler struct {
	cfg        *config.Config
	plan       *plan.Plan
	agg        *state.Aggregator
	runner     Runner
	monitor    *resmon.Monitor
	semantic   parse.SemanticClient
	raw        RawSink
	logger     *log.Logger
	elevated   bool
	outputDirs map[string]string
	wordlist   string
	override   time.Duration

	pools *Pools

	mu      sync.Mutex
	results map[string]*taskResult // target|task -> completion gate
	spawned map[string]struct{}    // target|task|serviceKey -> reactive dedup

	fatalOnce sync.Once
	fatalErr  error
	cancelRun context.CancelFunc
}

// New builds a scheduler. Pools are sized from config.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scheduler{
		cfg:        opts.Config,
		plan:       opts.Plan,
		agg:        opts.Aggregator,
		runner:     opts.Runner,
		monitor:    opts.Monitor,
		semantic:   opts.Semantic,
		raw:        opts.Raw,
		logger:     logger.With("component", "sched"),
		elevated:   opts.Elevated,
		outputDirs: opts.OutputDirs,
		wordlist:   opts.Wordlist,
		override:   opts.TaskTimeout,
		pools:      NewPools(opts.Config.Pools.Discovery, opts.Config.Pools.Enumeration),
		results:    make(map[string]*taskResult),
		spawned:    make(map[string]struct{}),
	}
}

// Pools exposes permit accounting for progress display and tests.
func (s *Scheduler) Pools() *Pools { return s.pools }

// Run executes the plan against every target and blocks until the queue is
// exhausted or a fatal discovery failure aborts the run. Findings recorded
// before an abort are preserved.
func (s *Scheduler) Run(ctx context.Context, targets []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelRun = cancel

	var producers sync.WaitGroup
	var instances sync.WaitGroup
	targetCtxs := make(map[string]context.Context)

	for _, target := range targets {
		tctx := runCtx
		if d := s.cfg.Timeouts.Target(); d > 0 {
			var tcancel context.CancelFunc
			tctx, tcancel = context.WithTimeout(runCtx, d)
			defer tcancel()
		}
		targetCtxs[target] = tctx

		for _, def := range s.plan.Tasks {
			if def.ServicePredicate() != "" {
				continue
			}
			s.registerResult(target, def.Name)
		}
	}

	// Static instances: everything admissible without a discovery event.
	for _, target := range targets {
		for _, def := range s.plan.Tasks {
			if def.ServicePredicate() != "" {
				continue
			}
			inst := newInstance(def, target, s.baseVars(target))
			instances.Add(1)
			if def.Discovers {
				producers.Add(1)
			}
			go func(ctx context.Context, inst *Instance, producer bool) {
				defer instances.Done()
				if producer {
					defer producers.Done()
				}
				s.runInstance(ctx, inst)
			}(targetCtxs[target], inst, def.Discovers)
		}
	}

	// The discovery stream closes once every producer is terminal; no new
	// services can appear after that.
	go func() {
		producers.Wait()
		s.agg.CloseEvents()
	}()

	// Reactive admission: one instance per (definition, matching service),
	// admitted only after the discovering task completed and recorded it.
	reactiveDone := make(chan struct{})
	go func() {
		defer close(reactiveDone)
		for svc := range s.agg.Events() {
			tctx, ok := targetCtxs[svc.Address]
			if !ok {
				// Service on an address outside this run's target set still
				// belongs to the run; admit under the run scope.
				tctx = runCtx
			}
			for _, def := range s.plan.Tasks {
				pred := def.ServicePredicate()
				if pred == "" || !plan.MatchesService(pred, svc) {
					continue
				}
				if !s.claimSpawn(def.Name, svc) {
					continue
				}
				inst := newInstance(def, svc.Address, s.baseVars(svc.Address))
				inst.bindService(svc)
				instances.Add(1)
				go func(ctx context.Context, inst *Instance) {
					defer instances.Done()
					s.runInstance(ctx, inst)
				}(tctx, inst)
			}
		}
		s.skipUnmatched(targets)
	}()

	<-reactiveDone
	instances.Wait()
	s.agg.Seal()

	if s.fatalErr != nil {
		return s.fatalErr
	}
	return runCtx.Err()
}

// runInstance drives one instance through its full lifecycle. The permit is
// released on every exit path.
func (s *Scheduler) runInstance(ctx context.Context, inst *Instance) {
	def := inst.Def

	// Pending: wait for explicit dependencies.
	for _, dep := range def.TaskDependencies() {
		res := s.result(inst.Target, dep)
		if res == nil {
			s.skip(inst, fmt.Sprintf("dependency %q not scheduled for target", dep))
			return
		}
		select {
		case <-res.done:
			if !res.ok() {
				s.skip(inst, fmt.Sprintf("dependency %q unsatisfiable (%s)", dep, res.status))
				return
			}
		case <-ctx.Done():
			s.skip(inst, "run scope ended before dependencies resolved")
			return
		}
	}

	if def.RequiresRoot && !s.elevated {
		s.agg.RecordError(state.TaskError{
			Task:    def.Name,
			Message: "requires elevated privilege, engine is not elevated",
		})
		s.skip(inst, "elevated privilege unavailable")
		return
	}

	// Render before admission: a task with a broken template must never
	// spawn nor consume a permit.
	s.bindDiscoveredPorts(inst)
	cmd, err := render.Render(def, inst.Vars)
	if err != nil {
		s.logger.Error("render failed", "task", def.Name, "target", inst.Target, "error", err)
		s.fail(inst, nil, nil, err.Error())
		return
	}

	// Admitted: permit for the task's class plus resource headroom.
	if err := s.pools.Acquire(ctx, def.ResourceClass); err != nil {
		s.skip(inst, "run scope ended while awaiting admission")
		return
	}
	defer s.pools.Release(def.ResourceClass)

	if s.monitor != nil {
		if err := s.monitor.Wait(ctx); err != nil {
			s.skip(inst, "run scope ended while awaiting resource headroom")
			return
		}
	}

	s.agg.RecordStarted()
	s.logger.Info("task started", "task", def.Name, "target", inst.Target,
		"class", def.ResourceClass, "instance", inst.ID)

	start := time.Now()
	res, err := s.runner.Run(ctx, cmd, s.policy(def))

	if res != nil && s.raw != nil {
		if werr := s.raw.WriteRaw(inst.Target, def.Name, inst.ID, res.Stdout, res.Stderr); werr != nil {
			s.logger.Error("persisting raw output failed", "task", def.Name, "error", werr)
		}
	}

	var spawnErr *supervise.SpawnError
	var timeoutErr *supervise.ProcessTimeoutError
	var cancelErr *supervise.CancelledError
	switch {
	case errors.As(err, &spawnErr):
		s.fail(inst, cmd, res, spawnErr.Error())
		return
	case errors.As(err, &timeoutErr):
		s.extract(ctx, inst, res)
		s.timedOut(inst, cmd, res)
		return
	case errors.As(err, &cancelErr):
		s.extract(ctx, inst, res)
		s.skip(inst, "run scope ended during execution")
		return
	case err != nil:
		s.fail(inst, cmd, res, err.Error())
		return
	}

	s.extract(ctx, inst, res)

	if res.ExitCode != 0 {
		s.fail(inst, cmd, res, fmt.Sprintf("exit status %d", res.ExitCode))
		return
	}

	// Services drive reactive admission, so they are recorded only once the
	// discovering task has actually completed. A Failed or TimedOut discovery
	// must not spawn dependents, however plausible its partial output looks.
	if def.Discovers {
		for _, svc := range parse.Services(inst.Target, res.Stdout) {
			s.agg.RecordService(svc)
		}
	}
	s.complete(inst, start, res)
}

// extract parses findings from captured stdout. Extraction runs even when
// the process failed: captured output is still evidence.
func (s *Scheduler) extract(ctx context.Context, inst *Instance, res *supervise.Result) {
	if res == nil {
		return
	}
	parser := parse.ForDefinition(inst.Def, s.semantic)
	for _, f := range parser.Parse(ctx, inst.Def.Name, res.Stdout) {
		s.agg.RecordFinding(f)
	}
}

func (s *Scheduler) complete(inst *Instance, start time.Time, res *supervise.Result) {
	s.finish(inst, state.StatusCompleted)
	s.agg.RecordOutcome(state.Outcome{
		Task:     inst.Def.Name,
		Instance: inst.ID,
		Target:   inst.Target,
		Status:   state.StatusCompleted,
		ExitCode: res.ExitCode,
		Duration: time.Since(start),
	})
	s.logger.Info("task completed", "task", inst.Def.Name, "target", inst.Target,
		"duration", res.Duration.Round(time.Millisecond))
}

func (s *Scheduler) fail(inst *Instance, cmd *render.Command, res *supervise.Result, msg string) {
	s.finish(inst, state.StatusFailed)
	e := state.TaskError{Task: inst.Def.Name, Message: msg}
	if cmd != nil {
		e.Command = cmd.Argv()
		e.WorkingDir = cmd.Dir
	}
	if res != nil {
		e.ExitStatus = strconv.Itoa(res.ExitCode)
		e.Stderr = res.StderrExcerpt(20)
	}
	s.agg.RecordError(e)
	s.agg.RecordOutcome(state.Outcome{
		Task: inst.Def.Name, Instance: inst.ID, Target: inst.Target,
		Status: state.StatusFailed,
	})
	s.logger.Error("task failed", "task", inst.Def.Name, "target", inst.Target, "error", msg)
	s.escalate(inst, fmt.Errorf("discovery task %q failed: %s", inst.Def.Name, msg))
}

func (s *Scheduler) timedOut(inst *Instance, cmd *render.Command, res *supervise.Result) {
	s.finish(inst, state.StatusTimedOut)
	e := state.TaskError{Task: inst.Def.Name, Message: "process timed out"}
	if cmd != nil {
		e.Command = cmd.Argv()
		e.WorkingDir = cmd.Dir
	}
	if res != nil {
		e.ExitStatus = "timeout"
		e.Stderr = res.StderrExcerpt(20)
	}
	s.agg.RecordError(e)
	s.agg.RecordOutcome(state.Outcome{
		Task: inst.Def.Name, Instance: inst.ID, Target: inst.Target,
		Status: state.StatusTimedOut,
	})
	s.logger.Error("task timed out", "task", inst.Def.Name, "target", inst.Target)
	s.escalate(inst, fmt.Errorf("discovery task %q timed out", inst.Def.Name))
}

func (s *Scheduler) skip(inst *Instance, reason string) {
	s.finish(inst, state.StatusSkipped)
	s.agg.RecordOutcome(state.Outcome{
		Task: inst.Def.Name, Instance: inst.ID, Target: inst.Target,
		Status: state.StatusSkipped,
	})
	s.logger.Debug("task skipped", "task", inst.Def.Name, "target", inst.Target, "reason", reason)
}

// escalate aborts the run when a discovery-class task fails, unless the
// engine is configured to degrade to skipping that discovery's dependents.
func (s *Scheduler) escalate(inst *Instance, cause error) {
	if !inst.Def.ResourceClass.Fatal() || s.cfg.Engine.ContinueOnDiscoveryFailure {
		return
	}
	s.fatalOnce.Do(func() {
		s.fatalErr = cause
		s.logger.Error("aborting run", "cause", cause)
		if s.cancelRun != nil {
			s.cancelRun()
		}
	})
}

// finish resolves the instance's completion gate for explicit dependents.
// Reactive instances have no gate; nothing depends on them by name.
func (s *Scheduler) finish(inst *Instance, status state.Status) {
	if inst.Service != nil {
		return
	}
	if res := s.result(inst.Target, inst.Def.Name); res != nil {
		res.finish(status)
	}
}

// policy derives the effective supervisor timeouts for a definition. The
// per-run override tightens, never loosens; the run and target contexts
// tighten further at execution time.
func (s *Scheduler) policy(def *plan.Definition) supervise.Policy {
	timeout := def.Timeout()
	if s.override > 0 && (timeout == 0 || s.override < timeout) {
		timeout = s.override
	}
	return supervise.Policy{
		Process:    timeout,
		StreamRead: s.cfg.Timeouts.StreamRead(),
		Grace:      s.cfg.Timeouts.Grace(),
	}
}

func (s *Scheduler) baseVars(target string) render.Context {
	vars := render.Context{
		render.VarTarget: target,
	}
	if dir, ok := s.outputDirs[target]; ok {
		vars[render.VarOutputDir] = dir
	} else {
		vars[render.VarOutputDir] = s.cfg.Output.Dir
	}
	if s.wordlist != "" {
		vars[render.VarWordlist] = s.wordlist
	}
	return vars
}

// bindDiscoveredPorts exposes the target's open-port list to templates of
// tasks admitted after discovery.
func (s *Scheduler) bindDiscoveredPorts(inst *Instance) {
	var ports []int
	for _, svc := range s.agg.Services() {
		if svc.Address == inst.Target {
			ports = append(ports, svc.Port)
		}
	}
	if len(ports) == 0 {
		return
	}
	sort.Ints(ports)
	strs := make([]string, len(ports))
	for i, p := range ports {
		strs[i] = strconv.Itoa(p)
	}
	inst.Vars[render.VarPorts] = strings.Join(strs, ",")
}

func (s *Scheduler) registerResult(target, task string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[target+"|"+task] = newTaskResult()
}

func (s *Scheduler) result(target, task string) *taskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[target+"|"+task]
}

// claimSpawn deduplicates reactive admission: exactly one instance per
// (definition, service).
func (s *Scheduler) claimSpawn(task string, svc state.Service) bool {
	key := task + "|" + svc.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.spawned[key]; dup {
		return false
	}
	s.spawned[key] = struct{}{}
	return true
}

// skipUnmatched records Skipped for reactive definitions whose predicate
// matched nothing: they never ran and are not failures.
func (s *Scheduler) skipUnmatched(targets []string) {
	for _, def := range s.plan.Tasks {
		if def.ServicePredicate() == "" {
			continue
		}
		s.mu.Lock()
		any := false
		prefix := def.Name + "|"
		for key := range s.spawned {
			if strings.HasPrefix(key, prefix) {
				any = true
				break
			}
		}
		s.mu.Unlock()
		if any {
			continue
		}
		for _, target := range targets {
			s.agg.RecordOutcome(state.Outcome{
				Task: def.Name, Target: target,
				Status: state.StatusSkipped,
			})
			s.logger.Debug("task skipped", "task", def.Name, "target", target,
				"reason", "no matching service discovered")
		}
	}
}

// Package supervise executes one external process per task under the
// engine's timeout hierarchy. Arguments are passed as a literal array via
// direct process invocation, never through a shell. Two timeout mechanisms
// cooperate: a per-line stream-read bound that guarantees reads never block
// indefinitely, and an overall process deadline with escalating termination
// (SIGTERM, grace interval, SIGKILL).
package supervise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/your-org/scanforge/internal/render"
)

const (
	// DefaultStreamRead bounds each individual line read.
	DefaultStreamRead = 30 * time.Second
	// DefaultGrace is how long a process gets between SIGTERM and SIGKILL.
	DefaultGrace = 5 * time.Second

	// maxLineBytes caps a single output line; enumerators can emit long URLs.
	maxLineBytes = 1 << 20
)

// Policy is the effective timeout configuration for one execution. The
// process deadline layers under the run and target contexts: whichever
// bound is tightest terminates the process.
type Policy struct {
	Process    time.Duration // overall process timeout, 0 = context only
	StreamRead time.Duration // per-line read bound, 0 = DefaultStreamRead
	Grace      time.Duration // SIGTERM to SIGKILL interval, 0 = DefaultGrace
}

// Result is the full captured output of one execution. A result is returned
// even when the process timed out or exited non-zero: captured output is
// evidence and must survive every failure mode.
type Result struct {
	ExitCode     int
	Stdout       []string
	Stderr       []string
	StreamStalls int  // stream-read timeouts observed (warnings, not failures)
	TimedOut     bool // the process's own deadline fired
	Cancelled    bool // the surrounding scope ended first
	ForceKilled  bool
	Duration     time.Duration
}

// StderrExcerpt returns a bounded tail of stderr for error logs.
func (r *Result) StderrExcerpt(maxLines int) string {
	lines := r.Stderr
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Supervisor spawns and monitors external processes.
type Supervisor struct {
	logger *log.Logger
}

// New creates a supervisor. A nil logger silences it.
func New(logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Supervisor{logger: logger}
}

// Run executes the rendered command and blocks until the process exits or
// is terminated. The monitoring goroutine is always released before Run
// returns, on the happy path as well as on timeout.
func (s *Supervisor) Run(ctx context.Context, cmd *render.Command, pol Policy) (*Result, error) {
	if pol.StreamRead <= 0 {
		pol.StreamRead = DefaultStreamRead
	}
	if pol.Grace <= 0 {
		pol.Grace = DefaultGrace
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = os.Environ()
	for k, v := range cmd.Env {
		c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Task: cmd.Task, Path: cmd.Path, Err: err}
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Task: cmd.Task, Path: cmd.Path, Err: err}
	}

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, &SpawnError{Task: cmd.Task, Path: cmd.Path, Err: err}
	}
	s.logger.Debug("process started", "task", cmd.Task, "pid", c.Process.Pid, "argv", cmd.Argv())

	res := &Result{}

	var readers sync.WaitGroup
	var stallMu sync.Mutex
	readers.Add(2)
	go s.collect(cmd.Task, "stdout", stdoutPipe, &res.Stdout, pol.StreamRead, &stallMu, &res.StreamStalls, &readers)
	go s.collect(cmd.Task, "stderr", stderrPipe, &res.Stderr, pol.StreamRead, &stallMu, &res.StreamStalls, &readers)

	// Wait must run after both pipe readers have drained.
	waitErr := make(chan error, 1)
	go func() {
		readers.Wait()
		waitErr <- c.Wait()
	}()

	// exited closes once the process has fully exited; it releases the
	// monitor on the happy path so the monitor never outlives the process.
	exited := make(chan struct{})
	monitorDone := make(chan struct{})
	timedOut := make(chan struct{}, 1)
	cancelled := make(chan struct{}, 1)
	forceKilled := make(chan struct{}, 1)

	go s.monitor(cmd.Task, c, pol, ctx, exited, monitorDone, timedOut, cancelled, forceKilled)

	werr := <-waitErr
	close(exited)
	<-monitorDone

	res.Duration = time.Since(start)

	select {
	case <-timedOut:
		res.TimedOut = true
	default:
	}
	select {
	case <-cancelled:
		res.Cancelled = true
	default:
	}
	select {
	case <-forceKilled:
		res.ForceKilled = true
	default:
	}

	if werr != nil {
		var exitErr *exec.ExitError
		if errors.As(werr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
	}

	switch {
	case res.TimedOut:
		return res, &ProcessTimeoutError{Task: cmd.Task, After: res.Duration}
	case res.Cancelled:
		return res, &CancelledError{Task: cmd.Task, Cause: ctx.Err()}
	}
	return res, nil
}

// collect reads one stream line by line, bounding each read. A stalled read
// is a warning: the process keeps running and the read is retried until the
// stream closes or the process is terminated.
func (s *Supervisor) collect(task, stream string, r io.Reader, out *[]string,
	readTimeout time.Duration, stallMu *sync.Mutex, stalls *int, readers *sync.WaitGroup) {
	defer readers.Done()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	timer := time.NewTimer(readTimeout)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(readTimeout)

		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			*out = append(*out, line)
		case <-timer.C:
			stallMu.Lock()
			*stalls++
			stallMu.Unlock()
			s.logger.Warn("no output within read window", "task", task, "stream", stream, "window", readTimeout)
		}
	}
}

// monitor races the process's natural exit against the process deadline and
// the surrounding contexts. On expiry it escalates SIGTERM, grace, SIGKILL.
func (s *Supervisor) monitor(task string, c *exec.Cmd, pol Policy, ctx context.Context,
	exited, done chan struct{}, timedOut, cancelled, forceKilled chan struct{}) {
	defer close(done)

	var deadline <-chan time.Time
	if pol.Process > 0 {
		t := time.NewTimer(pol.Process)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case <-exited:
		return
	case <-ctx.Done():
		s.logger.Warn("run scope expired, terminating", "task", task, "cause", ctx.Err())
		cancelled <- struct{}{}
	case <-deadline:
		s.logger.Warn("process timeout exceeded", "task", task, "timeout", pol.Process)
		timedOut <- struct{}{}
	}

	if err := c.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; Wait will pick up the exit status.
		return
	}
	select {
	case <-exited:
		s.logger.Debug("process exited after SIGTERM", "task", task)
	case <-time.After(pol.Grace):
		s.logger.Warn("grace interval elapsed, force killing", "task", task)
		forceKilled <- struct{}{}
		_ = c.Process.Kill()
		<-exited
	}
}

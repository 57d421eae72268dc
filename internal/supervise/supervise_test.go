package supervise

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/scanforge/internal/render"
	"go.uber.org/goleak"
)

// Every Run must release its monitor goroutine before returning.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func command(path string, args ...string) *render.Command {
	return &render.Command{Task: "test-task", Path: path, Args: args}
}

func shell(script string) *render.Command {
	return command("/bin/sh", "-c", script)
}

func TestRunCapturesStreams(t *testing.T) {
	s := New(nil)

	res, err := s.Run(context.Background(), shell("echo out1; echo err1 >&2; echo out2"), Policy{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"out1", "out2"}, res.Stdout)
	assert.Equal(t, []string{"err1"}, res.Stderr)
	assert.False(t, res.TimedOut)
	assert.Zero(t, res.StreamStalls)
}

func TestRunNonZeroExit(t *testing.T) {
	s := New(nil)

	res, err := s.Run(context.Background(), shell("echo partial; exit 3"), Policy{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	// Output captured before the failure survives.
	assert.Equal(t, []string{"partial"}, res.Stdout)
}

func TestRunSpawnError(t *testing.T) {
	s := New(nil)

	res, err := s.Run(context.Background(), command("/nonexistent/binary"), Policy{})
	assert.Nil(t, res)

	var spawn *SpawnError
	require.ErrorAs(t, err, &spawn)
	assert.Equal(t, "test-task", spawn.Task)
	assert.Equal(t, "/nonexistent/binary", spawn.Path)
}

func TestRunProcessTimeout(t *testing.T) {
	s := New(nil)

	start := time.Now()
	res, err := s.Run(context.Background(), shell("echo before; sleep 30"),
		Policy{Process: 200 * time.Millisecond, Grace: 100 * time.Millisecond})
	assert.Less(t, time.Since(start), 5*time.Second)

	var timeout *ProcessTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "test-task", timeout.Task)

	// The result still carries everything captured before termination.
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.Equal(t, []string{"before"}, res.Stdout)
}

func TestRunEscalatesToSigkill(t *testing.T) {
	s := New(nil)

	res, err := s.Run(context.Background(), shell(`trap "" TERM; echo trapped; sleep 30`),
		Policy{Process: 200 * time.Millisecond, Grace: 200 * time.Millisecond})

	var timeout *ProcessTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.True(t, res.ForceKilled)
	assert.Equal(t, []string{"trapped"}, res.Stdout)
}

func TestRunContextCancellation(t *testing.T) {
	s := New(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := s.Run(ctx, shell("sleep 30"), Policy{Grace: 100 * time.Millisecond})

	// Scope expiry is not the process's own timeout.
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	assert.False(t, res.TimedOut)
}

func TestRunStreamStallIsWarningNotFailure(t *testing.T) {
	s := New(nil)

	res, err := s.Run(context.Background(), shell("sleep 1; echo eventually"),
		Policy{StreamRead: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.StreamStalls, 1)
	assert.Equal(t, []string{"eventually"}, res.Stdout)
	assert.False(t, res.TimedOut)
}

func TestRunPassesEnvAndDir(t *testing.T) {
	s := New(nil)

	cmd := shell("echo $SCAN_TOKEN; pwd")
	cmd.Env = map[string]string{"SCAN_TOKEN": "sforge-test"}
	cmd.Dir = t.TempDir()

	res, err := s.Run(context.Background(), cmd, Policy{})
	require.NoError(t, err)
	require.Len(t, res.Stdout, 2)
	assert.Equal(t, "sforge-test", res.Stdout[0])
	assert.Contains(t, res.Stdout[1], cmd.Dir)
}

func TestStderrExcerpt(t *testing.T) {
	res := &Result{Stderr: []string{"a", "b", "c", "d"}}
	assert.Equal(t, "c\nd", res.StderrExcerpt(2))
	assert.Equal(t, "a\nb\nc\nd", res.StderrExcerpt(10))
}

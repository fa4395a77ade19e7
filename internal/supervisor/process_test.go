//go:build unix

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/farmgw/internal/backoff"
)

type exitRecorder struct {
	mu    sync.Mutex
	exits []bool
	ch    chan bool
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{ch: make(chan bool, 16)}
}

func (r *exitRecorder) onExit(_ error, intentional bool) {
	r.mu.Lock()
	r.exits = append(r.exits, intentional)
	r.mu.Unlock()
	r.ch <- intentional
}

func (r *exitRecorder) wait(t *testing.T, timeout time.Duration) bool {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(timeout):
		t.Fatal("timed out waiting for process exit")
		return false
	}
}

func (r *exitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exits)
}

func shellProcess(rec *exitRecorder, script string, restart backoff.Policy) *Process {
	return New(Config{
		Name:    "test",
		Binary:  "/bin/sh",
		Args:    []string{"-c", script},
		Restart: restart,
		Grace:   2 * time.Second,
		OnExit:  rec.onExit,
	})
}

func TestStopIsIntentional(t *testing.T) {
	rec := newExitRecorder()
	p := shellProcess(rec, "sleep 30", backoff.Policy{Base: 10 * time.Second})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))
	require.Equal(t, StateRunning, p.State())

	p.Stop()

	assert.True(t, rec.wait(t, 5*time.Second), "stop must be reported as intentional")
	assert.Equal(t, StateIdle, p.State())

	// A stopped process stays down, no restart is scheduled.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1, rec.count())
}

func TestStopIntentConsumedOnce(t *testing.T) {
	rec := newExitRecorder()
	p := shellProcess(rec, "sleep 30", backoff.Policy{Base: 10 * time.Second})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	require.True(t, rec.wait(t, 5*time.Second))

	// The next run crashes. Its exit must not inherit the old intent.
	p.UpdateArgs([]string{"-c", "exit 3"})
	require.NoError(t, p.Start(context.Background()))

	assert.False(t, rec.wait(t, 5*time.Second), "crash after a stop must not look intentional")
	p.Shutdown()
}

func TestCrashSchedulesRestart(t *testing.T) {
	rec := newExitRecorder()
	p := shellProcess(rec, "exit 3", backoff.Policy{Base: 20 * time.Millisecond, Factor: 1, Cap: 20 * time.Millisecond})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))

	assert.False(t, rec.wait(t, 5*time.Second))
	assert.False(t, rec.wait(t, 5*time.Second), "crashed process must be restarted")
}

func TestShutdownStaysDown(t *testing.T) {
	rec := newExitRecorder()
	p := shellProcess(rec, "exit 1", backoff.Policy{Base: 10 * time.Millisecond, Factor: 1, Cap: 10 * time.Millisecond})

	require.NoError(t, p.Start(context.Background()))
	rec.wait(t, 5*time.Second)

	p.Shutdown()
	seen := rec.count()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateIdle, p.State())
	assert.LessOrEqual(t, rec.count(), seen+1, "no restarts after shutdown")

	require.ErrorIs(t, p.Start(context.Background()), ErrShutdown)
}

func TestKillForcesExit(t *testing.T) {
	rec := newExitRecorder()
	// The child ignores SIGTERM; only SIGKILL can take it down.
	p := shellProcess(rec, `trap '' TERM; sleep 30`, backoff.Policy{Base: 10 * time.Second})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Kill()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("kill did not finish")
	}
	assert.True(t, rec.wait(t, time.Second))
	assert.Equal(t, StateIdle, p.State())
}

func TestStartWhileRunning(t *testing.T) {
	rec := newExitRecorder()
	p := shellProcess(rec, "sleep 30", backoff.Policy{Base: 10 * time.Second})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))
	require.ErrorIs(t, p.Start(context.Background()), ErrRunning)
}

func TestStopOnIdleProcess(t *testing.T) {
	p := New(Config{Name: "idle", Binary: "/bin/true"})
	p.Stop() // must not block or panic
	assert.Equal(t, StateIdle, p.State())
}

func TestOnLineReceivesOutput(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	gotLine := make(chan struct{}, 4)

	p := New(Config{
		Name:    "echo",
		Binary:  "/bin/sh",
		Args:    []string{"-c", `echo ready; echo oops >&2; sleep 30`},
		Restart: backoff.Policy{Base: 10 * time.Second},
		OnLine: func(stream, line string) {
			mu.Lock()
			lines = append(lines, stream+":"+line)
			mu.Unlock()
			gotLine <- struct{}{}
		},
	})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))

	for i := 0; i < 2; i++ {
		select {
		case <-gotLine:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for output lines")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, lines, "stdout:ready")
	assert.Contains(t, lines, "stderr:oops")
}

func TestUpdateArgsAppliesOnNextStart(t *testing.T) {
	rec := newExitRecorder()
	p := shellProcess(rec, "exit 7", backoff.Policy{Base: 10 * time.Second})
	t.Cleanup(p.Shutdown)

	require.NoError(t, p.Start(context.Background()))
	rec.wait(t, 5*time.Second)

	p.UpdateArgs([]string{"-c", "exit 0"})
	require.NoError(t, p.Start(context.Background()))
	assert.False(t, rec.wait(t, 5*time.Second))
}

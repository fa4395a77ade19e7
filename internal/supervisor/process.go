// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package supervisor keeps external helper processes alive. Each Process
// is a restartable handle around one executable: it spawns the binary in
// its own process group, scans its output line-wise, and on exit decides
// between staying down (shutdown or intentional stop) and scheduling a
// restart on the owner's backoff policy. A supervised process dying never
// takes the daemon down.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/farmgw/internal/backoff"
	"github.com/ManuGH/farmgw/internal/log"
	"github.com/ManuGH/farmgw/internal/metrics"
	"github.com/ManuGH/farmgw/internal/procgroup"
)

// State is the lifecycle of one supervised process.
type State string

// Process states.
const (
	// StateIdle means no child process exists.
	StateIdle State = "idle"

	// StateRunning means the child is alive and being waited on.
	StateRunning State = "running"

	// StateStopping means an intentional stop is in flight; the coming
	// exit must not be treated as a crash.
	StateStopping State = "stopping"
)

// Exported errors.
var (
	// ErrRunning is returned by Start while a child is already alive.
	ErrRunning = errors.New("process already running")

	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("supervisor shut down")
)

// defaultGrace bounds how long SIGTERM may go unanswered.
const defaultGrace = 5 * time.Second

// stableAfter is how long a child must live for the next crash to reset
// the restart backoff counter.
const stableAfter = time.Minute

// Config describes one supervised executable.
type Config struct {
	// Name labels logs and metrics.
	Name string

	// Binary is the executable path or name (resolved via PATH).
	Binary string

	// Args are the initial arguments; UpdateArgs swaps them before a
	// restart.
	Args []string

	// Restart is the crash-restart delay policy.
	Restart backoff.Policy

	// Grace bounds SIGTERM before SIGKILL. Zero means defaultGrace.
	Grace time.Duration

	// OnLine, when set, receives every output line ("stdout"/"stderr").
	OnLine func(stream, line string)

	// OnExit, when set, is called after every exit with the wait error
	// and whether the stop was intentional.
	OnExit func(err error, intentional bool)
}

// Process is a restartable handle around one executable.
type Process struct {
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	stopReq      chan time.Duration
	exited       chan struct{}
	stopIntent   bool
	shutdown     bool
	attempt      int
	restartTimer *time.Timer
	startedAt    time.Time
	runCtx       context.Context
}

// New returns an idle process handle.
func New(cfg Config) *Process {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	return &Process{
		cfg:    cfg,
		state:  StateIdle,
		logger: log.WithComponent("supervisor").With().Str("process", cfg.Name).Logger(),
	}
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// UpdateArgs replaces the arguments used by the next Start.
func (p *Process) UpdateArgs(args []string) {
	p.mu.Lock()
	p.cfg.Args = append([]string(nil), args...)
	p.mu.Unlock()
}

// Start spawns the executable. The context is remembered for scheduled
// restarts; cancelling it stops the restart loop but does not kill a
// running child (Shutdown does).
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrShutdown
	}
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrRunning
	}

	cmd := exec.Command(p.cfg.Binary, p.cfg.Args...) // #nosec G204
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("stdout pipe for %s: %w", p.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("stderr pipe for %s: %w", p.cfg.Name, err)
	}

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start %s: %w", p.cfg.Name, err)
	}

	p.cmd = cmd
	p.state = StateRunning
	p.startedAt = time.Now()
	p.runCtx = ctx
	p.stopReq = make(chan time.Duration, 1)
	p.exited = make(chan struct{})
	waitCh := make(chan error, 1)
	stopReq, exited := p.stopReq, p.exited
	pid := cmd.Process.Pid
	p.mu.Unlock()

	metrics.ProcessUp.WithLabelValues(p.cfg.Name).Set(1)
	p.logger.Info().Int("pid", pid).Str("binary", p.cfg.Binary).Msg("process started")

	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		p.scanLines("stdout", stdout)
	}()
	go func() {
		defer ioWg.Done()
		p.scanLines("stderr", stderr)
	}()
	go func() {
		// All pipe reads must finish before Wait releases them.
		ioWg.Wait()
		waitCh <- cmd.Wait()
	}()
	go p.supervise(cmd, waitCh, stopReq, exited)

	return nil
}

// supervise owns the wait channel for one run: it either sees the child
// exit on its own or executes a requested graceful stop.
func (p *Process) supervise(cmd *exec.Cmd, waitCh chan error, stopReq <-chan time.Duration, exited chan struct{}) {
	var err error
	select {
	case err = <-waitCh:
	case grace := <-stopReq:
		err = procgroup.Terminate(cmd, waitCh, grace)
	}
	p.handleExit(err)
	close(exited)
}

// Stop performs an intentional stop (SIGTERM, grace, SIGKILL) and blocks
// until the exit is fully processed. The coming exit is consumed as
// intentional exactly once and no restart is scheduled for it.
func (p *Process) Stop() {
	p.mu.Lock()
	switch p.state {
	case StateIdle:
		p.mu.Unlock()
		return
	case StateStopping:
		exited := p.exited
		p.mu.Unlock()
		<-exited
		return
	}
	p.state = StateStopping
	p.stopIntent = true
	stopReq, exited := p.stopReq, p.exited
	grace := p.cfg.Grace
	p.mu.Unlock()

	select {
	case stopReq <- grace:
	default:
	}
	<-exited
}

// Kill force-kills the process group without a grace period, still as an
// intentional stop.
func (p *Process) Kill() {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.state = StateStopping
	p.stopIntent = true
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()

	_ = procgroup.Kill(cmd, syscall.SIGKILL)
	<-exited
}

// Shutdown stops the restart loop and the child, for daemon teardown.
func (p *Process) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	if p.restartTimer != nil {
		p.restartTimer.Stop()
		p.restartTimer = nil
	}
	p.mu.Unlock()

	p.Stop()
}

func (p *Process) handleExit(err error) {
	p.mu.Lock()
	intentional := p.stopIntent
	p.stopIntent = false
	shutdown := p.shutdown
	ran := time.Since(p.startedAt)
	p.state = StateIdle
	p.cmd = nil
	p.mu.Unlock()

	metrics.ProcessUp.WithLabelValues(p.cfg.Name).Set(0)

	evt := p.logger.Info()
	if err != nil && !intentional {
		evt = p.logger.Warn()
	}
	evt.Err(err).Dur("ran", ran).Bool("intentional", intentional).Msg("process exited")

	if p.cfg.OnExit != nil {
		p.cfg.OnExit(err, intentional)
	}
	if shutdown || intentional {
		return
	}

	p.mu.Lock()
	if ran >= stableAfter {
		p.attempt = 0
	}
	delay := p.cfg.Restart.Delay(p.attempt)
	p.attempt++
	attempt := p.attempt
	p.restartTimer = time.AfterFunc(delay, p.restart)
	p.mu.Unlock()

	metrics.IncProcessRestart(p.cfg.Name)
	p.logger.Warn().Dur("delay", delay).Int("attempt", attempt).Msg("process crashed, restart scheduled")
}

func (p *Process) restart() {
	p.mu.Lock()
	ctx := p.runCtx
	shutdown := p.shutdown
	p.mu.Unlock()

	if shutdown || ctx == nil || ctx.Err() != nil {
		return
	}

	err := p.Start(ctx)
	if err == nil || errors.Is(err, ErrRunning) || errors.Is(err, ErrShutdown) {
		return
	}

	// Spawn failed (binary gone, fd pressure). Keep trying on the same
	// policy; the condition may heal.
	p.mu.Lock()
	delay := p.cfg.Restart.Delay(p.attempt)
	p.attempt++
	if !p.shutdown {
		p.restartTimer = time.AfterFunc(delay, p.restart)
	}
	p.mu.Unlock()

	p.logger.Error().Err(err).Dur("delay", delay).Msg("restart failed, rescheduled")
}

func (p *Process) scanLines(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Debug().Str("stream", stream).Msg(line)
		if p.cfg.OnLine != nil {
			p.cfg.OnLine(stream, line)
		}
	}
}

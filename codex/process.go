package codex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bazelment/agentbridge/internal/procattr"
)

const (
	// stdinCloseGrace is how long a closed stdin gets to trigger a clean exit
	// before signals escalate.
	stdinCloseGrace = 1 * time.Second

	// termGrace is how long SIGTERM gets before SIGKILL.
	termGrace = 1 * time.Second

	// killGrace is how long we wait for the kernel to reap after SIGKILL.
	killGrace = 200 * time.Millisecond

	// stderrTailLines bounds how much runtime stderr we retain for error
	// reporting.
	stderrTailLines = 32
)

type processConfig struct {
	command string
	args    []string
	dir     string
	env     []string
	logger  *slog.Logger
}

// processManager owns the runtime subprocess: spawn, pipes, stderr capture,
// exit monitoring, and escalating shutdown.
type processManager struct {
	cfg processConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	exited chan struct{}

	mu      sync.Mutex
	exitErr error
	stderr  []string
}

func newProcessManager(cfg processConfig) *processManager {
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	return &processManager{
		cfg:    cfg,
		exited: make(chan struct{}),
	}
}

// start spawns the subprocess in its own process group and begins monitoring
// stderr and exit.
func (p *processManager) start() error {
	cmd := exec.Command(p.cfg.command, p.cfg.args...)
	cmd.Dir = p.cfg.dir
	if len(p.cfg.env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.env...)
	}
	procattr.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ProcessError{Cause: err, Message: "open stdin pipe"}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ProcessError{Cause: err, Message: "open stdout pipe"}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ProcessError{Cause: err, Message: "open stderr pipe"}
	}

	if err := cmd.Start(); err != nil {
		return &ProcessError{Cause: err, Message: fmt.Sprintf("start %s", p.cfg.command)}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout

	go p.readStderr(stderr)
	go p.waitExit()

	p.cfg.logger.Debug("runtime process started",
		"command", p.cfg.command, "pid", cmd.Process.Pid)
	return nil
}

// waitExit is the only caller of cmd.Wait. Everything else observes the
// exited channel.
func (p *processManager) waitExit() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *processManager) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.cfg.logger.Debug("runtime stderr", "line", line)
		p.mu.Lock()
		p.stderr = append(p.stderr, line)
		if len(p.stderr) > stderrTailLines {
			p.stderr = p.stderr[len(p.stderr)-stderrTailLines:]
		}
		p.mu.Unlock()
	}
}

// stop shuts the subprocess down, escalating from stdin close to SIGTERM to
// SIGKILL, each step gated on the process actually exiting.
func (p *processManager) stop() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}

	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	select {
	case <-p.exited:
		return
	case <-time.After(stdinCloseGrace):
	}

	p.cfg.logger.Debug("runtime still running after stdin close, sending SIGTERM")
	_ = procattr.SignalGroup(p.cmd.Process, syscall.SIGTERM)
	select {
	case <-p.exited:
		return
	case <-time.After(termGrace):
	}

	p.cfg.logger.Warn("runtime ignored SIGTERM, killing process group")
	_ = procattr.KillGroup(p.cmd.Process)
	select {
	case <-p.exited:
	case <-time.After(killGrace):
	}
}

// exitError reports how the process died, nil for a clean exit or a process
// still running.
func (p *processManager) exitError() error {
	select {
	case <-p.exited:
	default:
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitErr == nil {
		return nil
	}
	code := 0
	var ee *exec.ExitError
	if errors.As(p.exitErr, &ee) {
		code = ee.ExitCode()
	}
	return &ProcessError{
		Cause:    p.exitErr,
		Message:  "runtime process exited",
		Stderr:   strings.Join(p.stderr, "\n"),
		ExitCode: code,
	}
}

// Package spawn abstracts "start a child and hand me the parent end
// of a socket" (spec §1: shell-level process spawning is an external
// collaborator; only this contract belongs to the core).
package spawn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/pavog/taskmaster/internal/socket"
)

// ChildSpawner starts one child and returns the parent end of a
// bidirectional Framed socket connected to it.
type ChildSpawner interface {
	Spawn(ctx context.Context) (socket.Framed, error)
}

// ProcessConfig names the child executable and how to invoke it (spec
// §6 configuration options: executable, bootstrap).
type ProcessConfig struct {
	// Executable is the child interpreter; empty resolves via PATH
	// lookup of a sensible default by the caller.
	Executable string
	// Bootstrap is an init script/module to load in the child; when
	// empty the caller is expected to have auto-detected one.
	Bootstrap string
	Args      []string
	Env       []string
}

// ProcessSpawner forks a real OS child process over a unix
// socketpair, grounded on person_detector_python.go's
// spawnPythonProcess/waitProcess/logStderr goroutine trio (stdin/stdout
// pipes there become a single full-duplex socket fd here, handed to
// the child as fd 3 via ExtraFiles, so one socket.Framed serves both
// directions).
type ProcessSpawner struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

// NewProcessSpawner returns a spawner for cfg.
func NewProcessSpawner(cfg ProcessConfig, logger *slog.Logger) *ProcessSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSpawner{cfg: cfg, logger: logger}
}

// Spawn starts the child process and returns the parent end of the
// socketpair as a socket.Framed.
func (s *ProcessSpawner) Spawn(ctx context.Context) (socket.Framed, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("spawn: socketpair: %w", err)
	}
	parentFd, childFd := fds[0], fds[1]

	childFile := os.NewFile(uintptr(childFd), "taskmaster-child-sock")

	args := s.cfg.Args
	if s.cfg.Bootstrap != "" {
		args = append([]string{s.cfg.Bootstrap}, args...)
	}

	cmd := exec.CommandContext(ctx, s.cfg.Executable, args...)
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.ExtraFiles = []*os.File{childFile}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = unix.Close(parentFd)
		_ = childFile.Close()
		return nil, fmt.Errorf("spawn: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = unix.Close(parentFd)
		_ = childFile.Close()
		return nil, fmt.Errorf("spawn: start: %w", err)
	}

	// The child inherited a dup of childFd via ExtraFiles; our copy is
	// no longer needed in the parent (spec §5: fds are owned
	// exclusively by the endpoint that opened them).
	_ = childFile.Close()

	s.logger.Info("spawn: child process started",
		"executable", s.cfg.Executable,
		"pid", cmd.Process.Pid,
	)

	go s.logStderr(stderr, cmd.Process.Pid)
	go s.waitProcess(ctx, cmd)

	return socket.NewPipeSocket(parentFd)
}

// logStderr forwards child stderr lines into structured logs,
// sniffing a leading [LEVEL] tag the way person_detector_python.go's
// logStderr does for its Python child.
func (s *ProcessSpawner) logStderr(stderr io.Reader, pid int) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			s.logger.Error("spawn: child stderr", "pid", pid, "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			s.logger.Warn("spawn: child stderr", "pid", pid, "log", line)
		default:
			s.logger.Debug("spawn: child stderr", "pid", pid, "log", line)
		}
	}
}

// waitProcess reaps the child to avoid zombies and logs whether the
// exit was expected (context cancelled) or a crash.
func (s *ProcessSpawner) waitProcess(ctx context.Context, cmd *exec.Cmd) {
	err := cmd.Wait()
	select {
	case <-ctx.Done():
		s.logger.Debug("spawn: child exited on shutdown", "pid", cmd.Process.Pid)
		return
	default:
	}
	if err != nil {
		s.logger.Error("spawn: child exited unexpectedly", "pid", cmd.Process.Pid, "error", err)
	} else {
		s.logger.Info("spawn: child exited cleanly", "pid", cmd.Process.Pid)
	}
}

// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

// ReloadExitCode is the exit status a worker uses to ask for a relaunch.
const ReloadExitCode = 3

// Marker environment variables.
const (
	// MonitorEnv is set in workers launched by a monitoring supervisor.
	MonitorEnv = "GEARBOX_MONITOR"
	// ReloaderEnv is set in workers launched by a reloading supervisor.
	ReloaderEnv = "GEARBOX_RELOADER"
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateRestarting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RestartPolicy decides whether a child exit leads to a respawn.
type RestartPolicy int

const (
	// RestartAlways respawns after every exit, crash included. There is
	// no backoff and no restart limit.
	RestartAlways RestartPolicy = iota
	// RestartOnReload respawns only when the child exits with
	// ReloadExitCode; any other status ends supervision with that status.
	RestartOnReload
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Executable and Args describe the worker. Defaults: os.Executable()
	// and os.Args[1:].
	Executable string
	Args       []string
	// Env is the base environment. Default: os.Environ()
	Env []string
	// Marker is set to "1" in the worker environment. Required.
	Marker string

	Policy RestartPolicy

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// KillTimeout bounds the wait after forwarding SIGTERM on shutdown.
	// Zero waits for the child indefinitely.
	KillTimeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
	Journal *Journal

	// MetricsFile, when set, receives the metrics exposition after every
	// child exit.
	MetricsFile string

	// OnSpawn is called with the pid of every started child.
	OnSpawn func(pid int)
}

// Supervisor runs a worker subprocess and restarts it according to its
// policy. Cancelling the context passed to Run forwards SIGTERM to the
// active child and waits for it before returning.
type Supervisor struct {
	cfg   SupervisorConfig
	state atomic.Int32
}

// NewSupervisor fills in defaults and returns a Supervisor.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Marker == "" {
		return nil, errors.New("supervisor marker variable is required")
	}
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		cfg.Executable = exe
		if cfg.Args == nil {
			cfg.Args = os.Args[1:]
		}
	}
	if cfg.Env == nil {
		cfg.Env = os.Environ()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Supervisor{cfg: cfg}
	s.setState(StateStarting)
	return s, nil
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	s.cfg.Metrics.recordState(st)
}

// Run supervises until the policy ends supervision or ctx is cancelled.
// It returns the exit status the supervising process should use: the
// child's status under RestartOnReload, or 1 after an interrupt. An error
// is returned only when a child cannot be started.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	logger := s.cfg.Logger

	for {
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return 1, nil
		}

		s.setState(StateStarting)
		cmd := exec.Command(s.cfg.Executable, s.cfg.Args...)
		cmd.Env = setEnv(s.cfg.Env, s.cfg.Marker, "1")
		cmd.Stdin = s.cfg.Stdin
		cmd.Stdout = s.cfg.Stdout
		cmd.Stderr = s.cfg.Stderr

		logger.Debug("starting worker", slog.String("executable", s.cfg.Executable), slog.Any("args", s.cfg.Args))
		if err := cmd.Start(); err != nil {
			s.setState(StateStopped)
			s.cfg.Journal.RecordError(EventSpawn, err)
			return 1, fmt.Errorf("failed to start worker: %w", err)
		}

		pid := cmd.Process.Pid
		s.setState(StateRunning)
		s.cfg.Metrics.recordSpawn()
		s.cfg.Journal.RecordChild(EventSpawn, pid, nil)
		logger.Info("worker started", slog.Int("pid", pid))
		if s.cfg.OnSpawn != nil {
			s.cfg.OnSpawn(pid)
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case err := <-done:
			code := exitCode(cmd.ProcessState, err)
			s.childExited(pid, code)

			if ctx.Err() != nil {
				s.setState(StateStopped)
				return 1, nil
			}
			if s.cfg.Policy == RestartOnReload && code != ReloadExitCode {
				s.setState(StateStopped)
				return code, nil
			}

			s.setState(StateRestarting)
			if code == ReloadExitCode {
				s.cfg.Journal.RecordChild(EventReload, pid, &code)
				logger.Info("worker requested reload, restarting", slog.Int("pid", pid))
			} else {
				logger.Warn("worker exited, restarting", slog.Int("pid", pid), slog.Int("exit_code", code))
			}

		case <-ctx.Done():
			s.setState(StateStopping)
			logger.Info("forwarding termination to worker", slog.Int("pid", pid))
			code := s.terminate(cmd, done)
			s.childExited(pid, code)
			s.setState(StateStopped)
			return 1, nil
		}
	}
}

// terminate sends SIGTERM, escalates to SIGKILL after KillTimeout, and
// always waits for the child to be reaped.
func (s *Supervisor) terminate(cmd *exec.Cmd, done <-chan error) int {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.cfg.Logger.Warn("failed to signal worker", slog.Any("error", err))
	}

	var timeout <-chan time.Time
	if s.cfg.KillTimeout > 0 {
		timer := time.NewTimer(s.cfg.KillTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		return exitCode(cmd.ProcessState, err)
	case <-timeout:
		s.cfg.Logger.Warn("worker did not exit, killing it", slog.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		err := <-done
		return exitCode(cmd.ProcessState, err)
	}
}

func (s *Supervisor) childExited(pid, code int) {
	s.cfg.Metrics.recordExit(code)
	s.cfg.Journal.RecordChild(EventChildExit, pid, &code)
	if s.cfg.MetricsFile != "" && s.cfg.Metrics != nil {
		if err := s.cfg.Metrics.WriteFile(s.cfg.MetricsFile); err != nil {
			s.cfg.Logger.Warn("failed to write metrics file", slog.String("path", s.cfg.MetricsFile), slog.Any("error", err))
		}
	}
}

// exitCode maps a wait result to a shell-style status; a signalled
// process reports 128 plus the signal number.
func exitCode(state *os.ProcessState, err error) int {
	if state == nil {
		if err != nil {
			return 1
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

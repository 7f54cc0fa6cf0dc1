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
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrStopTimeout is returned when a process survives every stop attempt.
	ErrStopTimeout = errors.New("process still running after stop attempts")
)

// Probe reports whether a process is alive.
type Probe func(pid int) bool

// ProcessInfo contains information about a running process.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessRunning checks if a process with the given PID exists by
// sending it signal 0. EPERM means the process exists but belongs to
// another user, which still counts as alive.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// SendSignal sends a signal to the given process.
func SendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}

	return nil
}

// GetProcessInfo returns information about the process with the given PID.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}

	if info.Running {
		cmd, err := getProcessCommand(pid)
		if err != nil || cmd == "" {
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info
}

// Stopper terminates a process with a bounded number of SIGTERM attempts.
type Stopper struct {
	// Attempts is the maximum number of SIGTERMs sent. Default: 10
	Attempts int
	// Interval is the pause after each SIGTERM. Default: 1s
	Interval time.Duration

	Alive  Probe
	Signal func(pid int, sig syscall.Signal) error
	Sleep  func(time.Duration)
}

// NewStopper returns a Stopper with the default schedule of ten attempts
// one second apart.
func NewStopper() *Stopper {
	return &Stopper{
		Attempts: 10,
		Interval: time.Second,
		Alive:    IsProcessRunning,
		Signal:   SendSignal,
		Sleep:    time.Sleep,
	}
}

// Stop sends SIGTERM to pid until it stops answering the liveness probe.
// It returns the number of signals sent, and ErrStopTimeout when the
// process is still alive after Attempts signals.
func (s *Stopper) Stop(pid int) (int, error) {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 10
	}

	sent := 0
	for sent < attempts {
		if !s.Alive(pid) {
			return sent, nil
		}
		if err := s.Signal(pid, syscall.SIGTERM); err != nil {
			if errors.Is(err, ErrProcessNotRunning) {
				return sent, nil
			}
			return sent, err
		}
		sent++
		s.Sleep(s.Interval)
	}

	if s.Alive(pid) {
		return sent, ErrStopTimeout
	}
	return sent, nil
}

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
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// DaemonStageEnv marks the intermediate processes of a detach.
// It is unset again in the final daemon.
const DaemonStageEnv = "GEARBOX_DAEMON_STAGE"

const (
	stageSession = "1"
	stageDaemon  = "2"
)

// SpawnFunc starts a copy of the current program and returns without
// waiting for it. setsid requests a new session.
type SpawnFunc func(env []string, setsid bool) error

// Daemonizer detaches the current program into the background.
//
// A Go program cannot fork, so detaching re-executes the binary twice.
// The first copy runs as the leader of a new session and immediately
// starts the second copy, which is not a session leader and therefore
// can never reacquire a controlling terminal. Both copies have stdin,
// stdout and stderr on the null device. The launching process and the session
// leader exit as soon as their child has started.
type Daemonizer struct {
	PIDFile *PIDFileManager
	Logger  *slog.Logger

	Getenv   func(string) string
	Unsetenv func(string) error
	Environ  func() []string
	Spawn    SpawnFunc
}

// NewDaemonizer returns a Daemonizer that re-executes os.Args.
func NewDaemonizer(pidFile *PIDFileManager, logger *slog.Logger) *Daemonizer {
	return &Daemonizer{
		PIDFile:  pidFile,
		Logger:   logger,
		Getenv:   os.Getenv,
		Unsetenv: os.Unsetenv,
		Environ:  os.Environ,
		Spawn:    spawnSelf,
	}
}

// Daemonize advances the detach by one stage. When it returns true the
// caller must exit with status 0 without doing any more work. When it
// returns false the caller is the final daemon and continues startup.
//
// Only the launching invocation checks the PID file; a live owner yields
// *errors.DaemonConflictError.
func (d *Daemonizer) Daemonize() (bool, error) {
	switch d.Getenv(DaemonStageEnv) {
	case "":
		if d.PIDFile != nil {
			pid, err := d.PIDFile.ReadLive()
			if err == nil {
				return false, &gearboxerrors.DaemonConflictError{PID: pid, Path: d.PIDFile.Path()}
			}
			if !errors.Is(err, ErrNoPID) {
				return false, err
			}
		}
		if d.Logger != nil {
			d.Logger.Info("entering daemon mode")
		}
		if err := d.Spawn(d.stageEnv(stageSession), true); err != nil {
			return false, fmt.Errorf("failed to detach: %w", err)
		}
		return true, nil

	case stageSession:
		if err := d.Spawn(d.stageEnv(stageDaemon), false); err != nil {
			return false, fmt.Errorf("failed to detach: %w", err)
		}
		return true, nil

	default:
		if err := d.Unsetenv(DaemonStageEnv); err != nil {
			return false, fmt.Errorf("failed to clear %s: %w", DaemonStageEnv, err)
		}
		return false, nil
	}
}

func (d *Daemonizer) stageEnv(stage string) []string {
	return setEnv(d.Environ(), DaemonStageEnv, stage)
}

// spawnSelf re-executes the running binary with the same arguments.
// exec.Cmd connects nil stdio to the null device.
func spawnSelf(env []string, setsid bool) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = env
	if setsid {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// setEnv returns env with key set to value, replacing any existing entry.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			continue
		}
		out = append(out, kv)
	}
	return append(out, prefix+value)
}

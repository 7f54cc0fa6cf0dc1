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

package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// DefaultShutdownTimeout is how long an exec worker's process group has
// to exit after SIGTERM before it is killed.
const DefaultShutdownTimeout = 10 * time.Second

// ExecWorker runs an app's command as a child process group.
type ExecWorker struct {
	name    string
	argv    []string
	dir     string
	env     []string
	watch   []string
	timeout time.Duration
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// NewExecWorker is the RunnerFactory for the "exec" server type.
func NewExecWorker(spec Spec) (Worker, error) {
	if len(spec.App.Command) == 0 {
		return nil, fmt.Errorf("app.%s.command must not be empty", spec.Name)
	}

	lookup := expander(spec)
	argv := make([]string, len(spec.App.Command))
	for i, arg := range spec.App.Command {
		argv[i] = os.Expand(arg, lookup)
	}

	env := os.Environ()
	for k, v := range spec.App.Env {
		env = append(env, k+"="+os.Expand(v, lookup))
	}

	timeout := spec.Server.ShutdownTimeout.Duration
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ExecWorker{
		name:    spec.Name,
		argv:    argv,
		dir:     spec.App.Dir,
		env:     env,
		watch:   watchList(spec),
		timeout: timeout,
		stdout:  spec.Stdout,
		stderr:  spec.Stderr,
		logger:  logger.With(slog.String("runner", "exec"), slog.String("app", spec.Name)),
	}, nil
}

// expander resolves ${name} from vars, then host and port, then the
// environment.
func expander(spec Spec) func(string) string {
	return func(key string) string {
		if v, ok := spec.Vars[key]; ok {
			return v
		}
		switch key {
		case "host":
			return spec.Server.Host
		case "port":
			if spec.Server.Port == 0 {
				return ""
			}
			return strconv.Itoa(spec.Server.Port)
		case "here":
			if spec.Document != nil {
				return filepath.Dir(spec.Document.Path())
			}
		}
		return os.Getenv(key)
	}
}

func watchList(spec Spec) []string {
	var files []string
	if spec.Document != nil {
		files = append(files, spec.Document.Path())
	}
	for _, w := range spec.App.Watch {
		if !filepath.IsAbs(w) {
			w = filepath.Join(spec.App.Dir, w)
		}
		files = append(files, w)
	}
	return files
}

// Args returns the expanded command line.
func (w *ExecWorker) Args() []string {
	return w.argv
}

// WatchFiles implements Worker.
func (w *ExecWorker) WatchFiles() []string {
	return w.watch
}

// Describe implements Worker.
func (w *ExecWorker) Describe() string {
	return fmt.Sprintf("%s (%s)", w.name, strings.Join(w.argv, " "))
}

// Serve implements Worker.
func (w *ExecWorker) Serve(ctx context.Context) error {
	cmd := exec.Command(w.argv[0], w.argv[1:]...)
	cmd.Dir = w.dir
	cmd.Env = w.env
	cmd.Stdin = os.Stdin
	cmd.Stdout = w.stdout
	cmd.Stderr = w.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return gearboxerrors.Wrapf(err, "failed to start %s", w.argv[0])
	}
	pid := cmd.Process.Pid
	w.logger.Debug("app started", slog.Int("pid", pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return gearboxerrors.Wrapf(err, "%s exited", w.argv[0])
		}
		return nil
	case <-ctx.Done():
	}

	w.logger.Debug("stopping app", slog.Int("pid", pid))
	w.signalGroup(pid, unix.SIGTERM)

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		w.logger.Warn("app did not stop in time, killing",
			slog.Int("pid", pid), slog.Duration("timeout", w.timeout))
		w.signalGroup(pid, unix.SIGKILL)
		<-done
	}
	return nil
}

func (w *ExecWorker) signalGroup(pid int, sig syscall.Signal) {
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		w.logger.Debug("failed to signal process group",
			slog.Int("pid", pid), slog.String("signal", sig.String()), slog.Any("error", err))
	}
}

// runSetup runs the app's setup command to completion.
func runSetup(ctx context.Context, spec Spec) error {
	lookup := expander(spec)
	argv := make([]string, len(spec.App.Setup))
	for i, arg := range spec.App.Setup {
		argv[i] = os.Expand(arg, lookup)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.App.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.App.Env {
		cmd.Env = append(cmd.Env, k+"="+os.Expand(v, lookup))
	}
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if err := cmd.Run(); err != nil {
		return gearboxerrors.Wrapf(err, "setup command %s failed", argv[0])
	}
	return nil
}

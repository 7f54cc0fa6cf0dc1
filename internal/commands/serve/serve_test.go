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

package serve

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gearbox/internal/command"
	"github.com/tombee/gearbox/internal/commands/shared"
	"github.com/tombee/gearbox/internal/lifecycle"
	gearboxlog "github.com/tombee/gearbox/internal/log"
	"github.com/tombee/gearbox/internal/reload"
	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

func newTestCommand(t *testing.T, env map[string]string) (*Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app := command.NewApp("gearbox", command.NewRegistry(), gearboxlog.Discard())
	app.Stdout = &out
	app.Stderr = &out

	c := New(app)
	c.getenv = func(key string) string { return env[key] }
	return c, &out
}

func run(t *testing.T, c *Command, argv ...string) (int, error) {
	t.Helper()
	fs := c.BuildParser("gearbox serve")
	require.NoError(t, fs.Parse(argv))
	return c.TakeAction(context.Background(), fs.Args())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"a=b", "c=d=e", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "b", "c": "d=e", "empty": ""}, vars)

	_, err = parseVars([]string{"novalue"})
	require.Error(t, err)
	assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))
}

func TestSplitAction(t *testing.T) {
	tests := []struct {
		args       []string
		wantAction string
		wantRest   []string
	}{
		{args: nil, wantAction: "", wantRest: nil},
		{args: []string{"start", "port=1"}, wantAction: "start", wantRest: []string{"port=1"}},
		{args: []string{"status"}, wantAction: "status", wantRest: []string{}},
		{args: []string{"port=1"}, wantAction: "", wantRest: []string{"port=1"}},
	}

	for _, tt := range tests {
		action, rest := splitAction(tt.args)
		assert.Equal(t, tt.wantAction, action)
		assert.Equal(t, tt.wantRest, rest)
	}
}

func TestTakeAction_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{name: "reload with monitor", argv: []string{"--reload", "--monitor-restart"}},
		{name: "server with server-name", argv: []string{"-s", "exec", "--server-name", "prod"}},
		{name: "bad variable", argv: []string{"start", "oops"}},
		{name: "bad interval", argv: []string{"--reload-interval", "0"}},
		{name: "unknown user", argv: []string{"--user", "gearbox-no-such-user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCommand(t, nil)
			_, err := run(t, c, tt.argv...)
			require.Error(t, err)
			assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))
		})
	}
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "app.pid")

	c, out := newTestCommand(t, nil)
	code, err := run(t, c, "status", "--pid-file", pidPath)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "No PID file")

	writeFile(t, pidPath, "")
	c, out = newTestCommand(t, nil)
	code, _ = run(t, c, "--status", "--pid-file", pidPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "No PID in file")

	writeFile(t, pidPath, "4242")
	c, out = newTestCommand(t, nil)
	c.alive = func(int) bool { return false }
	code, _ = run(t, c, "status", "--pid-file", pidPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "PID 4242 in "+pidPath+" is not running")
	assert.FileExists(t, pidPath, "status must not remove the pid file")

	self := os.Getpid()
	writeFile(t, pidPath, strconv.Itoa(self))
	c, out = newTestCommand(t, nil)
	code, _ = run(t, c, "status", "--pid-file", pidPath)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Server running in PID "+strconv.Itoa(self))
}

func TestStop_Outcomes(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "app.pid")

	c, out := newTestCommand(t, nil)
	code, _ := run(t, c, "--stop-daemon", "--pid-file", pidPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "No PID file exists")

	writeFile(t, pidPath, "garbage")
	c, out = newTestCommand(t, nil)
	code, _ = run(t, c, "stop", "--pid-file", pidPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Not a valid PID file")

	writeFile(t, pidPath, "4242")
	c, out = newTestCommand(t, nil)
	c.alive = func(int) bool { return false }
	code, _ = run(t, c, "stop", "--pid-file", pidPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "is not valid (deleting)")
	assert.NoFileExists(t, pidPath)
}

func TestStop_KillsProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "app.pid")
	journalPath := filepath.Join(t.TempDir(), "events.jsonl")
	writeFile(t, pidPath, "4242")

	c, out := newTestCommand(t, nil)
	running := true
	var signalled []int
	c.alive = func(int) bool { return running }
	c.stopper = &lifecycle.Stopper{
		Attempts: 10,
		Signal: func(pid int, sig syscall.Signal) error {
			signalled = append(signalled, pid)
			running = false
			return nil
		},
		Sleep: func(time.Duration) {},
	}

	code, err := run(t, c, "stop", "--pid-file", pidPath, "--lifecycle-log", journalPath)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []int{4242}, signalled)
	assert.NoFileExists(t, pidPath)
	assert.Contains(t, out.String(), "Stopped PID 4242")

	data, err := os.ReadFile(journalPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"stop"`)
}

func TestStop_GivesUpAfterTenAttempts(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "app.pid")
	writeFile(t, pidPath, "4242")

	c, out := newTestCommand(t, nil)
	signals := 0
	c.alive = func(int) bool { return true }
	c.stopper = &lifecycle.Stopper{
		Attempts: 10,
		Signal:   func(int, syscall.Signal) error { signals++; return nil },
		Sleep:    func(time.Duration) {},
	}

	code, err := run(t, c, "stop", "--pid-file", pidPath)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, 10, signals)
	assert.Contains(t, out.String(), "failed to kill web process 4242")
	assert.FileExists(t, pidPath)
}

func TestRestart_AbortsWhenStopFails(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "app.pid")
	writeFile(t, pidPath, "4242")

	c, out := newTestCommand(t, nil)
	c.alive = func(int) bool { return true }
	c.stopper = &lifecycle.Stopper{
		Attempts: 2,
		Signal:   func(int, syscall.Signal) error { return nil },
		Sleep:    func(time.Duration) {},
	}
	c.spawn = func([]string, bool) error {
		t.Fatal("restart must not daemonize after a failed stop")
		return nil
	}

	code, err := run(t, c, "restart", "--pid-file", pidPath)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, out.String(), "Could not stop daemon; aborting")
}

func TestStart_Daemonizes(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "app.pid")

	c, out := newTestCommand(t, nil)
	var spawnedEnv []string
	var spawnedSetsid bool
	c.spawn = func(env []string, setsid bool) error {
		spawnedEnv = env
		spawnedSetsid = setsid
		return nil
	}

	code, err := run(t, c, "restart", "--pid-file", pidPath)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, spawnedSetsid)
	assert.Contains(t, spawnedEnv, lifecycle.DaemonStageEnv+"=1")
	assert.Contains(t, out.String(), "No PID file exists")
}

func TestDaemon_RefusesLiveOwner(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "app.pid")
	writeFile(t, pidPath, "4242")

	c, _ := newTestCommand(t, nil)
	c.alive = func(pid int) bool { return pid == 4242 }
	c.spawn = func([]string, bool) error {
		t.Fatal("must not detach while another daemon is running")
		return nil
	}

	_, err := run(t, c, "--daemon", "--pid-file", pidPath)
	require.Error(t, err)
	assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))

	var conflict *gearboxerrors.DaemonConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 4242, conflict.PID)
}

func TestServe_ForegroundOwnsPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "app.pid")
	config := filepath.Join(dir, "app.toml")
	writeFile(t, config, `
[app.main]
command = ["sh", "-c", "test \"$(cat ${pidfile})\" = \"${self}\""]
`)

	c, out := newTestCommand(t, nil)
	self := strconv.Itoa(os.Getpid())
	code, err := run(t, c, "-c", config, "--pid-file", pidPath, "pidfile="+pidPath, "self="+self)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Starting server in PID "+self)
	assert.NoFileExists(t, pidPath)
}

func TestServe_Failures(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "app.toml")
	writeFile(t, config, `
[app.main]
command = ["sh", "-c", "exit 9"]
`)

	c, _ := newTestCommand(t, nil)
	_, err := run(t, c, "-c", config)
	require.Error(t, err)
	assert.Equal(t, shared.ExitCommandFailed, shared.ExitCode(err))

	c, _ = newTestCommand(t, nil)
	_, err = run(t, c, "-c", config, "-n", "missing")
	require.Error(t, err)
	var loadErr *gearboxerrors.LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Equal(t, shared.ExitCommandFailed, shared.ExitCode(err))
}

func TestServe_PIDFileMustBeWritable(t *testing.T) {
	c, _ := newTestCommand(t, nil)
	_, err := run(t, c, "--pid-file", filepath.Join(t.TempDir(), "missing", "dir", "app.pid"))
	require.Error(t, err)

	var pidErr *gearboxerrors.PIDFileError
	require.ErrorAs(t, err, &pidErr)
	assert.Equal(t, shared.ExitStartupFailed, shared.ExitCode(err))
}

func TestServe_ReloadWorkerExitsOnChange(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	config := filepath.Join(dir, "app.toml")
	writeFile(t, config, `
[app.main]
command = ["sleep", "30"]
`)

	c, _ := newTestCommand(t, map[string]string{lifecycle.ReloaderEnv: "1"})
	fs := c.BuildParser("gearbox serve")
	require.NoError(t, fs.Parse([]string{"-c", config, "--reload"}))

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := c.TakeAction(context.Background(), fs.Args())
		done <- result{code, err}
	}()

	time.Sleep(500 * time.Millisecond)
	writeFile(t, config, `
[app.main]
command = ["sleep", "31"]
`)

	select {
	case r := <-done:
		require.Error(t, r.err)
		assert.ErrorIs(t, r.err, reload.ErrFilesChanged)
		assert.Equal(t, shared.ExitReload, shared.ExitCode(r.err))
	case <-time.After(10 * time.Second):
		t.Fatal("reload worker did not exit after a change")
	}
}

func TestSupervise_ReloaderReturnsWorkerCode(t *testing.T) {
	c, out := newTestCommand(t, nil)
	c.executable = "sh"
	c.args = []string{"-c", "exit 5"}

	code, err := run(t, c, "--reload")
	require.NoError(t, err)
	assert.Equal(t, 5, code)
	assert.Contains(t, out.String(), "Starting subprocess with file monitor")
}

func TestSupervise_MonitorOwnsPIDFile(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "app.pid")
	metricsPath := filepath.Join(dir, "gearbox.prom")

	c, out := newTestCommand(t, nil)
	c.executable = "sh"
	c.args = []string{"-c", "sleep 0.05"}

	fs := c.BuildParser("gearbox serve")
	require.NoError(t, fs.Parse([]string{"--monitor-restart", "--pid-file", pidPath, "--metrics-file", metricsPath}))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := c.TakeAction(ctx, fs.Args())
		done <- result{code, err}
	}()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidPath)
		return err == nil && string(data) == strconv.Itoa(os.Getpid())
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(metricsPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, 1, r.code)
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.NoFileExists(t, pidPath)
	assert.Contains(t, out.String(), "Restarting")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gearbox_supervisor_spawns_total")
}

func TestEnsureWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	require.NoError(t, ensureWritable(path))
	assert.FileExists(t, path)

	err := ensureWritable(filepath.Join(path, "child"))
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*gearboxerrors.PIDFileError)))
}

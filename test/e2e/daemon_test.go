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

//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/gearbox/test/e2e/harness"
)

const sleeperConfig = `
[server.main]
shutdown_timeout = "2s"

[app.main]
command = ["sleep", "60"]
`

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

func TestDaemon_StartStatusStop(t *testing.T) {
	h := harness.New(t)
	h.WriteFile("development.ini", sleeperConfig, 0644)
	pidPath := filepath.Join(h.Dir, "gearbox.pid")

	res := h.Run("serve", "start")
	require.Equal(t, 0, res.Code, res.Stderr)
	assert.Contains(t, res.Stderr, "entering daemon mode")

	h.WaitFor(5*time.Second, "daemon pid file", func() bool { return readPID(pidPath) > 0 })
	t.Cleanup(func() { h.Run("serve", "stop") })

	res = h.Run("serve", "status")
	assert.Equal(t, 0, res.Code)
	assert.Contains(t, res.Stdout, "Server running in PID "+strconv.Itoa(readPID(pidPath)))

	res = h.Run("serve", "--daemon")
	assert.Equal(t, 2, res.Code)
	assert.Contains(t, res.Stderr, "daemon is already running")

	res = h.Run("serve", "stop")
	assert.Equal(t, 0, res.Code, res.Stdout)
	assert.NoFileExists(t, pidPath)

	res = h.Run("serve", "status")
	assert.Equal(t, 1, res.Code)
}

func TestDaemon_StalePIDFileIsReplaced(t *testing.T) {
	h := harness.New(t)
	h.WriteFile("development.ini", sleeperConfig, 0644)
	pidPath := h.WriteFile("gearbox.pid", "999999", 0644)

	res := h.Run("serve", "--daemon")
	require.Equal(t, 0, res.Code, res.Stderr)

	h.WaitFor(5*time.Second, "new daemon pid", func() bool {
		pid := readPID(pidPath)
		return pid > 0 && pid != 999999
	})

	res = h.Run("serve", "--stop-daemon")
	assert.Equal(t, 0, res.Code, res.Stdout)
}

func TestServe_UnknownCommand(t *testing.T) {
	h := harness.New(t)

	res := h.Run("serv")
	assert.Equal(t, 2, res.Code)
	assert.Contains(t, res.Stderr, "serv")
}

func TestPlugin_ExitCodePassesThrough(t *testing.T) {
	h := harness.New(t)
	h.WriteFile("scripts/check.sh", "#!/bin/sh\necho checking \"$@\"\nexit 6\n", 0755)
	h.WriteFile("gearbox.yaml", `
commands:
  - name: check_all
    description: Run the project checks
    exec: scripts/check.sh
`, 0644)

	res := h.Run("check", "all", "--fast")
	assert.Equal(t, 6, res.Code)
	assert.Equal(t, "checking --fast\n", res.Stdout)
}

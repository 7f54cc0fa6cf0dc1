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
	"errors"
	"fmt"

	"github.com/tombee/gearbox/internal/commands/shared"
	"github.com/tombee/gearbox/internal/lifecycle"
)

// Exit statuses of stop and status.
const (
	stopNotRunning    = 1
	stopDeleteFailed  = 2
	stopKillExhausted = 3
)

// status reports whether the pid file names a live process. It never
// modifies the file.
func (c *Command) status(pf *lifecycle.PIDFileManager) int {
	p := shared.NewPainter(c.app.Stdout)

	if !pf.Exists() {
		c.out("%s", p.Warn(fmt.Sprintf("No PID file %s", pf.Path())))
		return stopNotRunning
	}
	pid, err := pf.Read()
	if err != nil {
		c.out("%s", p.Warn(fmt.Sprintf("No PID in file %s", pf.Path())))
		return stopNotRunning
	}
	if !c.alive(pid) {
		c.out("%s", p.Error(fmt.Sprintf("PID %d in %s is not running", pid, pf.Path())))
		return stopNotRunning
	}

	c.out("%s", p.OK(fmt.Sprintf("Server running in PID %d", pid)))
	if info := lifecycle.GetProcessInfo(pid); info.Running && info.Command != "" {
		c.out("  %s %s", p.Label("command:"), info.Command)
	}
	return shared.ExitSuccess
}

// stop terminates the process recorded in the pid file:
//
//	0 stopped, pid file removed
//	1 no pid file, no valid pid, or the process was already gone
//	2 the stale pid file could not be deleted
//	3 the process survived every SIGTERM
func (c *Command) stop(pf *lifecycle.PIDFileManager, journal *lifecycle.Journal) int {
	p := shared.NewPainter(c.app.Stdout)

	if !pf.Exists() {
		c.out("%s", p.Warn(fmt.Sprintf("No PID file exists in %s", pf.Path())))
		return stopNotRunning
	}
	pid, err := pf.Read()
	if err != nil {
		c.out("%s", p.Warn(fmt.Sprintf("Not a valid PID file in %s", pf.Path())))
		return stopNotRunning
	}
	if !c.alive(pid) {
		c.out("%s", p.Warn(fmt.Sprintf("PID in %s is not valid (deleting)", pf.Path())))
		journal.RecordChild(lifecycle.EventStalePID, pid, nil)
		if err := pf.Delete(); err != nil {
			c.out("%s", p.Error(fmt.Sprintf("Could not delete: %v", err)))
			return stopDeleteFailed
		}
		return stopNotRunning
	}

	stopper := *c.stopper
	stopper.Alive = c.alive
	if _, err := stopper.Stop(pid); err != nil {
		journal.RecordError(lifecycle.EventStopFailure, err)
		if errors.Is(err, lifecycle.ErrStopTimeout) {
			c.out("%s", p.Error(fmt.Sprintf("failed to kill web process %d", pid)))
			return stopKillExhausted
		}
		c.out("%s", p.Error(fmt.Sprintf("failed to stop process %d: %v", pid, err)))
		return stopKillExhausted
	}

	journal.RecordChild(lifecycle.EventStop, pid, nil)
	if err := pf.Delete(); err != nil {
		c.out("%s", p.Warn(err.Error()))
	}
	c.out("%s", p.OK(fmt.Sprintf("Stopped PID %d", pid)))
	return shared.ExitSuccess
}

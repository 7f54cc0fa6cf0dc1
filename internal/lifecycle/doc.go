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

/*
Package lifecycle manages the serve process lifecycle: PID files, liveness
probes, daemon detachment and worker supervision.

# PID Files

A PID file holds one decimal process id and nothing else. It is not
locked. Staleness is detected with a zero-signal probe, and cleanup is
guarded so a process only removes a file that still holds its own pid:

	pf := lifecycle.NewPIDFileManager("gearbox.pid", lifecycle.WithPIDLogger(logger))
	if pid, err := pf.ReadLive(); err == nil {
	    // another instance owns the file
	}
	if err := pf.WriteSelf(); err != nil {
	    return err
	}
	defer pf.Remove()

# Daemon Mode

Daemonizer re-executes the binary twice so the final process is not a
session leader and has its standard streams on the null device:

	exit, err := lifecycle.NewDaemonizer(pf, logger).Daemonize()
	if err != nil {
	    return err
	}
	if exit {
	    return nil
	}

# Supervision

Supervisor spawns the same binary with a marker variable set and restarts
it by policy. RestartAlways backs the monitor mode; RestartOnReload relaunches
only after a worker exits with ReloadExitCode:

	sup, _ := lifecycle.NewSupervisor(lifecycle.SupervisorConfig{
	    Marker: lifecycle.MonitorEnv,
	    Policy: lifecycle.RestartAlways,
	})
	code, err := sup.Run(ctx)

# Stopping

Stopper sends SIGTERM up to ten times, one second apart, and gives up
with ErrStopTimeout rather than blocking forever.
*/
package lifecycle

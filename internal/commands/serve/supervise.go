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
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/tombee/gearbox/internal/commands/shared"
	"github.com/tombee/gearbox/internal/lifecycle"
	"github.com/tombee/gearbox/internal/loader"
	gearboxlog "github.com/tombee/gearbox/internal/log"
	"github.com/tombee/gearbox/internal/reload"
)

// supervise turns this process into a supervisor that relaunches the
// same command line with marker set. The supervisor holds the pid file
// so stop targets it, and it forwards the termination to its worker.
func (c *Command) supervise(ctx context.Context, pf *lifecycle.PIDFileManager, journal *lifecycle.Journal, marker string, policy lifecycle.RestartPolicy) (int, error) {
	logger := gearboxlog.WithComponent(c.app.Logger, "supervisor")

	if c.verbose(1) {
		if policy == lifecycle.RestartOnReload {
			c.out("Starting subprocess with file monitor")
		} else {
			c.out("Starting subprocess with monitor parent")
		}
	}

	if pf != nil {
		if err := pf.WriteSelf(); err != nil {
			return 0, shared.NewStartupError("", err)
		}
		defer pf.Remove()
	}

	var metrics *lifecycle.Metrics
	if c.opts.MetricsFile != "" {
		metrics = lifecycle.NewMetrics()
	}

	cfg := lifecycle.SupervisorConfig{
		Executable:  c.executable,
		Args:        c.args,
		Marker:      marker,
		Policy:      policy,
		Stdin:       os.Stdin,
		Stdout:      c.app.Stdout,
		Stderr:      c.app.Stderr,
		Logger:      logger,
		Metrics:     metrics,
		Journal:     journal,
		MetricsFile: c.opts.MetricsFile,
	}
	if c.app.LogWriter != nil {
		cfg.Stdout = c.app.LogWriter
		cfg.Stderr = c.app.LogWriter
	}
	if c.verbose(1) {
		restarts := 0
		cfg.OnSpawn = func(pid int) {
			if restarts > 0 {
				c.out("%s Restarting %s", strings.Repeat("-", 20), strings.Repeat("-", 20))
			}
			restarts++
		}
	}

	sup, err := lifecycle.NewSupervisor(cfg)
	if err != nil {
		return 0, shared.NewStartupError("", err)
	}

	code, err := sup.Run(ctx)
	if err != nil {
		return 0, shared.NewStartupError("", err)
	}
	if ctx.Err() != nil {
		c.out("^C caught in monitor process")
	}
	logger.Debug("supervisor finished", slog.Int(gearboxlog.ExitCodeKey, code))
	return code, nil
}

// monitor watches the worker's files plus --watch.
func (c *Command) monitor(worker loader.Worker) (*reload.Monitor, error) {
	cfg := reload.Config{
		Interval: seconds(c.opts.ReloadInterval),
		Logger:   c.app.Logger,
	}
	if wd, err := os.Getwd(); err == nil {
		cfg.BaseDir = wd
	}
	for _, p := range append(worker.WatchFiles(), c.opts.Watch...) {
		if isGlob(p) {
			cfg.Patterns = append(cfg.Patterns, p)
		} else {
			cfg.Paths = append(cfg.Paths, p)
		}
	}
	return reload.NewMonitor(cfg)
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

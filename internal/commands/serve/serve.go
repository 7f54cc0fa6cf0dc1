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

// Package serve implements the long-running "serve" command: it loads a
// worker from an application config and runs it in the foreground, as a
// daemon, under a restarting monitor or under a file-change reloader.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/tombee/gearbox/internal/command"
	"github.com/tombee/gearbox/internal/commands/shared"
	"github.com/tombee/gearbox/internal/lifecycle"
	"github.com/tombee/gearbox/internal/loader"
	gearboxlog "github.com/tombee/gearbox/internal/log"
	"github.com/tombee/gearbox/internal/reload"
	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// DefaultPIDFile is used when daemonizing, stopping or reporting status
// without --pid-file.
const DefaultPIDFile = "gearbox.pid"

// Actions accepted as the first positional argument.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionStatus  = "status"
)

// Options holds the serve flag values.
type Options struct {
	Config         string
	AppName        string
	ServerType     string
	ServerName     string
	Daemon         bool
	PIDFile        string
	Reload         bool
	ReloadInterval int
	Watch          []string
	MonitorRestart bool
	Status         bool
	StopDaemon     bool
	User           string
	Group          string
	MetricsFile    string
	LifecycleLog   string
}

// Command is the serve command.
type Command struct {
	app  *command.App
	opts Options
	fs   *pflag.FlagSet

	loader  *loader.Loader
	getenv  func(string) string
	alive   lifecycle.Probe
	stopper *lifecycle.Stopper
	spawn   lifecycle.SpawnFunc

	// executable and args are what supervisors relaunch. Defaults: the
	// running binary and its arguments.
	executable string
	args       []string
}

// Factory registers serve with a command registry.
func Factory() command.Factory {
	return command.FactoryFunc(func(app *command.App) (command.Command, error) {
		return New(app), nil
	})
}

// New creates the serve command for app.
func New(app *command.App) *Command {
	l := loader.New(gearboxlog.WithComponent(app.Logger, "loader"))
	l.Stdout = app.Stdout
	l.Stderr = app.Stderr
	if app.LogWriter != nil {
		l.Stdout = app.LogWriter
		l.Stderr = app.LogWriter
	}

	return &Command{
		app:     app,
		loader:  l,
		getenv:  os.Getenv,
		alive:   lifecycle.IsProcessRunning,
		stopper: lifecycle.NewStopper(),
	}
}

// Describe implements command.Command.
func (c *Command) Describe() string {
	return "Serve an application, optionally as a daemon, monitored or reloading"
}

// BuildParser implements command.Command.
func (c *Command) BuildParser(prog string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	o := &c.opts

	fs.StringVarP(&o.Config, "config", "c", "development.ini", "Application config file, optionally with #section")
	fs.StringVarP(&o.AppName, "app-name", "n", loader.DefaultSection, "Load the named application")
	fs.StringVarP(&o.ServerType, "server", "s", "", "Use the named server type directly")
	fs.StringVar(&o.ServerName, "server-name", loader.DefaultSection, "Use the named server section of the config file")
	fs.BoolVar(&o.Daemon, "daemon", false, "Run in the background")
	fs.StringVar(&o.PIDFile, "pid-file", "", "Save the process id to this file (default \""+DefaultPIDFile+"\" with --daemon)")
	fs.BoolVar(&o.Reload, "reload", false, "Restart the worker when watched files change")
	fs.IntVar(&o.ReloadInterval, "reload-interval", 1, "Seconds between file change checks")
	fs.StringSliceVar(&o.Watch, "watch", nil, "Extra files or globs to watch with --reload (repeatable)")
	fs.BoolVar(&o.MonitorRestart, "monitor-restart", false, "Restart the worker whenever it exits")
	fs.BoolVar(&o.Status, "status", false, "Show the status of the daemon")
	fs.BoolVar(&o.StopDaemon, "stop-daemon", false, "Stop the daemon recorded in the pid file")
	fs.StringVar(&o.User, "user", "", "Switch to this user (name or uid)")
	fs.StringVar(&o.Group, "group", "", "Switch to this group (name or gid)")
	fs.StringVar(&o.MetricsFile, "metrics-file", "", "Write supervisor metrics to this file after each worker exit")
	fs.StringVar(&o.LifecycleLog, "lifecycle-log", "", "Append lifecycle events as JSON lines to this file")

	c.fs = fs
	return fs
}

func (c *Command) changed(name string) bool {
	return c.fs != nil && c.fs.Changed(name)
}

// reexeced reports whether this process was started by another gearbox
// process: a daemon stage, a monitor or a reloader.
func (c *Command) reexeced() bool {
	return c.getenv(lifecycle.DaemonStageEnv) != "" ||
		c.getenv(lifecycle.MonitorEnv) != "" ||
		c.getenv(lifecycle.ReloaderEnv) != ""
}

func (c *Command) out(format string, args ...any) {
	fmt.Fprintf(c.app.Stdout, format+"\n", args...)
}

func (c *Command) verbose(level int) bool {
	return c.app.Options.Verbosity >= level
}

// TakeAction implements command.Command.
func (c *Command) TakeAction(ctx context.Context, args []string) (int, error) {
	o := &c.opts
	logger := gearboxlog.WithCommand(c.app.Logger, "serve")
	journal := c.journal()

	if o.StopDaemon {
		return c.stop(c.pidFile(DefaultPIDFile), journal), nil
	}

	if err := switchUser(o.User, o.Group); err != nil {
		return 0, err
	}

	action, rest := splitAction(args)
	vars, err := parseVars(rest)
	if err != nil {
		return 0, err
	}

	if o.Reload && o.MonitorRestart {
		return 0, shared.NewUsageError("--reload and --monitor-restart cannot be used together", nil)
	}
	if c.changed("server") && c.changed("server-name") {
		return 0, shared.NewUsageError("--server and --server-name cannot be used together", nil)
	}
	if o.ReloadInterval <= 0 {
		return 0, shared.NewUsageError(fmt.Sprintf("--reload-interval must be positive, got %d", o.ReloadInterval), nil)
	}

	if action == ActionStatus || o.Status {
		return c.status(c.pidFile(DefaultPIDFile)), nil
	}

	if (action == ActionStop || action == ActionRestart) && !c.reexeced() {
		code := c.stop(c.pidFile(DefaultPIDFile), journal)
		if action == ActionStop {
			return code, nil
		}
		if code != shared.ExitSuccess && code != stopNotRunning {
			c.out("Could not stop daemon; aborting")
			return code, nil
		}
	}
	if action == ActionStart || action == ActionRestart {
		o.Daemon = true
	}

	var pf *lifecycle.PIDFileManager
	if o.Daemon || o.PIDFile != "" {
		pf = c.pidFile(DefaultPIDFile)
		if err := ensureWritable(pf.Path()); err != nil {
			return 0, shared.NewStartupError("", err)
		}
	}

	// Workers of a supervisor inherit --daemon; only the supervisor detaches.
	supervised := c.getenv(lifecycle.MonitorEnv) != "" || c.getenv(lifecycle.ReloaderEnv) != ""

	if o.Daemon && !supervised {
		d := lifecycle.NewDaemonizer(pf, logger)
		d.Getenv = c.getenv
		if c.spawn != nil {
			d.Spawn = c.spawn
		}
		exitNow, err := d.Daemonize()
		if err != nil {
			var conflict *gearboxerrors.DaemonConflictError
			if errors.As(err, &conflict) {
				journal.RecordError(lifecycle.EventAlreadyRunning, err)
				return 0, &shared.ExitError{Code: shared.ExitUsage, Cause: err}
			}
			return 0, shared.NewStartupError("", err)
		}
		if exitNow {
			return shared.ExitSuccess, nil
		}
		journal.Record(lifecycle.EventDaemonize, "")
	}

	ref := loader.Reference{
		ConfigFile: o.Config,
		AppName:    o.AppName,
		ServerType: o.ServerType,
		Vars:       vars,
	}
	if c.changed("server-name") {
		ref.ServerName = o.ServerName
	}
	if wd, err := os.Getwd(); err == nil {
		ref.BaseDir = wd
	}

	if o.MonitorRestart && c.getenv(lifecycle.MonitorEnv) == "" {
		return c.supervise(ctx, pf, journal, lifecycle.MonitorEnv, lifecycle.RestartAlways)
	}
	if o.Reload && c.getenv(lifecycle.ReloaderEnv) == "" {
		return c.supervise(ctx, pf, journal, lifecycle.ReloaderEnv, lifecycle.RestartOnReload)
	}

	// A supervisor owns the pid file of its workers.
	if pf != nil && !supervised {
		if c.verbose(2) {
			c.out("Writing PID %d to %s", os.Getpid(), pf.Path())
		}
		if err := pf.WriteSelf(); err != nil {
			return 0, shared.NewStartupError("", err)
		}
		defer func() {
			if pf.Remove() && c.verbose(1) {
				c.out("Removing PID file %s", pf.Path())
			}
		}()
	}

	return c.serve(ctx, ref, journal, logger)
}

// serve loads the worker and runs it until it exits or ctx is done.
func (c *Command) serve(ctx context.Context, ref loader.Reference, journal *lifecycle.Journal, logger *slog.Logger) (int, error) {
	worker, err := c.loader.Load(ref)
	if err != nil {
		logger.Error("failed to load application or server", gearboxlog.Error(err))
		return 0, err
	}

	serveCtx := ctx
	if c.opts.Reload && c.getenv(lifecycle.ReloaderEnv) != "" {
		if c.verbose(2) {
			c.out("Running reloading file monitor")
		}
		monitor, err := c.monitor(worker)
		if err != nil {
			return 0, shared.NewStartupError("failed to watch files", err)
		}
		monitor.Start(ctx)
		defer monitor.Stop()

		var cancel context.CancelFunc
		serveCtx, cancel = monitor.CancelOnChange(ctx)
		defer cancel()
	}

	if c.verbose(1) {
		c.out("Starting server in PID %d.", os.Getpid())
	}
	journal.Record(lifecycle.EventStart, worker.Describe())
	logger.Info("serving", slog.String("worker", worker.Describe()), slog.Int(gearboxlog.PIDKey, os.Getpid()))

	err = worker.Serve(serveCtx)

	if cause := context.Cause(serveCtx); errors.Is(cause, reload.ErrFilesChanged) {
		logger.Info("reloading", slog.String("reason", cause.Error()))
		return 0, shared.NewReloadExit(cause)
	}
	if err != nil {
		return 0, shared.NewCommandError("", err)
	}
	if ctx.Err() != nil {
		msg := ""
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			msg = " " + cause.Error()
		}
		c.out("Exiting%s", msg)
	}
	return shared.ExitSuccess, nil
}

// pidFile returns the manager for --pid-file, or def when unset.
func (c *Command) pidFile(def string) *lifecycle.PIDFileManager {
	path := c.opts.PIDFile
	if path == "" {
		path = def
	}
	return lifecycle.NewPIDFileManager(path,
		lifecycle.WithProbe(c.alive),
		lifecycle.WithPIDLogger(gearboxlog.WithComponent(c.app.Logger, "pidfile")))
}

func (c *Command) journal() *lifecycle.Journal {
	if c.opts.LifecycleLog == "" {
		return nil
	}
	logger := gearboxlog.WithComponent(c.app.Logger, "journal")
	j := lifecycle.NewJournal(c.opts.LifecycleLog, logger)
	logger.Debug("recording lifecycle events",
		slog.String("path", c.opts.LifecycleLog),
		slog.String("invocation", j.Invocation()))
	return j
}

// splitAction separates a leading start|stop|restart|status.
func splitAction(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	switch args[0] {
	case ActionStart, ActionStop, ActionRestart, ActionStatus:
		return args[0], args[1:]
	}
	return "", args
}

// parseVars turns ["a=b", "c=d"] into a map.
func parseVars(args []string) (map[string]string, error) {
	vars := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, shared.NewUsageError(fmt.Sprintf("variable assignment %q invalid (no \"=\")", arg), nil)
		}
		vars[name] = value
	}
	return vars, nil
}

// ensureWritable opens path for appending so an unusable location fails
// before anything detaches or starts.
func ensureWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return &gearboxerrors.PIDFileError{Path: path, Op: "open", Cause: err}
	}
	return f.Close()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

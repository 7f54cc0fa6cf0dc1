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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tombee/gearbox/internal/command"
	"github.com/tombee/gearbox/internal/commands/help"
	"github.com/tombee/gearbox/internal/commands/serve"
	"github.com/tombee/gearbox/internal/commands/setupapp"
	"github.com/tombee/gearbox/internal/commands/shared"
	versioncmd "github.com/tombee/gearbox/internal/commands/version"
	gearboxlog "github.com/tombee/gearbox/internal/log"
	"github.com/tombee/gearbox/internal/plugin"
)

// AppName is the program name used in usage lines.
const AppName = "gearbox"

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// Builtins returns the commands every invocation has, by name.
func Builtins() map[string]command.Factory {
	return map[string]command.Factory{
		"help":      help.Factory(),
		"serve":     serve.Factory(),
		"setup app": setupapp.Factory(),
		"version":   versioncmd.Factory(),
	}
}

// Root is the top-level command. Cobra parses the global flags and
// everything from the first command word onward is handed to the
// dispatcher.
type Root struct {
	cmd      *cobra.Command
	registry *command.Registry
	stdout   io.Writer
	stderr   io.Writer

	verbose  int
	quiet    bool
	logFile  string
	debug    bool
	relative bool

	code int
}

// NewRoot creates the root command with the built-in commands registered.
func NewRoot(stdout, stderr io.Writer) *Root {
	r := &Root{
		registry: command.NewRegistry(),
		stdout:   stdout,
		stderr:   stderr,
	}
	for name, factory := range Builtins() {
		r.registry.Register(name, factory)
	}

	cmd := &cobra.Command{
		Use:   AppName + " <command> [args]",
		Short: "Gearbox - application server supervisor and command dispatcher",
		Long: `Gearbox runs web applications from a config file, in the foreground, as a
daemon, under a restarting monitor or with automatic reload on change.

Run 'gearbox help' to list the available commands.
Run 'gearbox help <command>' for the flags of a single command.`,
		Version:       shared.VersionString(),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		RunE:          r.run,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate(AppName + " {{.Version}}\n")

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.CountVarP(&r.verbose, "verbose", "v", "Increase verbosity of output (repeatable)")
	flags.BoolVarP(&r.quiet, "quiet", "q", false, "Suppress output except warnings and errors")
	flags.StringVar(&r.logFile, "log-file", "", "Specify a file to log output")
	flags.BoolVar(&r.debug, "debug", false, "Show tracebacks on errors")
	flags.BoolVar(&r.relative, "relative", false, "Also resolve plugin commands relative to the current directory")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return shared.NewUsageError("", err)
	})
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		app, done := r.newApp()
		defer done()
		help.PrintGlobal(c.OutOrStdout(), app)
	})

	r.cmd = cmd
	return r
}

// Command returns the underlying cobra command.
func (r *Root) Command() *cobra.Command {
	return r.cmd
}

// Options returns the parsed global flags.
func (r *Root) Options() command.Options {
	verbosity := 1 + r.verbose
	if r.quiet {
		verbosity = 0
	}
	return command.Options{
		Verbosity: verbosity,
		LogFile:   r.logFile,
		Debug:     r.debug,
		Relative:  r.relative,
	}
}

// Execute runs the command line and returns the process exit status.
func (r *Root) Execute(ctx context.Context, args []string) int {
	r.cmd.SetArgs(args)
	if err := r.cmd.ExecuteContext(ctx); err != nil {
		return shared.ReportExitError(r.stderr, err)
	}
	return r.code
}

func (r *Root) run(cmd *cobra.Command, args []string) error {
	if _, err := os.Getwd(); err != nil {
		return shared.NewStartupError("cannot determine working directory", err)
	}

	app, done := r.newApp()
	defer done()

	r.code = command.NewDispatcher(app).Run(cmd.Context(), args)
	return nil
}

// newApp builds the logger and App for this invocation and discovers
// project plugins. done closes the log file.
func (r *Root) newApp() (*command.App, func()) {
	opts := r.Options()

	cfg := gearboxlog.FromEnv(&gearboxlog.Config{
		Verbosity: opts.Verbosity,
		Debug:     opts.Debug,
		Format:    gearboxlog.FormatText,
		Output:    r.stderr,
	})
	opts.Debug = cfg.Debug

	var logWriter *lumberjack.Logger
	if opts.LogFile != "" {
		logWriter = gearboxlog.NewFile(opts.LogFile)
		cfg.File = logWriter
	}
	logger := gearboxlog.New(cfg)

	app := command.NewApp(AppName, r.registry, logger)
	app.Options = opts
	app.Stdout = r.stdout
	app.Stderr = r.stderr
	app.Usage = r.usage
	if logWriter != nil {
		app.LogWriter = logWriter
	}

	if wd, err := os.Getwd(); err == nil {
		plugin.Discover(r.registry, wd, logger)
	}

	return app, func() {
		if logWriter != nil {
			_ = logWriter.Close()
		}
	}
}

func (r *Root) usage(w io.Writer) {
	fmt.Fprintf(w, "Usage:\n  %s\n\n%s\n\nFlags:\n%s", r.cmd.UseLine(), r.cmd.Long, r.cmd.Flags().FlagUsages())
}

// Execute runs gearbox with args on the process streams.
func Execute(ctx context.Context, args []string) int {
	return NewRoot(os.Stdout, os.Stderr).Execute(ctx, args)
}

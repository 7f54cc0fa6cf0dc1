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

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/tombee/gearbox/internal/commands/shared"
	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// DefaultCommand runs when no command words are given.
const DefaultCommand = "help"

// Dispatcher resolves an argument vector against the App's registry and
// runs the matching command.
type Dispatcher struct {
	app *App
}

// NewDispatcher creates a dispatcher for app.
func NewDispatcher(app *App) *Dispatcher {
	return &Dispatcher{app: app}
}

// Run dispatches argv and returns the process exit status:
// 2 for resolution and argument errors, 4 for a command that failed
// without carrying its own code, otherwise the command's status.
func (d *Dispatcher) Run(ctx context.Context, argv []string) int {
	app := d.app
	logger := app.Logger

	if len(argv) == 0 {
		if _, ok := app.Registry.Lookup(DefaultCommand); ok {
			argv = []string{DefaultCommand}
		}
	}

	factory, name, rest, err := app.Registry.Resolve(argv)
	if err != nil {
		shared.ReportExitError(app.Stderr, err)
		if app.Options.Debug {
			logger.Debug("command resolution failed", slog.Any("argv", argv))
		}
		return shared.ExitUsage
	}

	logger = logger.With(slog.String("command", name))
	logger.Debug("resolved command", slog.Any("args", rest))

	cmd, err := factory.Load(app)
	if err != nil {
		return d.fail(logger, fmt.Errorf("could not load command %q: %w", name, err))
	}

	if pt, ok := cmd.(Passthrough); ok && pt.Passthrough() {
		code, err := cmd.TakeAction(ctx, rest)
		if err != nil {
			return d.fail(logger, err)
		}
		return code
	}

	prog := app.Prog(name)
	fs := cmd.BuildParser(prog)
	if fs == nil {
		fs = pflag.NewFlagSet(prog, pflag.ContinueOnError)
	}
	fs.SetOutput(app.Stderr)
	fs.Usage = func() {}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			PrintUsage(app.Stdout, prog, cmd, fs)
			return shared.ExitSuccess
		}
		fmt.Fprintf(app.Stderr, "%s: error: %v\n", prog, err)
		PrintUsage(app.Stderr, prog, cmd, fs)
		return shared.ExitUsage
	}

	code, err := cmd.TakeAction(ctx, fs.Args())
	if err != nil {
		return d.fail(logger, err)
	}
	return code
}

// fail reports err on one line, with the unwrapped chain logged when
// debugging, and picks the exit status.
func (d *Dispatcher) fail(logger *slog.Logger, err error) int {
	if d.app.Options.Debug {
		logger.Error("command failed", slog.Any("chain", gearboxerrors.Chain(err)))
	}
	return shared.ReportExitError(d.app.Stderr, err)
}

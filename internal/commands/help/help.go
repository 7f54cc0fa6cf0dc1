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

package help

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tombee/gearbox/internal/command"
	"github.com/tombee/gearbox/internal/commands/shared"
)

// Factory registers the help command.
func Factory() command.Factory {
	return command.FactoryFunc(func(app *command.App) (command.Command, error) {
		return &Command{app: app}, nil
	})
}

// Command prints global or per-command help.
type Command struct {
	app *command.App
}

// Describe implements command.Command.
func (c *Command) Describe() string {
	return "Print detailed help for another command"
}

// BuildParser implements command.Command.
func (c *Command) BuildParser(prog string) *pflag.FlagSet {
	return pflag.NewFlagSet(prog, pflag.ContinueOnError)
}

// TakeAction implements command.Command.
func (c *Command) TakeAction(_ context.Context, args []string) (int, error) {
	app := c.app
	if len(args) == 0 {
		PrintGlobal(app.Stdout, app)
		return shared.ExitSuccess, nil
	}

	factory, name, _, err := app.Registry.Resolve(args)
	if err != nil {
		matches := app.Registry.Suggest(args[0])
		if len(matches) == 0 {
			return 0, shared.NewUsageError("", err)
		}
		fmt.Fprintf(app.Stdout, "Command %q matches:\n", args[0])
		for _, m := range matches {
			fmt.Fprintf(app.Stdout, "  %s\n", m)
		}
		return shared.ExitSuccess, nil
	}

	cmd, err := factory.Load(app)
	if err != nil {
		return 0, fmt.Errorf("could not load command %q: %w", name, err)
	}
	prog := app.Prog(name)
	command.PrintUsage(app.Stdout, prog, cmd, cmd.BuildParser(prog))
	return shared.ExitSuccess, nil
}

// PrintGlobal writes the global usage followed by every registered
// command and its one-line description.
func PrintGlobal(w io.Writer, app *command.App) {
	if app.Usage != nil {
		app.Usage(w)
	}
	PrintCommands(w, app)
}

// PrintCommands lists the registry in name order. Each factory is
// loaded; one that fails is reported and skipped.
func PrintCommands(w io.Writer, app *command.App) {
	fmt.Fprintln(w, "\n"+shared.NewPainter(w).Header("Commands:"))
	for _, name := range app.Registry.Names() {
		factory, ok := app.Registry.Lookup(name)
		if !ok {
			continue
		}
		cmd, err := factory.Load(app)
		if err != nil {
			fmt.Fprintf(w, "Could not load %q\n", name)
			if app.Options.Debug {
				app.Logger.Debug("command failed to load", slog.String("command", name), slog.Any("error", err))
			}
			continue
		}
		summary, _, _ := strings.Cut(cmd.Describe(), "\n")
		fmt.Fprintf(w, "  %-13s  %s\n", name, summary)
	}
}

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

// Package command resolves multi-word command names and dispatches to
// lazily loaded command implementations.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
)

// Command is a single executable sub-command.
type Command interface {
	// Describe returns the one-line summary shown in listings.
	Describe() string
	// BuildParser returns a flag set bound to the command's options.
	// prog is the full invocation prefix, e.g. "gearbox setup app".
	BuildParser(prog string) *pflag.FlagSet
	// TakeAction runs the command with the positional arguments that
	// remain after flag parsing and returns its exit status.
	TakeAction(ctx context.Context, args []string) (int, error)
}

// Passthrough is implemented by commands that receive their arguments
// unparsed, such as external plugin executables.
type Passthrough interface {
	Passthrough() bool
}

// Factory defers construction of a Command until it is dispatched, so a
// broken plugin cannot break the listing of the others.
type Factory interface {
	Load(app *App) (Command, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(app *App) (Command, error)

// Load calls f(app).
func (f FactoryFunc) Load(app *App) (Command, error) {
	return f(app)
}

// Options holds the global flag values.
type Options struct {
	// Verbosity is 1 by default, 0 with --quiet, and 1+N with -v repeated N times.
	Verbosity int
	LogFile   string
	Debug     bool
	// Relative adds the working directory to plugin resolution.
	Relative bool
}

// App is the state shared by every command in one invocation.
type App struct {
	Name     string
	Options  Options
	Registry *Registry
	Logger   *slog.Logger

	Stdout io.Writer
	Stderr io.Writer

	// LogWriter is the --log-file sink, or nil. Supervised workers send
	// their output here.
	LogWriter io.Writer

	// Usage prints the global usage and flags, without the command list.
	Usage func(w io.Writer)
}

// NewApp returns an App writing to the process streams.
func NewApp(name string, registry *Registry, logger *slog.Logger) *App {
	return &App{
		Name:     name,
		Options:  Options{Verbosity: 1},
		Registry: registry,
		Logger:   logger,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

// Prog returns the invocation prefix for a command name.
func (a *App) Prog(name string) string {
	if name == "" {
		return a.Name
	}
	return a.Name + " " + name
}

// PrintUsage writes the usage block for cmd.
func PrintUsage(w io.Writer, prog string, cmd Command, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "usage: %s [flags] [args]\n", prog)
	if desc := cmd.Describe(); desc != "" {
		fmt.Fprintf(w, "\n%s\n", desc)
	}
	if fs != nil && fs.HasFlags() {
		fmt.Fprintf(w, "\nFlags:\n%s", fs.FlagUsages())
	}
}

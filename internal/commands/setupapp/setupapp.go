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

// Package setupapp implements "setup app", which runs the setup command
// of an application section.
package setupapp

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/tombee/gearbox/internal/command"
	"github.com/tombee/gearbox/internal/commands/shared"
	"github.com/tombee/gearbox/internal/loader"
	gearboxlog "github.com/tombee/gearbox/internal/log"
)

// DefaultConfig is used when no config file is given.
const DefaultConfig = "development.ini"

// Factory registers setup app.
func Factory() command.Factory {
	return command.FactoryFunc(func(app *command.App) (command.Command, error) {
		return New(app), nil
	})
}

// Command is the setup app command.
type Command struct {
	app    *command.App
	loader *loader.Loader
	name   string
}

// New creates the command for app.
func New(app *command.App) *Command {
	l := loader.New(gearboxlog.WithComponent(app.Logger, "loader"))
	l.Stdout = app.Stdout
	l.Stderr = app.Stderr
	return &Command{app: app, loader: l}
}

// Describe implements command.Command.
func (c *Command) Describe() string {
	return "Setup an application, given a config file"
}

// BuildParser implements command.Command.
func (c *Command) BuildParser(prog string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.StringVar(&c.name, "name", "", "The name of the section to set up (default: main)")
	return fs
}

// TakeAction implements command.Command.
func (c *Command) TakeAction(ctx context.Context, args []string) (int, error) {
	spec := DefaultConfig
	if len(args) > 0 {
		spec = args[0]
	}

	file, section := loader.ParseConfigSpec(spec)
	if c.name != "" {
		section = c.name
	}
	if section == "" {
		section = loader.DefaultSection
	}

	ref := loader.Reference{ConfigFile: file, AppName: section}
	if wd, err := os.Getwd(); err == nil {
		ref.BaseDir = wd
	}

	if c.app.Options.Verbosity > 0 {
		fmt.Fprintf(c.app.Stdout, "Setting up %s\n", ref)
	}
	ran, err := c.loader.Setup(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !ran {
		fmt.Fprintf(c.app.Stdout, "No setup command in [app.%s] of %s\n", section, file)
	}
	return shared.ExitSuccess, nil
}

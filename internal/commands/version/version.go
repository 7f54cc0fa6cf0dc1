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

package version

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tombee/gearbox/internal/command"
	"github.com/tombee/gearbox/internal/commands/shared"
)

// VersionInfo contains version metadata
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Factory registers the version command.
func Factory() command.Factory {
	return command.FactoryFunc(func(app *command.App) (command.Command, error) {
		return &Command{app: app}, nil
	})
}

// Command prints build information.
type Command struct {
	app  *command.App
	json bool
}

// Describe implements command.Command.
func (c *Command) Describe() string {
	return "Show version information"
}

// BuildParser implements command.Command.
func (c *Command) BuildParser(prog string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.BoolVar(&c.json, "json", false, "Output in JSON format")
	return fs
}

// TakeAction implements command.Command.
func (c *Command) TakeAction(_ context.Context, _ []string) (int, error) {
	v, cm, b := shared.GetVersion()

	info := VersionInfo{
		Version:   v,
		Commit:    cm,
		BuildDate: b,
	}

	out := c.app.Stdout
	if c.json {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("failed to marshal version info: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return shared.ExitSuccess, nil
	}

	fmt.Fprintf(out, "%s version %s\n", c.app.Name, info.Version)
	fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
	fmt.Fprintf(out, "  build date: %s\n", info.BuildDate)
	return shared.ExitSuccess, nil
}

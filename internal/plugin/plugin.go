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

// Package plugin discovers project-local commands declared in a
// gearbox.yaml manifest and registers them as lazily loaded factories.
//
//	commands:
//	  - name: db_migrate
//	    description: Apply pending migrations
//	    exec: scripts/migrate.sh
package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tombee/gearbox/internal/command"
	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// ManifestName is the project manifest searched for by Discover.
const ManifestName = "gearbox.yaml"

// Manifest is a parsed gearbox.yaml.
type Manifest struct {
	Commands []Entry `yaml:"commands"`

	path string
}

// Path returns the file the manifest was read from.
func (m *Manifest) Path() string {
	return m.path
}

// Dir returns the project root the manifest lives in.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.path)
}

// Entry declares one external command.
type Entry struct {
	// Name uses underscores for spaces: "setup_db" registers "setup db".
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Exec        string   `yaml:"exec"`
	Args        []string `yaml:"args"`
}

// CommandName returns the registry name for the entry.
func (e Entry) CommandName() string {
	return command.Normalize(strings.ReplaceAll(e.Name, "_", " "))
}

// Find walks up from dir and returns the first manifest path found.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ReadManifest parses the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manifest{path: path}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, &gearboxerrors.ConfigError{Key: path, Reason: "invalid manifest: " + err.Error(), Cause: err}
	}
	for i, e := range m.Commands {
		if strings.TrimSpace(e.Name) == "" {
			return nil, &gearboxerrors.ConfigError{Key: fmt.Sprintf("commands[%d].name", i), Reason: "must not be empty"}
		}
		if e.Exec == "" {
			return nil, &gearboxerrors.ConfigError{Key: fmt.Sprintf("commands[%d].exec", i), Reason: "must not be empty"}
		}
	}
	return m, nil
}

// Discover finds the nearest manifest above dir and registers its
// commands. A missing manifest registers nothing. A malformed one is
// logged as a warning so built-in commands stay usable.
func Discover(reg *command.Registry, dir string, logger *slog.Logger) *Manifest {
	path, ok := Find(dir)
	if !ok {
		return nil
	}
	m, err := ReadManifest(path)
	if err != nil {
		logger.Warn("ignoring project manifest", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	Register(reg, m)
	logger.Debug("loaded project commands", slog.String("path", path), slog.Int("count", len(m.Commands)))
	return m
}

// Register adds one factory per manifest entry.
func Register(reg *command.Registry, m *Manifest) {
	for _, e := range m.Commands {
		reg.Register(e.CommandName(), &Factory{Entry: e, Root: m.Dir()})
	}
}

// Factory resolves a plugin executable when the command is dispatched.
type Factory struct {
	Entry Entry
	// Root is the manifest directory relative exec paths are resolved
	// against.
	Root string
}

// Load implements command.Factory.
func (f *Factory) Load(app *command.App) (command.Command, error) {
	path, err := f.resolve(app.Options.Relative)
	if err != nil {
		return nil, err
	}
	return &Command{
		entry:  f.Entry,
		path:   path,
		stdout: app.Stdout,
		stderr: app.Stderr,
	}, nil
}

func (f *Factory) resolve(relative bool) (string, error) {
	name := f.Entry.Exec

	if strings.ContainsRune(name, filepath.Separator) {
		if filepath.IsAbs(name) {
			return executable(name)
		}
		candidates := []string{filepath.Join(f.Root, name)}
		if relative {
			if wd, err := os.Getwd(); err == nil {
				candidates = append(candidates, filepath.Join(wd, name))
			}
		}
		var lastErr error
		for _, c := range candidates {
			path, err := executable(c)
			if err == nil {
				return path, nil
			}
			lastErr = err
		}
		return "", lastErr
	}

	path, err := exec.LookPath(name)
	if err == nil {
		return path, nil
	}
	if relative {
		if wd, werr := os.Getwd(); werr == nil {
			if local, lerr := executable(filepath.Join(wd, name)); lerr == nil {
				return local, nil
			}
		}
	}
	return "", fmt.Errorf("plugin executable %q not found: %w", name, err)
}

func executable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("plugin executable %s does not exist", path)
		}
		return "", err
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return "", fmt.Errorf("plugin executable %s is not executable", path)
	}
	return path, nil
}

// Command runs an external executable with the remaining arguments.
type Command struct {
	entry  Entry
	path   string
	stdout io.Writer
	stderr io.Writer
}

// Path returns the resolved executable.
func (c *Command) Path() string {
	return c.path
}

// Describe implements command.Command.
func (c *Command) Describe() string {
	if c.entry.Description != "" {
		return c.entry.Description
	}
	return "Run " + c.entry.Exec
}

// BuildParser implements command.Command. Plugins parse their own flags.
func (c *Command) BuildParser(prog string) *pflag.FlagSet {
	return pflag.NewFlagSet(prog, pflag.ContinueOnError)
}

// Passthrough implements command.Passthrough.
func (c *Command) Passthrough() bool { return true }

// TakeAction runs the executable and returns its exit status.
func (c *Command) TakeAction(ctx context.Context, args []string) (int, error) {
	argv := append(append([]string{}, c.entry.Args...), args...)
	cmd := exec.CommandContext(ctx, c.path, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		return 1, gearboxerrors.Wrap(err, c.entry.Exec)
	}
	if err != nil {
		return 0, gearboxerrors.Wrapf(err, "failed to run %s", c.path)
	}
	return 0, nil
}

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

// Package loader turns a configuration reference into a runnable worker.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	gearboxlog "github.com/tombee/gearbox/internal/log"
	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// DefaultRunner is used when a server section has no "use" key.
const DefaultRunner = "exec"

// Reference identifies what to load.
type Reference struct {
	// ConfigFile may carry a "#section" suffix selecting the app.
	ConfigFile string
	AppName    string
	// ServerName selects the [server.<name>] section.
	ServerName string
	// ServerType names a runner directly, bypassing the server section.
	ServerType string
	Vars       map[string]string
	// BaseDir resolves a relative ConfigFile. Default: working directory.
	BaseDir string
}

// ParseConfigSpec splits "file#section".
func ParseConfigSpec(spec string) (file, section string) {
	file, section, _ = strings.Cut(spec, "#")
	return file, section
}

// File returns the config path without any section suffix.
func (r Reference) File() string {
	file, _ := ParseConfigSpec(r.ConfigFile)
	if r.BaseDir != "" && file != "" && !filepath.IsAbs(file) {
		return filepath.Join(r.BaseDir, file)
	}
	return file
}

// App returns the selected app section: the "#section" suffix wins over
// AppName, which defaults to "main".
func (r Reference) App() string {
	if _, section := ParseConfigSpec(r.ConfigFile); section != "" {
		return section
	}
	if r.AppName != "" {
		return r.AppName
	}
	return DefaultSection
}

// Server returns the selected server section.
func (r Reference) Server() string {
	if r.ServerName != "" {
		return r.ServerName
	}
	return DefaultSection
}

func (r Reference) String() string {
	file, _ := ParseConfigSpec(r.ConfigFile)
	return file + "#" + r.App()
}

// Worker is a loaded application with its server settings.
type Worker interface {
	// Serve runs until the application exits or ctx is cancelled. A
	// cancelled context is a clean shutdown and returns nil.
	Serve(ctx context.Context) error
	// WatchFiles lists the files a reloader should observe.
	WatchFiles() []string
	// Describe returns a short human-readable summary.
	Describe() string
}

// Spec is everything a runner needs to build a worker.
type Spec struct {
	Name     string
	Server   ServerConfig
	App      AppConfig
	Vars     map[string]string
	Document *Document
	Stdout   io.Writer
	Stderr   io.Writer
	Logger   *slog.Logger
}

// RunnerFactory builds a worker for a server type.
type RunnerFactory func(spec Spec) (Worker, error)

// Loader reads configuration documents and builds workers.
type Loader struct {
	mu      sync.RWMutex
	runners map[string]RunnerFactory

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// New returns a Loader with the exec runner registered.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = gearboxlog.Discard()
	}
	l := &Loader{
		runners: make(map[string]RunnerFactory),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Logger:  logger,
	}
	l.Register(DefaultRunner, NewExecWorker)
	return l
}

// Register adds or replaces a runner.
func (l *Loader) Register(name string, factory RunnerFactory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runners[name] = factory
}

// Runners returns the registered runner names, sorted.
func (l *Loader) Runners() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.runners))
	for name := range l.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load builds the worker for ref. Every failure is a *errors.LoadError.
func (l *Loader) Load(ref Reference) (Worker, error) {
	spec, runner, err := l.resolve(ref)
	if err != nil {
		return nil, &gearboxerrors.LoadError{Reference: ref.String(), Cause: err}
	}

	w, err := runner(spec)
	if err != nil {
		return nil, &gearboxerrors.LoadError{Reference: ref.String(), Cause: err}
	}
	return w, nil
}

// Setup runs the app's setup command. It reports false when the app
// defines none.
func (l *Loader) Setup(ctx context.Context, ref Reference) (bool, error) {
	spec, _, err := l.resolve(ref)
	if err != nil {
		return false, &gearboxerrors.LoadError{Reference: ref.String(), Cause: err}
	}
	if len(spec.App.Setup) == 0 {
		return false, nil
	}
	return true, runSetup(ctx, spec)
}

func (l *Loader) resolve(ref Reference) (Spec, RunnerFactory, error) {
	file := ref.File()
	if file == "" {
		return Spec{}, nil, errors.New("no config file given")
	}
	doc, err := ReadDocument(file)
	if err != nil {
		return Spec{}, nil, err
	}

	appName := ref.App()
	app, ok := doc.App[appName]
	if !ok {
		return Spec{}, nil, &gearboxerrors.ConfigError{
			Key:    "app." + appName,
			Reason: "no such section in " + file,
		}
	}

	var server ServerConfig
	runnerName := ref.ServerType
	if runnerName == "" {
		serverName := ref.Server()
		s, ok := doc.Server[serverName]
		if !ok && ref.ServerName != "" {
			return Spec{}, nil, &gearboxerrors.ConfigError{
				Key:    "server." + serverName,
				Reason: "no such section in " + file,
			}
		}
		server = s
		runnerName = s.Use
	}
	if runnerName == "" {
		runnerName = DefaultRunner
	}

	l.mu.RLock()
	runner, ok := l.runners[runnerName]
	l.mu.RUnlock()
	if !ok {
		return Spec{}, nil, fmt.Errorf("unknown server type %q (available: %s)", runnerName, strings.Join(l.Runners(), ", "))
	}

	// Vars override host and port so "port=9000" on the command line wins.
	if v, ok := ref.Vars["host"]; ok {
		server.Host = v
	}
	if v, ok := ref.Vars["port"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Spec{}, nil, &gearboxerrors.ConfigError{Key: "port", Reason: fmt.Sprintf("invalid port %q", v)}
		}
		server.Port = port
	}

	if app.Dir == "" {
		app.Dir = filepath.Dir(doc.Path())
	} else if !filepath.IsAbs(app.Dir) {
		app.Dir = filepath.Join(filepath.Dir(doc.Path()), app.Dir)
	}

	return Spec{
		Name:     appName,
		Server:   server,
		App:      app,
		Vars:     ref.Vars,
		Document: doc,
		Stdout:   l.Stdout,
		Stderr:   l.Stderr,
		Logger:   l.Logger,
	}, runner, nil
}

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

// Package reload watches source and configuration files and reports when
// a reloading worker should exit so its supervisor can relaunch it.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/time/rate"
)

// ErrFilesChanged is the cancellation cause used when a watched file changes.
var ErrFilesChanged = errors.New("watched files changed")

// maxDepth bounds the directory walk under a glob's static prefix.
const maxDepth = 10

// Config describes what a Monitor watches.
type Config struct {
	// Paths are files or directories. A missing file is watched for
	// creation through its parent directory.
	Paths []string

	// Patterns are doublestar globs. Relative patterns are resolved
	// against BaseDir.
	Patterns []string
	BaseDir  string

	// Exclude is added to DefaultExcludePatterns.
	Exclude []string

	// Interval is the quiet period before a burst of changes is
	// reported. It also bounds how often reports are made.
	// Default: 1s
	Interval time.Duration

	Logger *slog.Logger
}

// Monitor reports debounced batches of changed paths.
type Monitor struct {
	cfg       Config
	logger    *slog.Logger
	watcher   *Watcher
	matcher   *PatternMatcher
	debouncer *Debouncer
	limiter   *rate.Limiter

	files     map[string]bool
	dirs      map[string]bool
	recursive []string

	changed  chan []string
	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor resolves the configured paths and patterns and registers
// the directories to watch. It does not start delivering events.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.BaseDir = wd
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "reloader"))

	var include []string
	for _, p := range cfg.Patterns {
		abs, err := expandPath(p, cfg.BaseDir)
		if err != nil {
			return nil, err
		}
		include = append(include, abs)
	}
	matcher, err := NewPatternMatcher(include, append(DefaultExcludePatterns(), cfg.Exclude...))
	if err != nil {
		return nil, err
	}

	w, err := NewWatcher(logger)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:     cfg,
		logger:  logger,
		watcher: w,
		matcher: matcher,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		changed: make(chan []string, 1),
		done:    make(chan struct{}),
	}

	for _, p := range cfg.Paths {
		if err := m.addPath(p); err != nil {
			w.Stop()
			return nil, err
		}
	}
	for _, pattern := range include {
		if err := m.addPattern(pattern); err != nil {
			w.Stop()
			return nil, err
		}
	}

	return m, nil
}

func (m *Monitor) addPath(p string) error {
	abs, err := expandPath(p, m.cfg.BaseDir)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		m.dirs[abs] = true
		return m.watcher.AddDir(abs)
	case err == nil || os.IsNotExist(err):
		// Watch the parent so replacements by rename are seen.
		m.files[abs] = true
		parent := filepath.Dir(abs)
		if _, statErr := os.Stat(parent); statErr != nil {
			m.logger.Warn("not watching path, parent directory is missing", "path", abs)
			return nil
		}
		return m.watcher.AddDir(parent)
	default:
		return fmt.Errorf("cannot watch %s: %w", abs, err)
	}
}

func (m *Monitor) addPattern(pattern string) error {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	base = filepath.FromSlash(base)
	if _, err := os.Stat(base); err != nil {
		m.logger.Warn("not watching pattern, base directory is missing", "pattern", pattern)
		return nil
	}
	m.recursive = append(m.recursive, base)
	return m.walk(base)
}

// walk adds base and its subdirectories up to maxDepth, skipping
// excluded trees.
func (m *Monitor) walk(base string) error {
	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != base && m.matcher.Excluded(path+string(filepath.Separator)+"x") {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(base, path)
		if rel != "." && len(strings.Split(rel, string(filepath.Separator))) > maxDepth {
			return filepath.SkipDir
		}
		if err := m.watcher.AddDir(path); err != nil {
			m.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Watched returns the files and directories being observed, sorted.
func (m *Monitor) Watched() []string {
	var out []string
	for f := range m.files {
		out = append(out, f)
	}
	for d := range m.dirs {
		out = append(out, d)
	}
	out = append(out, m.recursive...)
	sort.Strings(out)
	return out
}

// Changed delivers one batch of paths per debounced change.
func (m *Monitor) Changed() <-chan []string {
	return m.changed
}

// Start delivers changes until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.debouncer = NewDebouncer(m.cfg.Interval, func(events []*Event) {
		m.report(ctx, events)
	})
	m.watcher.Start(ctx)

	go func() {
		defer cancel()
		for {
			select {
			case <-m.done:
				return
			case ev, ok := <-m.watcher.Events():
				if !ok {
					return
				}
				m.handle(ev)
			}
		}
	}()
	m.logger.Debug("watching for changes", "paths", m.Watched(), "dirs", m.watcher.Dirs())
}

func (m *Monitor) handle(ev *Event) {
	if m.matcher.Excluded(ev.Path) {
		return
	}

	if ev.IsDir && ev.Op == OpCreate && m.underRecursive(ev.Path) {
		if err := m.walk(ev.Path); err != nil {
			m.logger.Warn("failed to watch new directory", "path", ev.Path, "error", err)
		}
		return
	}

	if !m.relevant(ev.Path) {
		return
	}
	m.logger.Debug("file event", "op", ev.Op, "path", ev.Path)
	m.debouncer.Add(ev)
}

func (m *Monitor) relevant(path string) bool {
	if m.files[path] || m.dirs[filepath.Dir(path)] {
		return true
	}
	return m.matcher.Included(path)
}

func (m *Monitor) underRecursive(path string) bool {
	for _, base := range m.recursive {
		if path == base || strings.HasPrefix(path, base+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (m *Monitor) report(ctx context.Context, events []*Event) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	paths := make([]string, len(events))
	for i, ev := range events {
		paths[i] = ev.Path
	}
	m.logger.Info("files changed", "paths", paths)

	select {
	case m.changed <- paths:
	default:
		// A report is already pending; the receiver restarts anyway.
	}
}

// Stop stops watching. Pending changes are discarded.
func (m *Monitor) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.done)
		if m.debouncer != nil {
			if n := m.debouncer.Pending(); n > 0 {
				m.logger.Debug("discarding pending changes", "paths", n)
			}
			m.debouncer.Stop()
		}
		err = m.watcher.Stop()
	})
	return err
}

// CancelOnChange returns a context that is cancelled with ErrFilesChanged
// on the first reported change.
func (m *Monitor) CancelOnChange(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-ctx.Done():
		case paths := <-m.changed:
			cancel(fmt.Errorf("%w: %s", ErrFilesChanged, strings.Join(paths, ", ")))
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// expandPath expands a leading ~ and environment variables, makes the
// path absolute against base and resolves symlinks where possible.
func expandPath(p, base string) (string, error) {
	if p == "" {
		return "", errors.New("path cannot be empty")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	p = os.ExpandEnv(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)

	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved, nil
	}
	// Resolve the directory part so events (reported with real paths)
	// still match a file that does not exist yet.
	if dir, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		return filepath.Join(dir, filepath.Base(p)), nil
	}
	return p, nil
}

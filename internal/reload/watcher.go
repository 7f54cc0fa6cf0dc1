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

package reload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher wraps fsnotify.Watcher and converts its events to *Event.
// Directories are watched non-recursively; callers add subdirectories.
type Watcher struct {
	watcher   *fsnotify.Watcher
	eventChan chan *Event
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.Mutex
	dirs    map[string]bool
	started bool
}

// NewWatcher creates a watcher with no paths.
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		watcher:   fsw,
		eventChan: make(chan *Event, 100),
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		dirs:      make(map[string]bool),
	}, nil
}

// AddDir starts watching dir. Adding the same directory twice is a no-op.
func (w *Watcher) AddDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

// Dirs returns the number of watched directories.
func (w *Watcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Start begins delivering events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.eventLoop(ctx)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

// Events returns the event channel. It is closed when the loop ends.
func (w *Watcher) Events() <-chan *Event {
	return w.eventChan
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.eventChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// Chmod only.
		return
	}

	ev := &Event{Path: event.Name, Op: op, Time: time.Now()}
	if op == OpCreate || op == OpWrite {
		if info, err := os.Stat(event.Name); err == nil {
			ev.IsDir = info.IsDir()
		}
	}

	select {
	case w.eventChan <- ev:
	default:
		w.logger.Warn("event channel full, dropping event", "op", op, "path", event.Name)
	}
}

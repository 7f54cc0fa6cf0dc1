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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal event names.
const (
	EventStart          = "start"
	EventDaemonize      = "daemonize"
	EventAlreadyRunning = "already_running"
	EventStalePID       = "stale_pid"
	EventSpawn          = "spawn"
	EventChildExit      = "child_exit"
	EventReload         = "reload"
	EventStop           = "stop"
	EventStopFailure    = "stop_failure"
)

// JournalEvent is one JSON line in the lifecycle journal.
type JournalEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Invocation string    `json:"invocation"`
	Event      string    `json:"event"`
	PID        int       `json:"pid,omitempty"`
	ChildPID   int       `json:"child_pid,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Journal appends lifecycle events as JSON lines. Every event carries an
// invocation id so interleaved writers (supervisor and workers) can be
// told apart. A nil *Journal discards events.
//
// The journal never fails its caller. The first write error is logged
// at warn level and kept for Err; later failures are dropped.
type Journal struct {
	path       string
	invocation string
	pid        int
	now        func() time.Time
	logger     *slog.Logger

	mu  sync.Mutex
	err error
}

// NewJournal creates a journal writing to path with a fresh invocation id.
// logger may be nil.
func NewJournal(path string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{
		path:       path,
		invocation: uuid.NewString(),
		pid:        os.Getpid(),
		now:        time.Now,
		logger:     logger,
	}
}

// Invocation returns the id stamped on every event.
func (j *Journal) Invocation() string {
	if j == nil {
		return ""
	}
	return j.invocation
}

// Err returns the first write failure, if any.
func (j *Journal) Err() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Record appends an event for this process.
func (j *Journal) Record(event, message string) {
	j.write(JournalEvent{Event: event, Message: message})
}

// RecordChild appends an event about a supervised child.
func (j *Journal) RecordChild(event string, childPID int, exitCode *int) {
	j.write(JournalEvent{Event: event, ChildPID: childPID, ExitCode: exitCode})
}

// RecordError appends a failure event.
func (j *Journal) RecordError(event string, err error) {
	e := JournalEvent{Event: event}
	if err != nil {
		e.Error = err.Error()
	}
	j.write(e)
}

func (j *Journal) write(e JournalEvent) {
	if j == nil {
		return
	}
	e.Timestamp = j.now().UTC()
	e.Invocation = j.invocation
	if e.PID == 0 {
		e.PID = j.pid
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.append(e); err != nil && j.err == nil {
		j.err = err
		j.logger.Warn("lifecycle journal unavailable",
			slog.String("path", j.path),
			slog.String("event", e.Event),
			slog.Any("error", err))
	}
}

func (j *Journal) append(e JournalEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

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
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJournal_Record(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lifecycle.jsonl")
	j := NewJournal(path, nil)
	j.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	if _, err := uuid.Parse(j.Invocation()); err != nil {
		t.Fatalf("Invocation() = %q is not a uuid: %v", j.Invocation(), err)
	}

	code := 3
	j.Record(EventStart, "serve development.ini")
	j.RecordChild(EventReload, 99, &code)
	j.RecordError(EventStopFailure, errors.New("still alive"))
	if err := j.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("journal has %d lines, want 3", len(lines))
	}

	var reload JournalEvent
	if err := json.Unmarshal([]byte(lines[1]), &reload); err != nil {
		t.Fatal(err)
	}
	if reload.Event != EventReload || reload.ChildPID != 99 || reload.ExitCode == nil || *reload.ExitCode != 3 {
		t.Errorf("unexpected reload event %+v", reload)
	}
	if reload.Invocation != j.Invocation() || reload.PID != os.Getpid() {
		t.Errorf("reload event not stamped: %+v", reload)
	}

	var failure JournalEvent
	if err := json.Unmarshal([]byte(lines[2]), &failure); err != nil {
		t.Fatal(err)
	}
	if failure.Error != "still alive" {
		t.Errorf("failure.Error = %q", failure.Error)
	}
}

func TestJournal_NilDiscards(t *testing.T) {
	var j *Journal
	j.Record(EventStart, "ignored")
	if err := j.Err(); err != nil {
		t.Errorf("nil Journal Err() = %v", err)
	}
	if j.Invocation() != "" {
		t.Error("nil Journal has an invocation id")
	}
}

func TestJournal_WarnsOnceWhenUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	j := NewJournal(filepath.Join(blocker, "lifecycle.jsonl"), logger)

	j.Record(EventStart, "first")
	j.RecordChild(EventSpawn, 42, nil)

	if j.Err() == nil {
		t.Fatal("Err() = nil, want the write failure")
	}
	if n := strings.Count(logs.String(), "lifecycle journal unavailable"); n != 1 {
		t.Errorf("warned %d times, want 1:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "event=start") {
		t.Errorf("unexpected warning: %s", logs.String())
	}
}

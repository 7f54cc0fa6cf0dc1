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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testMarker = "GEARBOX_TEST_SUPERVISED"

func shellSupervisor(t *testing.T, policy RestartPolicy, script string, mutate func(*SupervisorConfig)) *Supervisor {
	t.Helper()
	cfg := SupervisorConfig{
		Executable: "sh",
		Args:       []string{"-c", script},
		Env:        os.Environ(),
		Marker:     testMarker,
		Policy:     policy,
		Stdout:     &bytes.Buffer{},
		Stderr:     &bytes.Buffer{},
		Metrics:    NewMetrics(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSupervisor(cfg)
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	return s
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func TestNewSupervisor_RequiresMarker(t *testing.T) {
	if _, err := NewSupervisor(SupervisorConfig{Executable: "sh"}); err == nil {
		t.Error("NewSupervisor() without marker succeeded, want error")
	}
}

func TestSupervisor_ForwardsTermination(t *testing.T) {
	dir := t.TempDir()
	ready := filepath.Join(dir, "ready")
	got := filepath.Join(dir, "got-term")
	script := `trap 'echo term > "$GOT"; exit 0' TERM; touch "$READY"; while true; do sleep 0.05; done`

	var childPID int
	s := shellSupervisor(t, RestartAlways, script, func(cfg *SupervisorConfig) {
		cfg.Env = append(os.Environ(), "READY="+ready, "GOT="+got)
		cfg.OnSpawn = func(pid int) { childPID = pid }
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan int, 1)
	go func() {
		code, err := s.Run(ctx)
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
		result <- code
	}()

	waitForFile(t, ready)
	cancel()

	select {
	case code := <-result:
		if code != 1 {
			t.Errorf("Run() = %d, want 1 after interrupt", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("child never received SIGTERM: %v", err)
	}
	if strings.TrimSpace(string(data)) != "term" {
		t.Errorf("child marker = %q", data)
	}
	if IsProcessRunning(childPID) {
		t.Errorf("child %d still running after supervisor returned", childPID)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
}

func TestSupervisor_KillsAfterTimeout(t *testing.T) {
	ready := filepath.Join(t.TempDir(), "ready")
	script := `trap '' TERM; touch "$READY"; while true; do sleep 0.05; done`

	s := shellSupervisor(t, RestartAlways, script, func(cfg *SupervisorConfig) {
		cfg.Env = append(os.Environ(), "READY="+ready)
		cfg.KillTimeout = 200 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan int, 1)
	go func() {
		code, _ := s.Run(ctx)
		result <- code
	}()

	waitForFile(t, ready)
	cancel()

	select {
	case code := <-result:
		if code != 1 {
			t.Errorf("Run() = %d, want 1", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not kill a child that ignores SIGTERM")
	}

	if n := testutil.ToFloat64(s.cfg.Metrics.exits.WithLabelValues("137")); n != 1 {
		t.Errorf("exit code 137 count = %v, want 1", n)
	}
}

func TestSupervisor_RestartAlways(t *testing.T) {
	var mu sync.Mutex
	spawns := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := shellSupervisor(t, RestartAlways, "exit 7", func(cfg *SupervisorConfig) {
		cfg.OnSpawn = func(int) {
			mu.Lock()
			defer mu.Unlock()
			spawns++
			if spawns == 3 {
				cancel()
			}
		}
	})

	code, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 1 {
		t.Errorf("Run() = %d, want 1", code)
	}

	mu.Lock()
	defer mu.Unlock()
	if spawns != 3 {
		t.Errorf("spawns = %d, want 3", spawns)
	}
	if n := testutil.ToFloat64(s.cfg.Metrics.spawns); n != 3 {
		t.Errorf("spawn counter = %v, want 3", n)
	}
}

func TestSupervisor_RestartOnReload(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "reloaded")
	script := `if [ -f "$FLAG" ]; then exit 5; fi; touch "$FLAG"; exit 3`

	spawns := 0
	s := shellSupervisor(t, RestartOnReload, script, func(cfg *SupervisorConfig) {
		cfg.Env = append(os.Environ(), "FLAG="+flag)
		cfg.OnSpawn = func(int) { spawns++ }
	})

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 5 {
		t.Errorf("Run() = %d, want the worker's final status 5", code)
	}
	if spawns != 2 {
		t.Errorf("spawns = %d, want 2", spawns)
	}
	if n := testutil.ToFloat64(s.cfg.Metrics.reloads); n != 1 {
		t.Errorf("reload counter = %v, want 1", n)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
}

func TestSupervisor_SetsMarker(t *testing.T) {
	script := `test "$` + testMarker + `" = 1`
	s := shellSupervisor(t, RestartOnReload, script, nil)

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Errorf("worker did not see %s=1 (exit %d)", testMarker, code)
	}
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	s, err := NewSupervisor(SupervisorConfig{
		Executable: filepath.Join(t.TempDir(), "missing"),
		Marker:     testMarker,
	})
	if err != nil {
		t.Fatal(err)
	}

	code, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run() with missing executable succeeded, want error")
	}
	if code != 1 {
		t.Errorf("Run() = %d, want 1", code)
	}
}

func TestSupervisor_WritesMetricsFileAndJournal(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "gearbox.prom")
	journalPath := filepath.Join(dir, "lifecycle.jsonl")

	s := shellSupervisor(t, RestartOnReload, "exit 0", func(cfg *SupervisorConfig) {
		cfg.MetricsFile = metricsPath
		cfg.Journal = NewJournal(journalPath, nil)
	})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(data), `gearbox_supervisor_child_exits_total{code="0"} 1`) {
		t.Errorf("metrics file missing exit counter:\n%s", data)
	}

	f, err := os.Open(journalPath)
	if err != nil {
		t.Fatalf("journal not written: %v", err)
	}
	defer f.Close()

	var events []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e JournalEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid journal line %q: %v", scanner.Text(), err)
		}
		events = append(events, e.Event)
	}
	if strings.Join(events, ",") != "spawn,child_exit" {
		t.Errorf("journal events = %v, want [spawn child_exit]", events)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateStarting:   "starting",
		StateRunning:    "running",
		StateRestarting: "restarting",
		StateStopping:   "stopping",
		StateStopped:    "stopped",
	}
	for st, name := range want {
		if st.String() != name {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), name)
		}
	}
}

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

// Package harness builds the gearbox binary and runs it in a scratch
// directory for end-to-end tests.
package harness

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"
)

var (
	buildOnce sync.Once
	binary    string
	buildErr  error
)

// Harness runs gearbox commands in a temporary working directory.
type Harness struct {
	t   *testing.T
	bin string
	Dir string
}

// Result is the outcome of one invocation.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// New builds gearbox (once per test binary) and creates a working
// directory for t.
func New(t *testing.T) *Harness {
	t.Helper()

	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "gearbox-e2e-")
		if err != nil {
			buildErr = err
			return
		}
		binary = filepath.Join(dir, "gearbox")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/gearbox")
		cmd.Dir = moduleRoot()
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = errors.New(string(out))
		}
	})
	if buildErr != nil {
		t.Fatalf("build gearbox: %v", buildErr)
	}

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	return &Harness{t: t, bin: binary, Dir: dir}
}

// moduleRoot is two levels above this package.
func moduleRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..")
}

// WriteFile writes content relative to the working directory.
func (h *Harness) WriteFile(name, content string, mode os.FileMode) string {
	h.t.Helper()
	path := filepath.Join(h.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		h.t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Run invokes gearbox with args and waits for it to exit.
func (h *Harness) Run(args ...string) Result {
	h.t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(h.bin, args...)
	cmd.Dir = h.Dir
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.Code = exitErr.ExitCode()
	case err != nil:
		h.t.Fatalf("run gearbox %v: %v", args, err)
	}
	return res
}

// WaitFor polls cond until it holds or timeout passes.
func (h *Harness) WaitFor(timeout time.Duration, what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

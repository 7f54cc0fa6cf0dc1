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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gearboxerrors "github.com/tombee/gearbox/pkg/errors"
)

// ErrNoPID is returned when a PID file is missing, empty, malformed, or
// names a process that is no longer alive.
var ErrNoPID = errors.New("no usable pid")

// PIDFileManager reads and writes a single decimal process id.
//
// The file is advisory: it is not locked. Two invocations racing on the
// same path can both observe "not running" and both write. Correctness
// relies on the liveness probe and on the owner check in Remove.
type PIDFileManager struct {
	path   string
	alive  Probe
	logger *slog.Logger

	// self is the pid of the running process. Remove compares against it
	// so that a process that inherited this manager does not delete a
	// file written by its parent.
	self    int
	written int
}

// PIDFileOption configures a PIDFileManager.
type PIDFileOption func(*PIDFileManager)

// WithProbe replaces the liveness probe.
func WithProbe(p Probe) PIDFileOption {
	return func(m *PIDFileManager) { m.alive = p }
}

// WithPIDLogger sets the logger used for stale-file recovery messages.
func WithPIDLogger(logger *slog.Logger) PIDFileOption {
	return func(m *PIDFileManager) { m.logger = logger }
}

// NewPIDFileManager creates a new PID file manager for the given path.
func NewPIDFileManager(path string, opts ...PIDFileOption) *PIDFileManager {
	m := &PIDFileManager{
		path:   path,
		alive:  IsProcessRunning,
		logger: slog.Default(),
		self:   os.Getpid(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the PID file path.
func (m *PIDFileManager) Path() string {
	return m.path
}

// Write records pid as decimal text with no trailing newline.
// Any failure is a *errors.PIDFileError.
func (m *PIDFileManager) Write(pid int) error {
	parentDir := filepath.Dir(m.path)
	if err := verifyDirectorySafety(parentDir); err != nil {
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "write", Cause: err}
	}
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "create directory for", Cause: err}
	}

	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "open", Cause: err}
	}
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		f.Close()
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "write", Cause: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "sync", Cause: err}
	}
	if err := f.Close(); err != nil {
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "close", Cause: err}
	}

	m.written = pid
	return nil
}

// WriteSelf records the current process id.
func (m *PIDFileManager) WriteSelf() error {
	return m.Write(m.self)
}

// Read returns the recorded pid, or ErrNoPID when the file is missing
// or does not hold a positive decimal integer.
func (m *PIDFileManager) Read() (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPID
		}
		return 0, &gearboxerrors.PIDFileError{Path: m.path, Op: "read", Cause: err}
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrNoPID
	}
	return pid, nil
}

// ReadLive is Read followed by a liveness probe. A recorded pid whose
// process is gone is reported as ErrNoPID and the file is cleared.
func (m *PIDFileManager) ReadLive() (int, error) {
	pid, err := m.Read()
	if err != nil {
		return 0, err
	}
	if m.alive(pid) {
		return pid, nil
	}

	m.logger.Info("removing stale pid file", slog.String("path", m.path), slog.Int("pid", pid))
	m.clearStale()
	return 0, ErrNoPID
}

// clearStale deletes the file, falling back to truncation. It never
// returns an error; failures are logged.
func (m *PIDFileManager) clearStale() {
	err := os.Remove(m.path)
	if err == nil || os.IsNotExist(err) {
		return
	}

	m.logger.Warn("cannot remove stale pid file, truncating it",
		slog.String("path", m.path), slog.Any("error", err))
	if err := os.Truncate(m.path, 0); err != nil {
		m.logger.Error("stale pid file left in place",
			slog.String("path", m.path), slog.Any("error", err))
	}
}

// Delete removes the file unconditionally. A missing file is not an error.
func (m *PIDFileManager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return &gearboxerrors.PIDFileError{Path: m.path, Op: "remove", Cause: err}
	}
	return nil
}

// Remove is the cleanup for Write. It deletes the file only when this
// process wrote its own pid and the file still holds that pid. It reports
// whether the file was removed.
func (m *PIDFileManager) Remove() bool {
	if m.written == 0 || m.written != m.self {
		return false
	}

	current, err := m.Read()
	if err != nil {
		return false
	}
	if current != m.written {
		m.logger.Warn("pid file now belongs to another process, leaving it",
			slog.String("path", m.path), slog.Int("pid", current))
		return false
	}

	if err := os.Remove(m.path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
		m.logger.Warn("cannot remove pid file, truncating it",
			slog.String("path", m.path), slog.Any("error", err))
		if err := os.Truncate(m.path, 0); err != nil {
			m.logger.Error("pid file left in place", slog.String("path", m.path), slog.Any("error", err))
		}
		return false
	}
	return true
}

// Exists returns true if the PID file exists.
func (m *PIDFileManager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// verifyDirectorySafety rejects world-writable directories unless the
// sticky bit is set.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	mode := info.Mode()
	if mode&0o002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%s is world-writable (mode %04o)", dir, mode&os.ModePerm)
	}
	return nil
}

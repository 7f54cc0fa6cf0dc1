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

package errors

import (
	"fmt"
)

// DaemonConflictError is returned when daemon mode is requested but a live
// process already owns the PID file.
type DaemonConflictError struct {
	// PID is the live process recorded in the file
	PID int

	// Path is the PID file that claims ownership
	Path string
}

// Error implements the error interface.
func (e *DaemonConflictError) Error() string {
	return fmt.Sprintf("daemon is already running (PID: %d from PID file %s)", e.PID, e.Path)
}

// IsUserVisible implements UserVisibleError.
func (e *DaemonConflictError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *DaemonConflictError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *DaemonConflictError) Suggestion() string {
	return fmt.Sprintf("Stop the running instance first with --stop-daemon --pid-file %s", e.Path)
}

// PIDFileError represents a PID file that cannot be created, read or written
// before a worker starts. A worker is never started without a usable PID file.
type PIDFileError struct {
	// Path is the PID file location
	Path string

	// Op is the failed operation (e.g., "write", "open")
	Op string

	// Cause is the underlying filesystem error
	Cause error
}

// Error implements the error interface.
func (e *PIDFileError) Error() string {
	return fmt.Sprintf("unable to %s pid file %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PIDFileError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *PIDFileError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *PIDFileError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *PIDFileError) Suggestion() string {
	return "Choose a writable location with --pid-file"
}

// LoadError represents a failure of the loader to build the worker from its
// configuration reference. The message is surfaced verbatim.
type LoadError struct {
	// Reference is the configuration reference that failed (e.g., "development.ini#main")
	Reference string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load application or server from %s: %v", e.Reference, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing sections, or invalid values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "app.main.command")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

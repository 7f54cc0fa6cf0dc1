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

package shared

import (
	"errors"
	"fmt"
	"io"

	"github.com/tombee/gearbox/internal/lifecycle"
	pkgerrors "github.com/tombee/gearbox/pkg/errors"
)

// Process exit codes.
const (
	ExitSuccess = 0
	// ExitStartupFailed covers failures before a command is dispatched
	// and unsuccessful stop/status reports.
	ExitStartupFailed = 1
	// ExitUsage covers bad arguments, unresolvable commands and a daemon
	// that is already running.
	ExitUsage = 2
	// ExitReload asks a reloading supervisor to relaunch the worker.
	ExitReload = lifecycle.ReloadExitCode
	// ExitCommandFailed is used when a command returns an error.
	ExitCommandFailed = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	switch {
	case e.Message == "" && e.Cause != nil:
		return e.Cause.Error()
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	default:
		return e.Message
	}
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError creates an error for bad arguments or flag combinations
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg, Cause: cause}
}

// NewStartupError creates an error for failures before work begins
func NewStartupError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitStartupFailed, Message: msg, Cause: cause}
}

// NewCommandError creates an error for a command that ran and failed
func NewCommandError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitCommandFailed, Message: msg, Cause: cause}
}

// NewReloadExit is returned by a worker that should be relaunched.
// ReportExitError does not print it; the supervisor logs the restart.
func NewReloadExit(cause error) *ExitError {
	return &ExitError{Code: ExitReload, Cause: cause}
}

// ExitCode extracts the code carried by err. Errors without an
// ExitError in their chain map to ExitCommandFailed.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandFailed
}

// ReportExitError prints the one-line message and any suggestion to w
// and returns the exit code for err.
func ReportExitError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	code := ExitCode(err)
	if code == ExitReload {
		return code
	}

	if msg := err.Error(); msg != "" {
		fmt.Fprintln(w, "Error:", msg)
	}
	PrintSuggestion(w, err)

	return code
}

// PrintSuggestion walks the error chain for a UserVisibleError and
// prints its suggestion.
func PrintSuggestion(w io.Writer, err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				if suggestion := userErr.Suggestion(); suggestion != "" {
					fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		err = errors.Unwrap(err)
	}
}

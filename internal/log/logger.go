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

package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
)

// Standard field keys for structured logging.
const (
	// CommandKey is the field key for the resolved command name.
	CommandKey = "command"
	// PIDKey is the field key for process identifiers.
	PIDKey = "pid"
	// ExitCodeKey is the field key for child exit codes.
	ExitCodeKey = "exit_code"
	// ComponentKey is the field key for the emitting component.
	ComponentKey = "component"
)

// Config holds the logging configuration.
type Config struct {
	// Verbosity selects the console threshold.
	// 0 shows warnings and errors, 1 adds info, 2 and above add debug.
	// Default: 1
	Verbosity int

	// Debug adds source locations to every record.
	Debug bool

	// Format sets the console output format (text, json).
	// Default: text
	Format Format

	// Output is the console writer.
	// Default: os.Stderr
	Output io.Writer

	// File, when set, receives every record at debug level regardless
	// of Verbosity. Typically the writer returned by NewFile.
	File io.Writer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Verbosity: 1,
		Format:    FormatText,
		Output:    os.Stderr,
	}
}

// FromEnv overlays environment settings on cfg.
// Supported environment variables:
//   - GEARBOX_DEBUG: true/1 enables source locations and debug verbosity
//   - GEARBOX_LOG_FORMAT: text, json
func FromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	debug := os.Getenv("GEARBOX_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Debug = true
		if cfg.Verbosity < 2 {
			cfg.Verbosity = 2
		}
	}

	if format := os.Getenv("GEARBOX_LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	return cfg
}

// ConsoleLevel maps a verbosity count to the console threshold.
func ConsoleLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	console := newHandler(output, cfg.Format, &slog.HandlerOptions{
		Level:     ConsoleLevel(cfg.Verbosity),
		AddSource: cfg.Debug,
	})
	if cfg.File == nil {
		return slog.New(console)
	}

	// The file always receives text so that it can be tailed alongside
	// the worker's own output.
	file := slog.NewTextHandler(cfg.File, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: cfg.Debug,
	})
	return slog.New(NewFanout(console, file))
}

func newHandler(w io.Writer, format Format, opts *slog.HandlerOptions) slog.Handler {
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case FormatText:
		fallthrough
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithComponent returns a new logger with a component name field.
// Component names help identify which part of the system generated the log.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(ComponentKey, component)
}

// WithCommand returns a new logger tagged with the resolved command name.
func WithCommand(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(CommandKey, name)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

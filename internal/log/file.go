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
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultFileMaxSize is the size in megabytes at which the log file
	// is rotated.
	DefaultFileMaxSize = 100
	// DefaultFileMaxBackups is the number of rotated files kept.
	DefaultFileMaxBackups = 5
)

// NewFile returns the --log-file sink. The file is created and opened on
// the first Write, under the logger's own lock, so an invocation that
// never logs leaves no file behind. Close releases the handle; a later
// Write reopens it.
func NewFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultFileMaxSize,
		MaxBackups: DefaultFileMaxBackups,
	}
}

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
	"time"
)

// Op is the kind of filesystem change.
type Op string

const (
	OpCreate Op = "created"
	OpWrite  Op = "modified"
	OpRemove Op = "deleted"
	OpRename Op = "renamed"
)

// Event describes one observed change.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
	Time  time.Time
}

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

//go:build linux

package lifecycle

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// getProcessCommand reads the argument vector from /proc. Kernel threads
// have an empty cmdline, in which case the short name from comm is used.
func getProcessCommand(pid int) (string, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read cmdline: %w", err)
	}

	var args []string
	for _, part := range bytes.Split(raw, []byte{0}) {
		if len(part) > 0 {
			args = append(args, string(part))
		}
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read comm: %w", err)
	}
	return "[" + strings.TrimSpace(string(comm)) + "]", nil
}

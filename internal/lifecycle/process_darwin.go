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

//go:build darwin

package lifecycle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// getProcessCommand decodes kern.procargs2: a native-endian argc, the
// executable path, NUL padding, then argc NUL-terminated arguments.
func getProcessCommand(pid int) (string, error) {
	raw, err := unix.SysctlRaw("kern.procargs2", pid)
	if err != nil {
		return "", fmt.Errorf("sysctl kern.procargs2: %w", err)
	}
	if len(raw) < 4 {
		return "", errors.New("short kern.procargs2 buffer")
	}

	argc := int(binary.LittleEndian.Uint32(raw[:4]))
	rest := raw[4:]

	// Skip the executable path and the padding that follows it.
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", errors.New("malformed kern.procargs2 buffer")
	}
	rest = bytes.TrimLeft(rest[end:], "\x00")

	args := make([]string, 0, argc)
	for len(args) < argc && len(rest) > 0 {
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			args = append(args, string(rest))
			break
		}
		args = append(args, string(rest[:end]))
		rest = rest[end+1:]
	}
	return strings.Join(args, " "), nil
}

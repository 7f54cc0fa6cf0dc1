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
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternMatcher handles include and exclude glob pattern matching for file paths.
// It uses doublestar for extended glob pattern support including ** for recursive matching.
type PatternMatcher struct {
	includePatterns []string
	excludePatterns []string
}

// NewPatternMatcher validates the patterns and returns a matcher.
// An empty include list matches nothing; exclusions win over inclusions.
func NewPatternMatcher(includePatterns, excludePatterns []string) (*PatternMatcher, error) {
	for _, pattern := range append(append([]string{}, includePatterns...), excludePatterns...) {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}

	return &PatternMatcher{
		includePatterns: includePatterns,
		excludePatterns: excludePatterns,
	}, nil
}

// Included reports whether path matches an include pattern.
func (pm *PatternMatcher) Included(path string) bool {
	for _, pattern := range pm.includePatterns {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// Excluded reports whether path matches an exclude pattern.
func (pm *PatternMatcher) Excluded(path string) bool {
	for _, pattern := range pm.excludePatterns {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern checks the full path, then the base name for patterns
// without a separator.
func matchPattern(pattern, path string) bool {
	if matched, _ := doublestar.PathMatch(pattern, path); matched {
		return true
	}

	if matched, _ := doublestar.Match(filepath.ToSlash(pattern), filepath.Base(path)); matched {
		return true
	}

	return false
}

// DefaultExcludePatterns returns editor temporary files, VCS metadata and
// build output that should never trigger a reload.
func DefaultExcludePatterns() []string {
	return []string{
		// Vim
		"*.swp",
		"*.swo",
		"*.swx",
		"4913",
		// Emacs
		"*~",
		"#*#",
		".#*",
		// System files
		".DS_Store",
		// Version control and dependencies
		"**/.git/**",
		"**/node_modules/**",
		// Logs and pid files written by the server itself
		"*.log",
		"*.pid",
		"*.tmp",
	}
}

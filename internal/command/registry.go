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

package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ResolutionKind classifies a failed lookup.
type ResolutionKind int

const (
	// InvalidFlag means a flag-like token appeared before any command word.
	InvalidFlag ResolutionKind = iota + 1
	// UnknownCommand means no prefix of the tokens names a command.
	UnknownCommand
)

// ResolutionError is returned by Resolve.
type ResolutionError struct {
	Kind        ResolutionKind
	Detail      string
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case InvalidFlag:
		return fmt.Sprintf("invalid command %q", e.Detail)
	default:
		return fmt.Sprintf("unknown command %q", e.Detail)
	}
}

// IsUserVisible implements errors.UserVisibleError.
func (e *ResolutionError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *ResolutionError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *ResolutionError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return "Run 'help' to list the available commands"
	}
	return "Did you mean one of: " + strings.Join(e.Suggestions, ", ")
}

// Registry maps normalized command names to factories.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Factory)}
}

// Normalize lower-cases name and collapses runs of whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Register adds factory under name. An existing entry is replaced.
func (r *Registry) Register(name string, factory Factory) {
	key := Normalize(name)
	if key == "" || factory == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = factory
}

// Lookup returns the factory for an exact name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.commands[Normalize(name)]
	return f, ok
}

// Names returns every registered name in lexicographic order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve finds the longest prefix of tokens that names a command.
// It returns the factory, the matched name and the unconsumed tokens.
// Scanning stops at the first flag-like token; such a token before any
// match is an InvalidFlag error.
func (r *Registry) Resolve(tokens []string) (Factory, string, []string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		matched  Factory
		name     string
		consumed int
		words    []string
	)
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "-") {
			if matched == nil {
				return nil, "", nil, &ResolutionError{Kind: InvalidFlag, Detail: tok}
			}
			break
		}
		words = append(words, strings.ToLower(tok))
		candidate := strings.Join(words, " ")
		if f, ok := r.commands[candidate]; ok {
			matched, name, consumed = f, candidate, i+1
		}
	}

	if matched == nil {
		detail := strings.Join(tokens, " ")
		return nil, "", nil, &ResolutionError{
			Kind:        UnknownCommand,
			Detail:      detail,
			Suggestions: r.suggestLocked(detail),
		}
	}

	rest := make([]string, len(tokens)-consumed)
	copy(rest, tokens[consumed:])
	return matched, name, rest, nil
}

// Suggest returns every name whose first word starts with the first word
// of partial, sorted. It never picks a command on the caller's behalf.
func (r *Registry) Suggest(partial string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suggestLocked(partial)
}

func (r *Registry) suggestLocked(partial string) []string {
	fields := strings.Fields(strings.ToLower(partial))
	if len(fields) == 0 {
		return nil
	}
	first := fields[0]

	var out []string
	for name := range r.commands {
		if strings.HasPrefix(strings.Fields(name)[0], first) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

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
	"sort"
	"sync"
	"time"
)

// Debouncer collapses a burst of events into one flush. Every Add
// restarts the window; the flush carries each changed path once, in
// sorted order.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*Event
	timer   *time.Timer
	stopped bool
	onFlush func([]*Event)
}

// NewDebouncer creates a debouncer. A zero window flushes on every Add.
func NewDebouncer(window time.Duration, onFlush func([]*Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*Event),
		onFlush: onFlush,
	}
}

// Add records ev and restarts the window.
func (d *Debouncer) Add(ev *Event) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending[ev.Path] = ev

	if d.window <= 0 {
		d.mu.Unlock()
		d.flush()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
	d.mu.Unlock()
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	events := make([]*Event, 0, len(d.pending))
	for _, ev := range d.pending {
		events = append(events, ev)
	}
	d.pending = make(map[string]*Event)
	d.timer = nil
	d.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	if d.onFlush != nil {
		d.onFlush(events)
	}
}

// Stop discards pending events. Later Adds are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]*Event)
}

// Pending returns the number of distinct paths awaiting a flush.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

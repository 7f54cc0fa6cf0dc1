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
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// CLI style colors using lipgloss
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Header styles section headers
	Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")) // blue bold
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
)

// Painter renders status lines, with color only when writing to a
// terminal and NO_COLOR is unset.
type Painter struct {
	color bool
}

// NewPainter inspects w to decide whether to color output.
func NewPainter(w io.Writer) *Painter {
	return &Painter{color: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *Painter) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// OK renders a success message with green checkmark
func (p *Painter) OK(msg string) string {
	return p.render(StatusOK, SymbolOK) + " " + msg
}

// Warn renders a warning message with orange symbol
func (p *Painter) Warn(msg string) string {
	return p.render(StatusWarn, SymbolWarn) + " " + msg
}

// Error renders an error message with red X
func (p *Painter) Error(msg string) string {
	return p.render(StatusError, SymbolError) + " " + msg
}

// Header renders a section header
func (p *Painter) Header(msg string) string {
	return p.render(Header, msg)
}

// Label renders a dim label (for key: value pairs)
func (p *Painter) Label(label string) string {
	return p.render(Muted, label)
}

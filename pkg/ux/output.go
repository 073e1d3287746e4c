// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output.
//
// A Printer writes either styled text (lipgloss colors, icons, boxes) or
// plain text suitable for pipes and scripts. DetectPlain picks the mode
// from the terminal and the NO_COLOR convention.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess  = lipgloss.Color("#2CD7C7")
	ColorWarning  = lipgloss.Color("#F4D03F")
	ColorError    = lipgloss.Color("#E74C3C")
	ColorCritical = lipgloss.Color("#C0392B")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Critical  lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Critical:  lipgloss.NewStyle().Bold(true).Foreground(ColorCritical),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// DetectPlain reports whether output to f should be plain: f is not a
// terminal, or NO_COLOR is set.
func DetectPlain(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// Printer writes CLI output in styled or plain form.
//
// Plain output uses fixed prefixes ("OK:", "WARN:", "ERROR:") and tab
// separated fields so it can be parsed.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, plain bool) *Printer {
	return &Printer{w: w, plain: plain}
}

// Plain reports whether the printer writes plain text.
func (p *Printer) Plain() bool {
	return p.plain
}

// Title prints a styled title. Plain mode prints it underlined.
func (p *Printer) Title(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "%s\n%s\n", text, strings.Repeat("=", len(text)))
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Section prints a section heading.
func (p *Printer) Section(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "\n%s:\n", text)
		return
	}
	fmt.Fprintf(p.w, "\n%s\n", Styles.Subtitle.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// KeyValue prints an aligned "key: value" line.
func (p *Printer) KeyValue(key string, value any) {
	if p.plain {
		fmt.Fprintf(p.w, "%s\t%v\n", key, value)
		return
	}
	fmt.Fprintf(p.w, "  %s %v\n", Styles.Muted.Render(fmt.Sprintf("%-20s", key+":")), value)
}

// Item prints one list entry.
func (p *Printer) Item(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "  %s %s\n", IconBullet.Render(), text)
}

// Row prints tab-separated columns. Styled mode pads columns to widths.
func (p *Printer) Row(widths []int, cols ...string) {
	if p.plain {
		fmt.Fprintln(p.w, strings.Join(cols, "\t"))
		return
	}
	var b strings.Builder
	b.WriteString("  ")
	for i, c := range cols {
		if i < len(widths) && i < len(cols)-1 {
			fmt.Fprintf(&b, "%-*s ", widths[i], c)
			continue
		}
		b.WriteString(c)
	}
	fmt.Fprintln(p.w, b.String())
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.plain {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	if p.plain {
		fmt.Fprintf(p.w, "WARN %s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.WarningBox.Width(72).Render(Styles.Warning.Bold(true).Render(title)+"\n"+content))
}

// Level renders a severity or risk level ("LOW" through "CRITICAL") in
// its color. Unknown levels are returned unchanged.
func (p *Printer) Level(level string) string {
	if p.plain {
		return level
	}
	switch strings.ToUpper(level) {
	case "CRITICAL":
		return Styles.Critical.Render(level)
	case "HIGH":
		return Styles.Error.Render(level)
	case "MEDIUM":
		return Styles.Warning.Render(level)
	case "LOW":
		return Styles.Success.Render(level)
	default:
		return level
	}
}

// Muted renders secondary text.
func (p *Printer) Muted(text string) string {
	if p.plain {
		return text
	}
	return Styles.Muted.Render(text)
}

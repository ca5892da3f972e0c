// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// ColorEnabled reports whether styled output should be written to f. It is
// off when NO_COLOR is set or f is not a terminal.
func ColorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Printer writes CLI output, styled when color is enabled and as plain
// prefixed lines otherwise so the output stays greppable in pipes.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

// Title prints a styled heading. Plain output skips it.
func (p *Printer) Title(text string) {
	if !p.color {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if !p.color {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Success.Render(string(IconSuccess)), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if !p.color {
		fmt.Fprintf(p.out, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Warning.Render(string(IconWarning)), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if !p.color {
		fmt.Fprintf(p.out, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintln(p.out, Styles.ErrorBox.Render(Styles.Error.Render(string(IconError)+" "+text)))
}

// Token writes answer text as it streams, without a newline.
func (p *Printer) Token(text string) {
	fmt.Fprint(p.out, text)
}

// Newline ends a streamed answer.
func (p *Printer) Newline() {
	fmt.Fprintln(p.out)
}

// Sources prints the retrieved knowledge sources under topic.
func (p *Printer) Sources(topic string, sources []datatypes.SourceDocument) {
	if len(sources) == 0 {
		return
	}

	var b strings.Builder
	header := fmt.Sprintf("Sources (%d)", len(sources))
	if topic != "" {
		header += " · " + topic
	}
	b.WriteString(p.render(Styles.Subtitle, header))
	for _, src := range sources {
		b.WriteString("\n")
		b.WriteString(p.render(Styles.Muted, string(IconBullet)))
		b.WriteString(" ")
		b.WriteString(summarize(src.PageContent, 80))
		if meta := formatMetadata(src.Metadata); meta != "" {
			b.WriteString(" ")
			b.WriteString(p.render(Styles.Muted, "("+meta+")"))
		}
	}

	if p.color {
		fmt.Fprintln(p.out, Styles.Box.Render(b.String()))
		return
	}
	fmt.Fprintln(p.out, b.String())
}

// Muted prints secondary text
func (p *Printer) Muted(text string) {
	fmt.Fprintln(p.out, p.render(Styles.Muted, text))
}

func summarize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

// formatMetadata renders the keys users care about in a stable order.
func formatMetadata(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		switch k {
		case datatypes.MetaType, datatypes.MetaTopic, datatypes.MetaSource, datatypes.MetaPrice:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, ", ")
}

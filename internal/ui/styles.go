package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette
var (
	colorPass   = lipgloss.Color("76")  // green
	colorWarn   = lipgloss.Color("214") // orange
	colorFail   = lipgloss.Color("196") // red
	colorAccent = lipgloss.Color("39")  // blue
	colorMuted  = lipgloss.Color("242") // gray
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(colorPass).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	titleStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
	meterFull  = lipgloss.NewStyle().Foreground(colorAccent)
	meterEmpty = lipgloss.NewStyle().Foreground(colorMuted)
)

// Init drops colors when the output should stay plain.
func Init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func icon(glyph, fallback string) string {
	if ShouldUseIcons() {
		return glyph
	}
	return fallback
}

// RenderPassIcon renders the success marker.
func RenderPassIcon() string { return passStyle.Render(icon("✓", "[ok]")) }

// RenderWarnIcon renders the warning marker.
func RenderWarnIcon() string { return warnStyle.Render(icon("⚠", "[warn]")) }

// RenderFailIcon renders the failure marker.
func RenderFailIcon() string { return failStyle.Render(icon("✗", "[fail]")) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderTitle renders a section heading.
func RenderTitle(s string) string { return titleStyle.Render(s) }

// Field renders an aligned "label value" line.
func Field(label string, value interface{}) string {
	return "  " + labelStyle.Render(label+":") + fmt.Sprint(value)
}

// Meter renders level out of max as a bar of width cells.
func Meter(level, max, width int) string {
	if max <= 0 || width <= 0 {
		return ""
	}
	if level < 0 {
		level = 0
	}
	if level > max {
		level = max
	}
	full := level * width / max
	return meterFull.Render(strings.Repeat("█", full)) +
		meterEmpty.Render(strings.Repeat("░", width-full))
}

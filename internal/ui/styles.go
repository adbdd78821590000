package ui

import (
	"fmt"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderCategory returns the category's label colored by its meaning:
// completed green, in-progress blue, on-hold amber, rejected red and
// not-started muted.
func RenderCategory(c model.Category) string {
	switch c {
	case model.CategoryCompleted:
		return render(colorOK, c.String())
	case model.CategoryInProgress:
		return render(colorAccent, c.String())
	case model.CategoryOnHold:
		return render(colorWarn, c.String())
	case model.CategoryRejected:
		return render(colorFail, c.String())
	default:
		return render(colorMuted, c.String())
	}
}

// RenderRate formats a completion percentage, green at 100 and muted at 0.
func RenderRate(rate float64) string {
	s := fmt.Sprintf("%.1f%%", rate)
	switch {
	case rate >= 100:
		return render(colorOK, s)
	case rate <= 0:
		return render(colorMuted, s)
	default:
		return s
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether stdout gets ANSI colors. OPREPORT_COLOR
// (always, never or auto) takes precedence over NO_COLOR, CLICOLOR_FORCE
// and CLICOLOR. Otherwise color follows TTY detection.
func ShouldUseColor() bool {
	return colorEnabled(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

func colorEnabled(getenv func(string) string, tty bool) bool {
	switch strings.ToLower(strings.TrimSpace(getenv("OPREPORT_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	// https://no-color.org: any non-empty value disables color.
	if getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(getenv("CLICOLOR")) == "0" {
		return false
	}
	return tty
}

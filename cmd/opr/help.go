package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/opreport/internal/ui"
)

// helpStyle pairs a pattern in Cobra's plain help text with its styling.
type helpStyle struct {
	re    *regexp.Regexp
	style func(groups []string) string
}

var helpStyles = []helpStyle{
	// Group and section headers such as "Reports:" or "Flags:".
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`), func(g []string) string {
		return ui.RenderAccent(strings.TrimSpace(g[1]))
	}},
	// Command names in command listings.
	{regexp.MustCompile(`(?m)^(  )(\S+)(  )`), func(g []string) string {
		return g[1] + ui.RenderCommand(g[2]) + g[3]
	}},
	// Flag value types, e.g. "--project string".
	{regexp.MustCompile(`(--?\S+\s+)(string|int|duration|stringSlice)`), func(g []string) string {
		return g[1] + ui.RenderMuted(g[2])
	}},
	{regexp.MustCompile(`\(default [^)]*\)`), func(g []string) string {
		return ui.RenderMuted(g[0])
	}},
}

// colorizedHelpFunc renders Cobra's usage text with ANSI colors when stdout
// supports them.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, hs := range helpStyles {
		s = hs.re.ReplaceAllStringFunc(s, func(match string) string {
			return hs.style(hs.re.FindStringSubmatch(match))
		})
	}
	return s
}

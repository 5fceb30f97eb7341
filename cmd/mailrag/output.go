package main

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// statusOut receives progress and status lines. Command results go to the
// command's own writer so they can be piped.
var statusOut io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func emit(color, mark, format string, args []any) {
	fmt.Fprintln(statusOut, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { emit(colorGreen, "✓", format, args) }

func printError(format string, args ...any) { emit(colorRed, "✗", format, args) }

func printWarning(format string, args ...any) { emit(colorYellow, "⚠", format, args) }

func printStep(format string, args ...any) { emit(colorCyan, "→", format, args) }

// printStatus writes an indented "label: value" line.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(statusOut, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

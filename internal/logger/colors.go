package logger

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// CLI output helpers using fatih/color for cross-platform support

// Success prints a success message with green checkmark
func Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = SuccessColor.Fprint(os.Stdout, "✓ ")
	fmt.Println(msg)
}

// Error prints an error message with red X
func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = ErrorColor.Fprint(os.Stderr, "✗ ")
	fmt.Fprintln(os.Stderr, msg)
}

// Warning prints a warning message with yellow exclamation
func Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = WarnColor.Fprint(os.Stdout, "⚠ ")
	fmt.Println(msg)
}

// Info prints an info message with blue arrow
func Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = InfoColor.Fprint(os.Stdout, "→ ")
	fmt.Println(msg)
}

// Header prints a bold header
func Header(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = HighlightColor.Println(msg)
}

// Dim prints dimmed/secondary text
func Dim(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = DimColor.Println(msg)
}

// Bold returns bold text
func Bold(text string) string {
	return color.New(color.Bold).Sprint(text)
}

// StatusLine prints a key-value status line
func StatusLine(key, value string) {
	_, _ = DimColor.Printf("  %s: ", key)
	fmt.Println(value)
}

// TableRow prints a simple formatted table row
func TableRow(cols ...string) {
	for i, col := range cols {
		if i == 0 {
			_, _ = InfoColor.Printf("%-42s", col)
		} else {
			fmt.Printf("%-15s", col)
		}
	}
	fmt.Println()
}

// DisableColors disables all color output (for non-TTY or --no-color flag)
func DisableColors() {
	color.NoColor = true
}

package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// truncate cuts s to maxWidth columns, keeping escape sequences intact.
// A non-positive width disables truncation.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 0 || lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return "..."
	}
	return ansi.Truncate(s, maxWidth, "...")
}

// singleLine folds newlines so one event stays on one line.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// screenshotSize returns the decoded size of a base64 payload.
func screenshotSize(b64 string) int {
	n := len(b64)
	if n == 0 {
		return 0
	}
	size := n / 4 * 3
	switch {
	case strings.HasSuffix(b64, "=="):
		size -= 2
	case strings.HasSuffix(b64, "="):
		size--
	}
	return size
}

// formatBytes renders n as B, KB or MB with one decimal.
func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

package utils

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var levelColors = []struct {
	level string
	bg    string
	fg    string
}{
	{"INFO", "87", "16"},
	{"WARN", "214", "0"},
	{"ERRO", "204", "0"},
	{"DEBU", "63", "0"},
}

func ColorizeLogs(logs []string) []string {

	for i, log := range logs {
		// Only style if not already styled (check for ANSI codes)
		if strings.Contains(log, "\x1b[") {
			continue
		}
		for _, c := range levelColors {
			if !strings.Contains(log, c.level) {
				continue
			}
			logs[i] = strings.Replace(log, c.level,
				lipgloss.NewStyle().
					Padding(0, 1, 0, 1).
					Bold(true).
					MaxWidth(80).
					Background(lipgloss.Color(c.bg)).
					Foreground(lipgloss.Color(c.fg)).
					Render(c.level), 1)
			break
		}
	}
	return logs
}

// FormatAmount renders an amount for the dashboard, "-" for zero.
func FormatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}

// Truncate shortens s to n runes with an ellipsis, used for long addresses in table cells.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

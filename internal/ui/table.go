package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Shared palette
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "63", Dark: "117"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "241"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "208", Dark: "214"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "78"}
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Align(lipgloss.Center)

	TableWarningStyle = lipgloss.NewStyle().
				Foreground(ColorWarn)

	TableSuccessStyle = lipgloss.NewStyle().
				Foreground(ColorPass)

	TableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)
)

// NewTable creates a table with the default styling, sized to width.
// Styling is dropped entirely when color output is disabled so piped
// output stays machine-friendly.
func NewTable(width int) *table.Table {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Width(width)
	if ShouldUseColor() {
		t.BorderStyle(TableBorderStyle).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableHeaderStyle
				}
				return lipgloss.NewStyle()
			})
	}
	return t
}

// Pass renders s in the success color when color output is enabled.
func Pass(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return TableSuccessStyle.Render(s)
}

// Warn renders s in the warning color when color output is enabled.
func Warn(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return TableWarningStyle.Render(s)
}

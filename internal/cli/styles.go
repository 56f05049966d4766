package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/erg0nix/palaver/internal/core"
)

var (
	colorPrimary = lipgloss.Color("#7C71F9")
	colorSuccess = lipgloss.Color("#34D399")
	colorError   = lipgloss.Color("#F87171")
	colorWarning = lipgloss.Color("#FBBF24")
	colorDim     = lipgloss.Color("#6B7280")
	colorAccent  = lipgloss.Color("#60A5FA")
)

var (
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning)

	styleCommand = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	styleTableHeader = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)

	stylePID = lipgloss.NewStyle().Foreground(colorAccent)
)

var roleStyles = map[core.Role]lipgloss.Style{
	core.RoleSystem:    styleDim,
	core.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	core.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(colorSuccess),
}

func roleStyle(role core.Role) lipgloss.Style {
	if s, ok := roleStyles[role]; ok {
		return s
	}
	return styleDim
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Headers(headers...).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(true).
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleTableHeader
			}
			return lipgloss.NewStyle().PaddingRight(2)
		})
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"accredit/pkg/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(22)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(fgColor)
)

// field is one label/value line of a panel
type field struct {
	label string
	value string
}

func renderPanel(title string, fields []field) string {
	lines := []string{titleStyle.Render(title)}
	for _, f := range fields {
		lines = append(lines, labelStyle.Render(f.label)+valueStyle.Render(f.value))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

func statusText(s types.ElectionStatus) string {
	color := warningColor
	switch s {
	case types.StatusApproved:
		color = accentColor
	case types.StatusRejected:
		color = dangerColor
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(s.String())
}

func validityText(valid bool) string {
	if valid {
		return lipgloss.NewStyle().Foreground(accentColor).Bold(true).Render("valid")
	}
	return lipgloss.NewStyle().Foreground(dangerColor).Bold(true).Render("invalid")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// emit prints v as indented JSON when --json is set, otherwise the styled form
func emit(v interface{}, styled func() string) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Println(styled())
	return nil
}

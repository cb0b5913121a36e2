package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders a series of scores as a block-character graph. Values
// are scaled against the 0..10 fitness range, not the series extremes, so
// successive frames stay comparable.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 {
		return strings.Repeat(" ", width)
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	var sb strings.Builder
	for _, v := range values {
		idx := int(v / 10.0 * float64(len(sparkRunes)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkRunes) {
			idx = len(sparkRunes) - 1
		}
		sb.WriteRune(sparkRunes[idx])
	}
	if pad := width - len(values); pad > 0 {
		sb.WriteString(strings.Repeat(" ", pad))
	}
	return sb.String()
}

// Dial renders the strategy indicator, highlighting the active mode.
func Dial(mode string, styles Styles) string {
	darwin := styles.Muted.Render("○ DARWIN")
	kropotkin := styles.Muted.Render("○ KROPOTKIN")
	switch mode {
	case "darwin":
		darwin = styles.Darwin.Render("● DARWIN")
	case "kropotkin":
		kropotkin = styles.Kropotkin.Render("● KROPOTKIN")
	}
	return darwin + "   " + kropotkin
}

// MetricCell renders one labeled metric inside a bordered card.
func MetricCell(label, value string, styles Styles) string {
	content := styles.CardTitle.Render(label) + "\n" + styles.Body.Render(value)
	return styles.Card.Render(content)
}

// SimpleTable is a small static table renderer.
type SimpleTable struct {
	Headers []string
	Rows    [][]string
}

// NewSimpleTable creates a table with the given headers.
func NewSimpleTable(headers ...string) *SimpleTable {
	return &SimpleTable{Headers: headers}
}

// AddRow appends a row.
func (t *SimpleTable) AddRow(row ...string) {
	t.Rows = append(t.Rows, row)
}

// View renders the table.
func (t *SimpleTable) View(styles Styles) string {
	colWidths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		colWidths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(colWidths) && lipgloss.Width(cell) > colWidths[i] {
				colWidths[i] = lipgloss.Width(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range t.Headers {
		sb.WriteString(styles.TableHeader.Render(padCell(h, colWidths[i])))
		if i < len(t.Headers)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(colWidths) {
				break
			}
			sb.WriteString(styles.TableRow.Render(padCell(cell, colWidths[i])))
			if i < len(row)-1 {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func padCell(s string, width int) string {
	if gap := width - lipgloss.Width(s); gap > 0 {
		return s + strings.Repeat(" ", gap)
	}
	return s
}

// FormatScore renders a fitness score, or a dash before first evaluation.
func FormatScore(scores []float64, i int) string {
	if i >= len(scores) {
		return "-"
	}
	return fmt.Sprintf("%.2f", scores[i])
}

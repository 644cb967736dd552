package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// NoData is the placeholder rendered for empty sections.
const NoData = "No data available"

// MarkdownTable renders at most limit rows of t as a GitHub flavoured
// Markdown table. A limit below zero renders every row.
func MarkdownTable(t *lakemon.Table, limit int) string {
	if t.Empty() {
		return "_" + NoData + "._\n"
	}
	return renderGrid(lipgloss.MarkdownBorder(), t.Columns, escapeCells(t.Head(limit).StringRows())) +
		more(t, limit)
}

// TextTable renders at most limit rows of t with an ASCII border.
func TextTable(t *lakemon.Table, limit int) string {
	if t.Empty() {
		return NoData + "\n"
	}
	return renderGrid(lipgloss.ASCIIBorder(), t.Columns, t.Head(limit).StringRows()) + more(t, limit)
}

// markdownGrid renders an ad hoc Markdown table.
func markdownGrid(headers []string, rows [][]string) string {
	return renderGrid(lipgloss.MarkdownBorder(), headers, escapeCells(rows))
}

func renderGrid(border lipgloss.Border, headers []string, rows [][]string) string {
	tbl := table.New().
		Border(border).
		BorderTop(false).
		BorderBottom(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(_, _ int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return tbl.String() + "\n"
}

func more(t *lakemon.Table, limit int) string {
	if limit < 0 || t.Len() <= limit {
		return ""
	}
	return fmt.Sprintf("... and %d more rows\n", t.Len()-limit)
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\n", " ")

func escapeCells(rows [][]string) [][]string {
	res := make([][]string, len(rows))
	for i, row := range rows {
		res[i] = make([]string, len(row))
		for j, cell := range row {
			res[i][j] = cellEscaper.Replace(cell)
		}
	}
	return res
}

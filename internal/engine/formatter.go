// Package engine implements the SAGE inference pipeline.
// This file shapes the outward answer: prose for the user plus the
// methodology block a reviewer needs to judge the result.
package engine

import (
	"fmt"
	"strings"

	"github.com/rshinytools/sage/internal/warehouse"
)

// maxInlineRows bounds the rows rendered into the prose answer.
const maxInlineRows = 10

// ResponseFormatter produces the outward answer text and methodology.
type ResponseFormatter struct{}

// NewResponseFormatter creates a response formatter.
func NewResponseFormatter() *ResponseFormatter {
	return &ResponseFormatter{}
}

// Methodology assembles the reviewer-facing decision summary.
func (f *ResponseFormatter) Methodology(resolution *TableResolution) *Methodology {
	if resolution == nil {
		return nil
	}
	assumptions := resolution.Assumptions
	if assumptions == nil {
		assumptions = []string{}
	}
	return &Methodology{
		TableUsed:        resolution.SelectedTable,
		PopulationUsed:   resolution.PopulationName,
		PopulationFilter: resolution.PopulationFilter,
		Assumptions:      assumptions,
	}
}

// Answer renders the prose answer for a successful execution. Single-value
// results read as a sentence; small result sets render as a markdown table;
// anything larger gets a summary line.
func (f *ResponseFormatter) Answer(question string, resolution *TableResolution, result *warehouse.Result) string {
	if result == nil || result.RowCount == 0 {
		return fmt.Sprintf("No matching records were found in %s (%s).",
			resolution.SelectedTable, f.populationPhrase(resolution))
	}

	if result.RowCount == 1 && len(result.Columns) == 1 {
		return fmt.Sprintf("**%v** — from %s, %s.",
			result.Rows[0][0], resolution.SelectedTable, f.populationPhrase(resolution))
	}

	if result.RowCount <= maxInlineRows {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Results from %s (%s):\n\n", resolution.SelectedTable, f.populationPhrase(resolution))
		sb.WriteString(markdownTable(result))
		return sb.String()
	}

	return fmt.Sprintf("Returned %d rows from %s (%s). The full result set is attached.",
		result.RowCount, resolution.SelectedTable, f.populationPhrase(resolution))
}

// populationPhrase renders the population for prose.
func (f *ResponseFormatter) populationPhrase(resolution *TableResolution) string {
	if resolution.PopulationFilter == "" {
		return "all enrolled subjects"
	}
	return resolution.PopulationName
}

// markdownTable renders a small result set as a markdown table.
func markdownTable(result *warehouse.Result) string {
	var sb strings.Builder

	sb.WriteString("| " + strings.Join(result.Columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(result.Columns)) + "\n")

	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = ""
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return sb.String()
}

// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package subcommands

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TableWriter renders aligned columns. A cell may span several lines; the
// row then grows to its tallest cell.
type TableWriter struct {
	headers []string
	rows    [][][]string
}

func NewTableWriter(headers []string) *TableWriter {
	return &TableWriter{headers: headers}
}

func (t *TableWriter) AddRow(columns ...any) {
	row := make([][]string, len(t.headers))
	for i := range row {
		if i < len(columns) {
			row[i] = strings.Split(fmt.Sprint(columns[i]), "\n")
		}
	}
	t.rows = append(t.rows, row)
}

func (t *TableWriter) Render(out io.Writer) {
	if len(t.headers) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			for _, line := range cell {
				widths[i] = max(widths[i], utf8.RuneCountInString(line))
			}
		}
	}

	t.renderLine(out, widths, t.headers)
	for _, row := range t.rows {
		height := 1
		for _, cell := range row {
			height = max(height, len(cell))
		}
		for n := range height {
			line := make([]string, len(row))
			for i, cell := range row {
				if n < len(cell) {
					line[i] = cell[n]
				}
			}
			t.renderLine(out, widths, line)
		}
	}
}

func (t *TableWriter) renderLine(out io.Writer, widths []int, cells []string) {
	var b strings.Builder
	for i, cell := range cells {
		b.WriteString(cell)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)+2))
		}
	}
	fmt.Fprintln(out, strings.TrimRight(b.String(), " "))
}

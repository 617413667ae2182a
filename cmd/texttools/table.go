package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// tableColumn describes one rendered column. A zero WidthMax leaves the
// column unbounded; wider cells wrap.
type tableColumn struct {
	Header     string
	AlignRight bool
	WidthMax   int
}

var (
	jobColumns = []tableColumn{
		{Header: "Job", WidthMax: 40},
		{Header: "Status", WidthMax: 12},
		{Header: "Inputs", AlignRight: true},
		{Header: "Batches", AlignRight: true},
		{Header: "Updated"},
		{Header: "Error", WidthMax: 48},
	}
	resultColumns = []tableColumn{
		{Header: "Item", AlignRight: true, WidthMax: 24},
		{Header: "Outcome"},
		{Header: "Value / Error", WidthMax: 72},
	}
)

func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.Header
		align := text.AlignLeft
		if col.AlignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    col.WidthMax,
		}
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

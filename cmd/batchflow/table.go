package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const (
	narrowColumnWidth = 32
	wideColumnWidth   = 60
)

// column describes one column of a batch, step, history or config table.
type column struct {
	title string
	align columnAlignment
	// status cells are coloured by their leading status word.
	status bool
	// wide columns hold paths and error detail.
	wide bool
}

func renderTable(columns []column, rows [][]string, colorize bool) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		cfg := table.ColumnConfig{
			Number:           i + 1,
			Align:            text.AlignLeft,
			AlignHeader:      text.AlignLeft,
			WidthMax:         narrowColumnWidth,
			WidthMaxEnforcer: text.WrapSoft,
		}
		if col.align == alignRight {
			cfg.Align = text.AlignRight
		}
		if col.wide {
			cfg.WidthMax = wideColumnWidth
		}
		if col.status && colorize {
			cfg.Transformer = func(value interface{}) string {
				return statusText(fmt.Sprint(value), true)
			}
		}
		configs[i] = cfg
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	return tw.Render()
}

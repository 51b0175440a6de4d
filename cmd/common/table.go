package common

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// KeyValueTable renders a two-column titled table.
func KeyValueTable(w io.Writer, title string, rows [][2]interface{}) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	for _, row := range rows {
		t.AppendRow(table.Row{row[0], row[1]})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
}

// Table renders rows under header.
func Table(w io.Writer, title string, header []interface{}, rows [][]interface{}) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if title != "" {
		t.SetTitle(title)
	}
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row(header))
	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}
	t.Render()
}

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/protocol/api"
)

func newTableWriter(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = false
	// Headers are column names and aggregate calls; print them as written.
	t.Style().Format.Header = text.FormatDefault
	return t
}

func renderResult(w io.Writer, res *api.Result, jsonOutput bool, elapsed time.Duration) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Maps())
	}

	t := newTableWriter(w)
	header := make(table.Row, len(res.Columns))
	for i, name := range res.Columns {
		header[i] = name
	}
	t.AppendHeader(header)
	for _, row := range res.Rows {
		out := make(table.Row, len(row))
		for i, v := range row {
			out[i] = v.String()
		}
		t.AppendRow(out)
	}
	t.Render()

	n := len(res.Rows)
	noun := "rows"
	if n == 1 {
		noun = "row"
	}
	_, err := fmt.Fprintf(w, "%d %s in set (%.3f sec)\n", n, noun, elapsed.Seconds())
	return err
}

func renderTables(w io.Writer, cat *catalog.Catalog, jsonOutput bool) error {
	tables := cat.Tables()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tables)
	}

	t := newTableWriter(w)
	t.AppendHeader(table.Row{"table", "oid", "columns", "key", "indexes"})
	for _, tbl := range tables {
		var cols, key, indexes []string
		for _, c := range tbl.Columns {
			cols = append(cols, c.Name+" "+c.Type.PgName())
		}
		for _, c := range tbl.KeyColumns() {
			key = append(key, c.Name+" "+c.Role.String())
		}
		for _, idx := range cat.Indexes(tbl.ID) {
			indexes = append(indexes, idx.Name)
		}
		t.AppendRow(table.Row{tbl.Name, tbl.ID.ObjectOID, strings.Join(cols, ", "), strings.Join(key, ", "), strings.Join(indexes, ", ")})
	}
	t.Render()
	return nil
}

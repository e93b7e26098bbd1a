package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
	"github.com/calvinalkan/jsonsql/pkg/recstore"
)

// Output formats for rows.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
)

var formats = []string{formatTable, formatJSON, formatCSV}

// objectJSON renders an ordered JSON object.
func objectJSON(cols []string, get func(string) jsonsql.Value) (string, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, col := range cols {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(col)
		if err != nil {
			return "", err
		}

		val, err := json.Marshal(get(col).Any())
		if err != nil {
			return "", fmt.Errorf("column %s: %w", col, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.String(), nil
}

// recordColumns orders a record's fields: id first, then sorted.
func recordColumns(rec recstore.Record) []string {
	cols := []string{}
	if _, ok := rec[recstore.IDField]; ok {
		cols = append(cols, recstore.IDField)
	}

	for _, k := range slices.Sorted(maps.Keys(rec)) {
		if k != recstore.IDField {
			cols = append(cols, k)
		}
	}

	return cols
}

func recordJSON(rec recstore.Record) (string, error) {
	return objectJSON(recordColumns(rec), func(col string) jsonsql.Value { return rec[col] })
}

// displayRow decodes stored cells unless raw is set.
func displayRow(row *jsonsql.Row, raw bool) func(string) jsonsql.Value {
	return func(col string) jsonsql.Value {
		v := row.Get(col)
		if raw {
			return v
		}

		if s, ok := v.AsString(); ok {
			return jsonsql.Decode(jsonsql.TextCell(s))
		}

		return v
	}
}

// writeRows prints query rows in the given format.
func writeRows(o *IO, format string, cols []string, rows []*jsonsql.Row, raw bool) error {
	switch format {
	case formatJSON:
		for _, row := range rows {
			line, err := objectJSON(cols, displayRow(row, raw))
			if err != nil {
				return err
			}

			o.Println(line)
		}

		return nil
	case formatCSV:
		w := csv.NewWriter(o.Out())

		err := w.Write(cols)
		if err != nil {
			return err
		}

		for _, row := range rows {
			get := displayRow(row, raw)

			rec := make([]string, len(cols))
			for i, col := range cols {
				rec[i] = get(col).String()
			}

			err := w.Write(rec)
			if err != nil {
				return err
			}
		}

		w.Flush()

		return w.Error()
	case formatTable:
		w := tabwriter.NewWriter(o.Out(), 0, 0, 2, ' ', 0)

		_, _ = fmt.Fprintln(w, strings.Join(cols, "\t"))

		for _, row := range rows {
			get := displayRow(row, raw)

			cells := make([]string, len(cols))
			for i, col := range cols {
				cells[i] = get(col).String()
			}

			_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
		}

		return w.Flush()
	default:
		return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(formats, ", "))
	}
}

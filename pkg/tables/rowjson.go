package tables

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

// appendRowObject appends row as a JSON object whose members keep the row's
// column order and whose values are cells (string or null).
func appendRowObject(buf *bytes.Buffer, row *jsonsql.Row) error {
	buf.WriteByte('{')

	for i, col := range row.Columns() {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(col)
		if err != nil {
			return err
		}

		cell, err := jsonsql.ToCell(row.Get(col))
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}

		val, err := cell.MarshalJSON()
		if err != nil {
			return err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return nil
}

// normalizeRow returns row with every value passed through the cell codec, so
// it reads back exactly as a file-backed backend would return it.
func normalizeRow(row *jsonsql.Row) (*jsonsql.Row, error) {
	out := jsonsql.NewRow()

	for _, col := range row.Columns() {
		cell, err := jsonsql.ToCell(row.Get(col))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}

		out.Set(col, jsonsql.FromCell(cell))
	}

	return out, nil
}

// normalizeTable applies [normalizeRow] to every row of t.
func normalizeTable(t *jsonsql.Table) (*jsonsql.Table, error) {
	out := jsonsql.NewTableWithColumns(t.Name(), t.Columns())

	for i, row := range t.Rows() {
		norm, err := normalizeRow(row)
		if err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", t.Name(), i, err)
		}

		err = out.Put(norm)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// encodeTableFile renders a table as a JSON array with one row per line.
func encodeTableFile(t *jsonsql.Table) ([]byte, error) {
	var buf bytes.Buffer

	rows := t.Rows()
	if len(rows) == 0 {
		return []byte("[]\n"), nil
	}

	buf.WriteString("[\n")

	for i, row := range rows {
		buf.WriteString("  ")

		err := appendRowObject(&buf, row)
		if err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", t.Name(), i, err)
		}

		if i < len(rows)-1 {
			buf.WriteByte(',')
		}

		buf.WriteByte('\n')
	}

	buf.WriteString("]\n")

	return buf.Bytes(), nil
}

// decodeRowObject reads one JSON object from dec, preserving member order.
func decodeRowObject(dec *json.Decoder) (*jsonsql.Row, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("row: want object, got %v", tok)
	}

	row := jsonsql.NewRow()

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		col, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("row: want column name, got %v", tok)
		}

		var cell jsonsql.Cell

		err = dec.Decode(&cell)
		if err != nil {
			return nil, fmt.Errorf("row column %s: %w", col, err)
		}

		row.Set(col, jsonsql.FromCell(cell))
	}

	_, err = dec.Token()
	if err != nil {
		return nil, err
	}

	return row, nil
}

// decodeRowJSON decodes a single row object held in data.
func decodeRowJSON(data []byte) (*jsonsql.Row, error) {
	return decodeRowObject(json.NewDecoder(bytes.NewReader(data)))
}

// decodeTableFile parses a table file into t.
func decodeTableFile(data []byte, t *jsonsql.Table) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil
	}

	if err != nil {
		return err
	}

	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("want array, got %v", tok)
	}

	for dec.More() {
		row, err := decodeRowObject(dec)
		if err != nil {
			return err
		}

		err = t.Insert(row)
		if err != nil {
			return err
		}
	}

	_, err = dec.Token()

	return err
}

package recstore

import (
	"fmt"
	"maps"
	"slices"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

// IDField is the identifier every stored record carries.
const IDField = jsonsql.IDColumn

// Record is one stored record: field name to value.
type Record map[string]jsonsql.Value

// ID returns the record's id, or "" when it has none.
func (r Record) ID() string {
	s, _ := r[IDField].AsString()

	return s
}

// Clone returns a shallow copy. Values are immutable, so it is also deep.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Equal reports whether both records hold the same fields with kind-strict
// equal values.
func (r Record) Equal(o Record) bool {
	return maps.EqualFunc(r, o, jsonsql.Value.Equal)
}

// Any converts the record to plain Go values, as for encoding/json.
func (r Record) Any() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v.Any()
	}

	return out
}

// RecordFromAny converts plain Go values (for example decoded JSON) into a
// Record.
func RecordFromAny(m map[string]any) (Record, error) {
	rec := make(Record, len(m))

	for k, x := range m {
		v, err := jsonsql.FromAny(x)
		if err != nil {
			return nil, &ValidationError{Field: k, Err: err}
		}

		rec[k] = v
	}

	return rec, nil
}

// Schema describes a collection to the store. Both fields are optional.
type Schema struct {
	// Validate rejects records before they are stored. Its error is reported
	// as a [*ValidationError].
	Validate func(Record) error

	// Fields is the preferred column order. Unlisted fields follow, sorted.
	Fields []string
}

// encodeRecord flattens rec into columns and cells: id first, then
// schema order, then the remaining fields sorted.
func encodeRecord(rec Record, order []string) ([]string, []jsonsql.Cell, error) {
	cols := make([]string, 0, len(rec))
	cols = append(cols, IDField)

	for _, f := range order {
		if _, ok := rec[f]; ok && !slices.Contains(cols, f) {
			cols = append(cols, f)
		}
	}

	for _, f := range slices.Sorted(maps.Keys(rec)) {
		if !slices.Contains(cols, f) {
			cols = append(cols, f)
		}
	}

	cells := make([]jsonsql.Cell, len(cols))

	for i, col := range cols {
		cell, err := jsonsql.Encode(rec[col])
		if err != nil {
			return nil, nil, &ValidationError{Field: col, Err: err}
		}

		cells[i] = cell
	}

	return cols, cells, nil
}

// decodeRow turns a stored row back into a Record. String cells go through
// the codec; other kinds were written by raw statements and are kept.
func decodeRow(row *jsonsql.Row) Record {
	rec := make(Record, row.Len())

	for _, col := range row.Columns() {
		v := row.Get(col)
		if s, ok := v.AsString(); ok {
			v = jsonsql.Decode(jsonsql.TextCell(s))
		}

		rec[col] = v
	}

	return rec
}

// idValue returns the stored form of an id as it appears in the id column.
func idValue(id string) (jsonsql.Value, error) {
	cell, err := jsonsql.Encode(jsonsql.String(id))
	if err != nil {
		return jsonsql.Value{}, fmt.Errorf("encode id: %w", err)
	}

	return jsonsql.String(cell.Text()), nil
}

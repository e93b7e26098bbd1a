package jsonsql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Cell is the stored text form of a [Value]: either null or a string.
//
// Cells are what table files hold. A Cell marshals to JSON null or a JSON
// string.
type Cell struct {
	text  string
	valid bool
}

// NullCell returns the null cell.
func NullCell() Cell { return Cell{} }

// TextCell returns a non-null cell holding s.
func TextCell(s string) Cell { return Cell{text: s, valid: true} }

func (c Cell) IsNull() bool { return !c.valid }

// Text returns the cell text. It is empty for the null cell.
func (c Cell) Text() string { return c.text }

func (c Cell) MarshalJSON() ([]byte, error) {
	if !c.valid {
		return []byte("null"), nil
	}

	return []byte(quoteJSON(c.text)), nil
}

// UnmarshalJSON accepts null and strings. Other scalars and nested JSON are
// kept as their compact source text, so hand-edited files stay readable.
func (c *Cell) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*c = NullCell()

		return nil
	case len(data) > 0 && data[0] == '"':
		var s string

		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}

		*c = TextCell(s)

		return nil
	}

	var buf bytes.Buffer

	err := json.Compact(&buf, data)
	if err != nil {
		return err
	}

	*c = TextCell(buf.String())

	return nil
}

// Encode converts v to its stored cell.
//
// Rules:
//   - null is the null cell, never the empty string
//   - bool and int use their JSON text
//   - floats always carry a fraction or exponent ("3.0", "1e+21") so they
//     decode as floats again
//   - a string is stored as itself unless its text would parse as JSON, in
//     which case it is stored as a JSON string literal
//   - lists and maps are canonical compact JSON with sorted keys
//
// NaN and infinities cannot be stored and return [ErrUnsupportedValue].
func Encode(v Value) (Cell, error) {
	switch v.kind {
	case KindNull:
		return NullCell(), nil
	case KindString:
		if json.Valid([]byte(v.s)) {
			return TextCell(quoteJSON(v.s)), nil
		}

		return TextCell(v.s), nil
	}

	var sb strings.Builder

	err := writeJSON(&sb, v)
	if err != nil {
		return Cell{}, err
	}

	return TextCell(sb.String()), nil
}

// Decode converts a stored cell back into a [Value].
//
// The full cell text is parsed as JSON. Numbers without a fraction or exponent
// become ints. Text that is not a single JSON document is returned as a string.
func Decode(c Cell) Value {
	if !c.valid {
		return Null()
	}

	v, ok := parseJSON(c.text)
	if !ok {
		return String(c.text)
	}

	return v
}

// ToCell converts a row value into the cell a table file stores.
//
// String values are stored verbatim: rows written through the record layer
// already hold encoded cell text. Every other kind goes through [Encode].
func ToCell(v Value) (Cell, error) {
	if v.kind == KindString {
		return TextCell(v.s), nil
	}

	return Encode(v)
}

// FromCell is the inverse of [ToCell] for loading rows: null cells become null
// and everything else a string.
func FromCell(c Cell) Value {
	if !c.valid {
		return Null()
	}

	return String(c.text)
}

// Text returns the codec text of v as it compares inside predicates: strings
// are their own text, everything else is its encoded cell.
func Text(v Value) (string, bool) {
	if v.kind == KindString {
		return v.s, true
	}

	c, err := Encode(v)
	if err != nil || c.IsNull() {
		return "", false
	}

	return c.text, true
}

func parseJSON(text string) (Value, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var x any

	err := dec.Decode(&x)
	if err != nil {
		return Value{}, false
	}

	_, err = dec.Token()
	if !errors.Is(err, io.EOF) {
		return Value{}, false
	}

	v, err := FromAny(x)
	if err != nil {
		return Value{}, false
	}

	return v, true
}

func numberValue(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return Int(i), nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: number %q: %w", ErrUnsupportedValue, s, err)
	}

	return Float(f), nil
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}

	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}

	return s, nil
}

func quoteJSON(s string) string {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Encoding a string cannot fail.
	_ = enc.Encode(s)

	return strings.TrimSuffix(buf.String(), "\n")
}

// writeJSON writes the canonical compact JSON form of v. It exists instead of
// json.Marshal so nested floats keep their fraction and keys stay sorted.
func writeJSON(w *strings.Builder, v Value) error {
	switch v.kind {
	case KindNull:
		w.WriteString("null")
	case KindBool:
		w.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		w.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		s, err := formatFloat(v.f)
		if err != nil {
			return err
		}

		w.WriteString(s)
	case KindString:
		w.WriteString(quoteJSON(v.s))
	case KindList:
		w.WriteByte('[')

		for i, item := range v.l {
			if i > 0 {
				w.WriteByte(',')
			}

			err := writeJSON(w, item)
			if err != nil {
				return err
			}
		}

		w.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}

		slices.Sort(keys)

		w.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				w.WriteByte(',')
			}

			w.WriteString(quoteJSON(k))
			w.WriteByte(':')

			err := writeJSON(w, v.m[k])
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}

		w.WriteByte('}')
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, v.kind)
	}

	return nil
}

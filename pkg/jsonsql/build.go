package jsonsql

import (
	"regexp"
	"strings"
)

var bareIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdent renders name as a double-quoted identifier. Embedded double
// quotes are doubled. Quoted identifiers are never read as keywords.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// NeedsQuoting reports whether name cannot be written as a bare identifier,
// either because of its characters or because it is a keyword.
func NeedsQuoting(name string) bool {
	return !bareIdent.MatchString(name) || IsKeyword(name)
}

// QuoteString renders s as a single-quoted string literal.
func QuoteString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// Literal renders v as statement text that parses back to v.
//
// Lists and maps have no literal syntax. They are rendered as a string literal
// of their encoded cell, which is how the record layer stores them anyway.
func Literal(v Value) (string, error) {
	switch v.kind {
	case KindNull:
		return "NULL", nil
	case KindBool:
		if v.b {
			return "TRUE", nil
		}

		return "FALSE", nil
	case KindString:
		return QuoteString(v.s), nil
	}

	c, err := Encode(v)
	if err != nil {
		return "", err
	}

	if v.kind == KindInt || v.kind == KindFloat {
		return c.text, nil
	}

	return QuoteString(c.text), nil
}

// CellLiteral renders a stored cell as a literal: NULL or a string literal.
func CellLiteral(c Cell) string {
	if c.IsNull() {
		return "NULL"
	}

	return QuoteString(c.text)
}

// BuildSelect renders a SELECT. Nil cols selects "*". A nil where selects every
// row.
func BuildSelect(table string, cols []string, where *Predicate) (string, error) {
	var sb strings.Builder

	sb.WriteString("SELECT ")

	if cols == nil {
		sb.WriteString("*")
	} else {
		writeIdentList(&sb, cols)
	}

	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdent(table))

	err := writeWhere(&sb, where)
	if err != nil {
		return "", err
	}

	return sb.String(), nil
}

// BuildInsert renders an INSERT of cells, in column order.
func BuildInsert(table string, cols []string, cells []Cell) string {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(QuoteIdent(table))
	sb.WriteString(" (")
	writeIdentList(&sb, cols)
	sb.WriteString(") VALUES (")

	for i, c := range cells {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString(CellLiteral(c))
	}

	sb.WriteString(")")

	return sb.String()
}

// BuildUpdate renders an UPDATE assigning cells to cols.
func BuildUpdate(table string, cols []string, cells []Cell, where *Predicate) (string, error) {
	var sb strings.Builder

	sb.WriteString("UPDATE ")
	sb.WriteString(QuoteIdent(table))
	sb.WriteString(" SET ")

	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString(QuoteIdent(col))
		sb.WriteString(" = ")
		sb.WriteString(CellLiteral(cells[i]))
	}

	err := writeWhere(&sb, where)
	if err != nil {
		return "", err
	}

	return sb.String(), nil
}

// BuildDelete renders a DELETE.
func BuildDelete(table string, where *Predicate) (string, error) {
	var sb strings.Builder

	sb.WriteString("DELETE FROM ")
	sb.WriteString(QuoteIdent(table))

	err := writeWhere(&sb, where)
	if err != nil {
		return "", err
	}

	return sb.String(), nil
}

// ColumnEquals returns the predicate column = v.
func ColumnEquals(column string, v Value) *Predicate {
	return &Predicate{Left: IdentOperand(column), Right: LiteralOperand(v)}
}

func writeIdentList(sb *strings.Builder, names []string) {
	for i, n := range names {
		if i > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString(QuoteIdent(n))
	}
}

func writeWhere(sb *strings.Builder, where *Predicate) error {
	if where == nil {
		return nil
	}

	left, err := operandText(where.Left)
	if err != nil {
		return err
	}

	right, err := operandText(where.Right)
	if err != nil {
		return err
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(left)
	sb.WriteString(" = ")
	sb.WriteString(right)

	return nil
}

func operandText(o Operand) (string, error) {
	if o.IsIdent {
		return QuoteIdent(o.Ident), nil
	}

	return Literal(o.Literal)
}

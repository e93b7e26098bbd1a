package jsonsql

import "strconv"

// Parse parses one statement. A single trailing semicolon is allowed.
//
// Errors are always [*ParseError].
func Parse(src string) (Statement, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}

	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}

	if p.peekSymbol(";") {
		p.next()
	}

	if p.peek().kind != tokEOF {
		return nil, p.fail("end of statement")
	}

	return stmt, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}

	return t
}

func (p *parser) fail(expected string) error {
	t := p.peek()

	return &ParseError{Pos: t.pos, Token: t.describe(), Expected: expected}
}

func (p *parser) peekKeyword(kw string) bool {
	t := p.peek()

	return t.kind == tokKeyword && t.text == kw
}

func (p *parser) peekSymbol(sym string) bool {
	t := p.peek()

	return t.kind == tokSymbol && t.text == sym
}

func (p *parser) keyword(kw string) error {
	if !p.peekKeyword(kw) {
		return p.fail(kw)
	}

	p.next()

	return nil
}

func (p *parser) symbol(sym string) error {
	if !p.peekSymbol(sym) {
		return p.fail("'" + sym + "'")
	}

	p.next()

	return nil
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", p.fail("identifier")
	}

	p.next()

	return t.text, nil
}

func (p *parser) statement() (Statement, error) {
	switch {
	case p.peekKeyword("SELECT"):
		return p.selectStmt()
	case p.peekKeyword("INSERT"):
		return p.insertStmt()
	case p.peekKeyword("UPDATE"):
		return p.updateStmt()
	case p.peekKeyword("DELETE"):
		return p.deleteStmt()
	}

	return nil, p.fail("SELECT, INSERT, UPDATE or DELETE")
}

func (p *parser) selectStmt() (*SelectStmt, error) {
	p.next()

	stmt := &SelectStmt{}

	if p.peekSymbol("*") {
		p.next()
	} else {
		cols, err := p.identList()
		if err != nil {
			return nil, err
		}

		stmt.Columns = cols
	}

	err := p.keyword("FROM")
	if err != nil {
		return nil, err
	}

	stmt.Table, err = p.ident()
	if err != nil {
		return nil, err
	}

	stmt.Where, err = p.optionalWhere()
	if err != nil {
		return nil, err
	}

	if p.peekKeyword("ORDER") {
		p.next()

		err = p.keyword("BY")
		if err != nil {
			return nil, err
		}

		stmt.OrderBy, err = p.orderTerms()
		if err != nil {
			return nil, err
		}
	}

	if p.peekKeyword("LIMIT") {
		p.next()

		n, err := p.count()
		if err != nil {
			return nil, err
		}

		stmt.Limit = &n

		if p.peekKeyword("OFFSET") {
			p.next()

			stmt.Offset, err = p.count()
			if err != nil {
				return nil, err
			}
		}
	}

	return stmt, nil
}

func (p *parser) insertStmt() (*InsertStmt, error) {
	p.next()

	err := p.keyword("INTO")
	if err != nil {
		return nil, err
	}

	stmt := &InsertStmt{}

	stmt.Table, err = p.ident()
	if err != nil {
		return nil, err
	}

	err = p.symbol("(")
	if err != nil {
		return nil, err
	}

	colsAt := p.peek()

	stmt.Columns, err = p.identList()
	if err != nil {
		return nil, err
	}

	err = p.symbol(")")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(stmt.Columns))
	for _, c := range stmt.Columns {
		if _, dup := seen[c]; dup {
			return nil, &ParseError{Pos: colsAt.pos, Token: QuoteIdent(c), Expected: "distinct column names"}
		}

		seen[c] = struct{}{}
	}

	err = p.keyword("VALUES")
	if err != nil {
		return nil, err
	}

	err = p.symbol("(")
	if err != nil {
		return nil, err
	}

	valuesAt := p.peek()

	for {
		v, err := p.literal()
		if err != nil {
			return nil, err
		}

		stmt.Values = append(stmt.Values, v)

		if !p.peekSymbol(",") {
			break
		}

		p.next()
	}

	err = p.symbol(")")
	if err != nil {
		return nil, err
	}

	if len(stmt.Values) != len(stmt.Columns) {
		return nil, &ParseError{
			Pos:      valuesAt.pos,
			Token:    strconv.Itoa(len(stmt.Values)) + " values",
			Expected: strconv.Itoa(len(stmt.Columns)) + " values",
		}
	}

	return stmt, nil
}

func (p *parser) updateStmt() (*UpdateStmt, error) {
	p.next()

	stmt := &UpdateStmt{}

	var err error

	stmt.Table, err = p.ident()
	if err != nil {
		return nil, err
	}

	err = p.keyword("SET")
	if err != nil {
		return nil, err
	}

	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}

		err = p.symbol("=")
		if err != nil {
			return nil, err
		}

		v, err := p.literal()
		if err != nil {
			return nil, err
		}

		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: v})

		if !p.peekSymbol(",") {
			break
		}

		p.next()
	}

	stmt.Where, err = p.optionalWhere()
	if err != nil {
		return nil, err
	}

	return stmt, nil
}

func (p *parser) deleteStmt() (*DeleteStmt, error) {
	p.next()

	err := p.keyword("FROM")
	if err != nil {
		return nil, err
	}

	stmt := &DeleteStmt{}

	stmt.Table, err = p.ident()
	if err != nil {
		return nil, err
	}

	stmt.Where, err = p.optionalWhere()
	if err != nil {
		return nil, err
	}

	return stmt, nil
}

func (p *parser) identList() ([]string, error) {
	var out []string

	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}

		out = append(out, name)

		if !p.peekSymbol(",") {
			return out, nil
		}

		p.next()
	}
}

func (p *parser) orderTerms() ([]OrderTerm, error) {
	var out []OrderTerm

	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}

		term := OrderTerm{Column: col}

		switch {
		case p.peekKeyword("ASC"):
			p.next()
		case p.peekKeyword("DESC"):
			p.next()

			term.Desc = true
		}

		out = append(out, term)

		if !p.peekSymbol(",") {
			return out, nil
		}

		p.next()
	}
}

func (p *parser) optionalWhere() (*Predicate, error) {
	if !p.peekKeyword("WHERE") {
		return nil, nil
	}

	p.next()

	left, err := p.operand()
	if err != nil {
		return nil, err
	}

	err = p.symbol("=")
	if err != nil {
		return nil, err
	}

	right, err := p.operand()
	if err != nil {
		return nil, err
	}

	return &Predicate{Left: left, Right: right}, nil
}

func (p *parser) operand() (Operand, error) {
	if p.peek().kind == tokIdent {
		name, _ := p.ident()

		return IdentOperand(name), nil
	}

	v, err := p.literal()
	if err != nil {
		return Operand{}, p.fail("identifier or literal")
	}

	return LiteralOperand(v), nil
}

func (p *parser) literal() (Value, error) {
	t := p.peek()

	switch {
	case t.kind == tokString:
		p.next()

		return String(t.text), nil
	case t.kind == tokNumber:
		v, err := numberValue(t.text)
		if err != nil {
			return Value{}, p.fail("number")
		}

		p.next()

		return v, nil
	case t.kind == tokKeyword && t.text == "NULL":
		p.next()

		return Null(), nil
	case t.kind == tokKeyword && t.text == "TRUE":
		p.next()

		return Bool(true), nil
	case t.kind == tokKeyword && t.text == "FALSE":
		p.next()

		return Bool(false), nil
	}

	return Value{}, p.fail("literal")
}

func (p *parser) count() (int, error) {
	t := p.peek()
	if t.kind != tokNumber {
		return 0, p.fail("non-negative integer")
	}

	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, p.fail("non-negative integer")
	}

	p.next()

	return n, nil
}

package jsonsql

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Vars are caller-supplied variables that predicates may reference by name.
type Vars map[string]Value

// Option configures an [Evaluator].
type Option func(*Evaluator)

// BindVariablesOnly makes predicates resolve identifiers only against the
// caller's [Vars], ignoring the row under test. Referencing a column then fails
// with [*BindingError].
//
// This mirrors engines that cannot bind row-local names, and lets callers test
// their fallback path for such engines.
func BindVariablesOnly() Option {
	return func(e *Evaluator) { e.varsOnly = true }
}

// Evaluator applies statements to snapshots. It holds no state besides its
// options and is safe for concurrent use.
type Evaluator struct {
	varsOnly bool
}

// NewEvaluator returns an evaluator with the given options.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SupportsRowLocalPredicateBinding reports whether a WHERE clause can compare
// a row's own column, as in WHERE "id" = 'x'. When false, callers must select
// all rows and filter themselves.
func (e *Evaluator) SupportsRowLocalPredicateBinding() bool {
	return !e.varsOnly
}

// Result is the outcome of one statement.
type Result struct {
	// Columns is the SELECT projection: the listed columns, or every column of
	// the table for "*". Empty for other statements.
	Columns []string

	// Rows holds SELECT results. They are copies owned by the caller.
	Rows []*Row

	// Affected is the number of rows inserted, updated or deleted.
	Affected int

	// Snapshot is the snapshot after the statement. For SELECT it is the input
	// snapshot. For mutating statements it is a successor; the input is never
	// modified.
	Snapshot *Snapshot
}

// Query parses src and executes it.
func (e *Evaluator) Query(src string, snap *Snapshot, vars Vars) (Result, error) {
	stmt, err := Parse(src)
	if err != nil {
		return Result{}, err
	}

	return e.Exec(stmt, snap, vars)
}

// Exec executes a parsed statement against snap.
func (e *Evaluator) Exec(stmt Statement, snap *Snapshot, vars Vars) (Result, error) {
	if snap == nil {
		snap = NewSnapshot()
	}

	switch s := stmt.(type) {
	case *SelectStmt:
		return e.execSelect(s, snap, vars)
	case *InsertStmt:
		return e.execInsert(s, snap)
	case *UpdateStmt:
		return e.execUpdate(s, snap, vars)
	case *DeleteStmt:
		return e.execDelete(s, snap, vars)
	}

	return Result{}, fmt.Errorf("unsupported statement %T", stmt)
}

func (e *Evaluator) execSelect(s *SelectStmt, snap *Snapshot, vars Vars) (Result, error) {
	res := Result{Snapshot: snap, Columns: slices.Clone(s.Columns)}

	t, ok := snap.Table(s.Table)
	if !ok {
		return res, nil
	}

	if s.Columns == nil {
		res.Columns = t.Columns()
	}

	matched, err := e.filter(t.rows, s.Where, vars)
	if err != nil {
		return Result{}, err
	}

	if len(s.OrderBy) > 0 {
		slices.SortStableFunc(matched, func(a, b *Row) int {
			for _, term := range s.OrderBy {
				c := compareValues(a.Get(term.Column), b.Get(term.Column))
				if term.Desc {
					c = -c
				}

				if c != 0 {
					return c
				}
			}

			return 0
		})
	}

	matched = window(matched, s.Offset, s.Limit)

	res.Rows = make([]*Row, len(matched))
	for i, r := range matched {
		if s.Columns == nil {
			res.Rows[i] = r.Clone()
		} else {
			res.Rows[i] = r.Project(s.Columns)
		}
	}

	return res, nil
}

func (e *Evaluator) execInsert(s *InsertStmt, snap *Snapshot) (Result, error) {
	next := snap.Fork()

	err := next.Edit(s.Table).Insert(RowOf(s.Columns, s.Values))
	if err != nil {
		return Result{}, err
	}

	return Result{Snapshot: next, Affected: 1}, nil
}

func (e *Evaluator) execUpdate(s *UpdateStmt, snap *Snapshot, vars Vars) (Result, error) {
	next := snap.Fork()

	t, ok := snap.Table(s.Table)
	if !ok {
		return Result{Snapshot: next}, nil
	}

	rows := make([]*Row, len(t.rows))
	affected := 0

	for i, r := range t.rows {
		hit, err := e.matches(s.Where, r, vars)
		if err != nil {
			return Result{}, err
		}

		if !hit {
			rows[i] = r

			continue
		}

		updated := r.Clone()
		for _, a := range s.Set {
			updated.Set(a.Column, a.Value)
		}

		rows[i] = updated
		affected++
	}

	if affected == 0 {
		return Result{Snapshot: next}, nil
	}

	err := next.Edit(s.Table).replaceRows(rows)
	if err != nil {
		return Result{}, err
	}

	return Result{Snapshot: next, Affected: affected}, nil
}

func (e *Evaluator) execDelete(s *DeleteStmt, snap *Snapshot, vars Vars) (Result, error) {
	next := snap.Fork()

	t, ok := snap.Table(s.Table)
	if !ok {
		return Result{Snapshot: next}, nil
	}

	keep := make([]*Row, 0, len(t.rows))

	for _, r := range t.rows {
		hit, err := e.matches(s.Where, r, vars)
		if err != nil {
			return Result{}, err
		}

		if !hit {
			keep = append(keep, r)
		}
	}

	removed := len(t.rows) - len(keep)
	if removed == 0 {
		return Result{Snapshot: next}, nil
	}

	err := next.Edit(s.Table).replaceRows(keep)
	if err != nil {
		return Result{}, err
	}

	return Result{Snapshot: next, Affected: removed}, nil
}

func (e *Evaluator) filter(rows []*Row, where *Predicate, vars Vars) ([]*Row, error) {
	out := make([]*Row, 0, len(rows))

	for _, r := range rows {
		hit, err := e.matches(where, r, vars)
		if err != nil {
			return nil, err
		}

		if hit {
			out = append(out, r)
		}
	}

	return out, nil
}

func (e *Evaluator) matches(where *Predicate, row *Row, vars Vars) (bool, error) {
	if where == nil {
		return true, nil
	}

	left, err := e.resolve(where.Left, row, vars)
	if err != nil {
		return false, err
	}

	right, err := e.resolve(where.Right, row, vars)
	if err != nil {
		return false, err
	}

	return Equivalent(left, right), nil
}

// resolve binds an operand: the row's own column first, then a caller
// variable, then null.
func (e *Evaluator) resolve(o Operand, row *Row, vars Vars) (Value, error) {
	if !o.IsIdent {
		return o.Literal, nil
	}

	if !e.varsOnly && row.Has(o.Ident) {
		return row.Get(o.Ident), nil
	}

	if v, ok := vars[o.Ident]; ok {
		return v, nil
	}

	if e.varsOnly {
		return Value{}, &BindingError{Name: o.Ident}
	}

	return Null(), nil
}

// Equivalent is the equality used by predicates.
//
// Null equals only null. A string equals any value whose codec text is that
// string, since stored cells are text. Ints and floats compare numerically.
// Everything else is kind-strict.
func Equivalent(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}

	if a.Equal(b) {
		return true
	}

	if a.kind == KindString || b.kind == KindString {
		at, aok := Text(a)
		bt, bok := Text(b)

		return aok && bok && at == bt
	}

	af, aok := numeric(a)
	bf, bok := numeric(b)

	return aok && bok && af == bf
}

// compareValues orders values for ORDER BY. Null sorts first. String cells are
// decoded first so numbers stored as text order numerically.
func compareValues(a, b Value) int {
	a, b = sortKey(a), sortKey(b)

	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	}

	ai, aInt := a.AsInt()
	bi, bInt := b.AsInt()

	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}

	af, aok := numeric(a)
	bf, bok := numeric(b)

	if aok && bok {
		return cmp.Compare(af, bf)
	}

	at, _ := Text(a)
	bt, _ := Text(b)

	return strings.Compare(at, bt)
}

func sortKey(v Value) Value {
	if s, ok := v.AsString(); ok {
		return Decode(TextCell(s))
	}

	return v
}

func numeric(v Value) (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}

	return 0, false
}

func window(rows []*Row, offset int, limit *int) []*Row {
	if offset >= len(rows) {
		return nil
	}

	rows = rows[offset:]

	if limit != nil && *limit < len(rows) {
		rows = rows[:*limit]
	}

	return rows
}

package jsonsql

import (
	"fmt"
	"maps"
	"slices"
)

// Row is an ordered mapping from column name to [Value].
//
// Reading a column the row does not have yields null.
type Row struct {
	cols []string
	vals map[string]Value
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{vals: map[string]Value{}}
}

// RowOf builds a row from parallel column and value slices.
func RowOf(cols []string, vals []Value) *Row {
	r := NewRow()
	for i, c := range cols {
		r.Set(c, vals[i])
	}

	return r
}

// Get returns the value of col, or null when the row lacks it.
func (r *Row) Get(col string) Value {
	return r.vals[col]
}

// Has reports whether the row carries col, even with a null value.
func (r *Row) Has(col string) bool {
	_, ok := r.vals[col]

	return ok
}

// Set assigns col. New columns are appended to the row's column order.
func (r *Row) Set(col string, v Value) {
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}

	r.vals[col] = v
}

// Columns returns the row's columns in first-set order.
func (r *Row) Columns() []string {
	return slices.Clone(r.cols)
}

func (r *Row) Len() int { return len(r.cols) }

// Clone returns a copy of r that shares no mutable state with it.
func (r *Row) Clone() *Row {
	return &Row{cols: slices.Clone(r.cols), vals: maps.Clone(r.vals)}
}

// renamed returns a copy of r with column from renamed to to, in place.
func (r *Row) renamed(from, to string) *Row {
	out := NewRow()
	for _, c := range r.cols {
		name := c
		if c == from {
			name = to
		}

		out.Set(name, r.vals[c])
	}

	return out
}

// without returns a copy of r lacking col.
func (r *Row) without(col string) *Row {
	out := NewRow()
	for _, c := range r.cols {
		if c != col {
			out.Set(c, r.vals[c])
		}
	}

	return out
}

// Project returns a row holding cols in the given order. Missing columns are
// present as null.
func (r *Row) Project(cols []string) *Row {
	out := NewRow()
	for _, c := range cols {
		out.Set(c, r.Get(c))
	}

	return out
}

// Equal reports whether both rows hold the same columns in the same order with
// kind-strict equal values.
func (r *Row) Equal(o *Row) bool {
	if !slices.Equal(r.cols, o.cols) {
		return false
	}

	return maps.EqualFunc(r.vals, o.vals, Value.Equal)
}

// idKey returns the text rows are keyed by. Lenient equality means Int(5) and
// String("5") are the same id.
func idKey(v Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}

	return Text(v)
}

// Table is a named collection of rows in insertion order, unique by id.
type Table struct {
	name    string
	columns []string
	rows    []*Row
	index   map[string]int
}

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{name: name, index: map[string]int{}}
}

// NewTableWithColumns returns an empty table that already knows cols. Backends
// use it to restore the column order of tables with no rows.
func NewTableWithColumns(name string, cols []string) *Table {
	t := NewTable(name)
	t.addColumns(cols)

	return t
}

func (t *Table) Name() string { return t.name }

// Columns returns the union of all columns ever written, in first-seen order.
func (t *Table) Columns() []string { return slices.Clone(t.columns) }

func (t *Table) Len() int { return len(t.rows) }

// Rows returns the rows in insertion order. Rows are shared with the table and
// must not be modified.
func (t *Table) Rows() []*Row { return slices.Clone(t.rows) }

// Lookup returns the row whose id equals id.
func (t *Table) Lookup(id Value) (*Row, bool) {
	key, ok := idKey(id)
	if !ok {
		return nil, false
	}

	i, ok := t.index[key]
	if !ok {
		return nil, false
	}

	return t.rows[i], true
}

// Insert appends row. It fails with [*ConstraintError] when the row has no id
// or its id is taken.
func (t *Table) Insert(row *Row) error {
	key, ok := idKey(row.Get(IDColumn))
	if !ok {
		return &ConstraintError{Table: t.name, Err: ErrMissingID}
	}

	if _, dup := t.index[key]; dup {
		return &ConstraintError{Table: t.name, ID: key, Err: ErrDuplicateID}
	}

	t.index[key] = len(t.rows)
	t.rows = append(t.rows, row)
	t.addColumns(row.cols)

	return nil
}

// Put replaces the row with the same id in place, or appends it.
func (t *Table) Put(row *Row) error {
	key, ok := idKey(row.Get(IDColumn))
	if !ok {
		return &ConstraintError{Table: t.name, Err: ErrMissingID}
	}

	i, exists := t.index[key]
	if !exists {
		return t.Insert(row)
	}

	t.rows[i] = row
	t.addColumns(row.cols)

	return nil
}

// Remove deletes the row with the given id and reports whether it existed.
func (t *Table) Remove(id Value) bool {
	key, ok := idKey(id)
	if !ok {
		return false
	}

	i, ok := t.index[key]
	if !ok {
		return false
	}

	t.rows = slices.Delete(t.rows, i, i+1)
	t.reindex()

	return true
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	out := &Table{
		name:    t.name,
		columns: slices.Clone(t.columns),
		rows:    make([]*Row, len(t.rows)),
		index:   maps.Clone(t.index),
	}

	for i, r := range t.rows {
		out.rows[i] = r.Clone()
	}

	return out
}

// AddColumn declares col without writing it to any row.
func (t *Table) AddColumn(col string) error {
	if slices.Contains(t.columns, col) {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, col)
	}

	t.columns = append(t.columns, col)

	return nil
}

// RenameColumn renames a column in the column list and in every row, keeping
// its position.
func (t *Table) RenameColumn(from, to string) error {
	if from == IDColumn || to == IDColumn {
		return fmt.Errorf("%w: %s", ErrIDColumn, t.name)
	}

	i := slices.Index(t.columns, from)
	if i < 0 {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, t.name, from)
	}

	if slices.Contains(t.columns, to) {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, t.name, to)
	}

	t.columns[i] = to

	for j, r := range t.rows {
		if r.Has(from) {
			t.rows[j] = r.renamed(from, to)
		}
	}

	return nil
}

// DropColumn removes col from the column list and from every row.
func (t *Table) DropColumn(col string) error {
	if col == IDColumn {
		return fmt.Errorf("%w: %s", ErrIDColumn, t.name)
	}

	i := slices.Index(t.columns, col)
	if i < 0 {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, t.name, col)
	}

	t.columns = slices.Delete(t.columns, i, i+1)

	for j, r := range t.rows {
		if r.Has(col) {
			t.rows[j] = r.without(col)
		}
	}

	return nil
}

// replaceRows swaps in a new row set, checking id uniqueness. On error t is
// unchanged.
func (t *Table) replaceRows(rows []*Row) error {
	index := make(map[string]int, len(rows))

	for i, r := range rows {
		key, ok := idKey(r.Get(IDColumn))
		if !ok {
			return &ConstraintError{Table: t.name, Err: ErrMissingID}
		}

		if _, dup := index[key]; dup {
			return &ConstraintError{Table: t.name, ID: key, Err: ErrDuplicateID}
		}

		index[key] = i
	}

	t.rows = rows
	t.index = index

	for _, r := range rows {
		t.addColumns(r.cols)
	}

	return nil
}

func (t *Table) reindex() {
	clear(t.index)

	for i, r := range t.rows {
		if key, ok := idKey(r.Get(IDColumn)); ok {
			t.index[key] = i
		}
	}
}

func (t *Table) addColumns(cols []string) {
	for _, c := range cols {
		if !slices.Contains(t.columns, c) {
			t.columns = append(t.columns, c)
		}
	}
}

// Snapshot is the set of tables a statement is evaluated against.
//
// A snapshot remembers which tables were changed since it was loaded; backends
// commit only those. Tables reachable from a snapshot are treated as
// immutable: [Snapshot.Edit] clones a table before handing it out for writing.
type Snapshot struct {
	tables  map[string]*Table
	changed map[string]struct{}
	owned   map[string]struct{}
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		tables:  map[string]*Table{},
		changed: map[string]struct{}{},
		owned:   map[string]struct{}{},
	}
}

// Table returns the named table for reading.
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.tables[name]

	return t, ok
}

// Names returns all table names, sorted.
func (s *Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s.tables))
}

// Changed returns the names of tables changed since load, sorted.
func (s *Snapshot) Changed() []string {
	return slices.Sorted(maps.Keys(s.changed))
}

// IsChanged reports whether name was changed since load.
func (s *Snapshot) IsChanged(name string) bool {
	_, ok := s.changed[name]

	return ok
}

// Add installs t as a loaded table, not marked changed. Backends use it while
// building the snapshot they return from Load.
func (s *Snapshot) Add(t *Table) {
	s.tables[t.name] = t
	s.owned[t.name] = struct{}{}
}

// Replace installs t, replacing any table of the same name, and marks it
// changed. The snapshot takes ownership of t.
func (s *Snapshot) Replace(t *Table) {
	s.tables[t.name] = t
	s.owned[t.name] = struct{}{}
	s.changed[t.name] = struct{}{}
}

// Drop removes the named table. A dropped table is not reported as changed;
// removing tables is a backend operation, not a statement.
func (s *Snapshot) Drop(name string) {
	delete(s.tables, name)
	delete(s.owned, name)
	delete(s.changed, name)
}

// Rename moves table from to the name to and marks the new name changed.
// The old name is gone from the snapshot, but Commit never removes tables, so
// callers clear the old name in the backend after committing.
func (s *Snapshot) Rename(from, to string) error {
	t, ok := s.tables[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchTable, from)
	}

	if _, ok := s.tables[to]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, to)
	}

	renamed := t.Clone()
	renamed.name = to

	s.Drop(from)
	s.Replace(renamed)

	return nil
}

// Edit returns a writable copy of the named table, creating it when missing,
// and marks it changed. Repeated calls return the same copy.
func (s *Snapshot) Edit(name string) *Table {
	if _, ok := s.owned[name]; ok {
		s.changed[name] = struct{}{}

		return s.tables[name]
	}

	t, ok := s.tables[name]
	if ok {
		t = t.Clone()
	} else {
		t = NewTable(name)
	}

	s.tables[name] = t
	s.owned[name] = struct{}{}
	s.changed[name] = struct{}{}

	return t
}

// Fork returns a snapshot sharing s's tables. Editing a table in the fork
// clones it first, so s never observes the fork's writes.
func (s *Snapshot) Fork() *Snapshot {
	return &Snapshot{
		tables:  maps.Clone(s.tables),
		changed: maps.Clone(s.changed),
		owned:   map[string]struct{}{},
	}
}

// Clone returns a deep copy of s that reports no changed tables.
func (s *Snapshot) Clone() *Snapshot {
	out := NewSnapshot()
	for _, t := range s.tables {
		out.Add(t.Clone())
	}

	return out
}

package jsonsql

// Statement is a parsed statement: one of [*SelectStmt], [*InsertStmt],
// [*UpdateStmt] or [*DeleteStmt].
type Statement interface {
	// TableName returns the target table.
	TableName() string

	// Mutates reports whether the statement produces a successor snapshot.
	Mutates() bool

	statement()
}

// Operand is one side of a predicate: an identifier or a literal.
type Operand struct {
	Ident   string
	IsIdent bool
	Literal Value
}

// IdentOperand returns an operand that names a column or variable.
func IdentOperand(name string) Operand { return Operand{Ident: name, IsIdent: true} }

// LiteralOperand returns an operand holding v.
func LiteralOperand(v Value) Operand { return Operand{Literal: v} }

// Predicate is a single equality test.
type Predicate struct {
	Left  Operand
	Right Operand
}

// OrderTerm is one ORDER BY key.
type OrderTerm struct {
	Column string
	Desc   bool
}

type SelectStmt struct {
	Table string

	// Columns is the projection. Nil means "*".
	Columns []string

	Where   *Predicate
	OrderBy []OrderTerm

	// Limit is nil when no LIMIT was given.
	Limit  *int
	Offset int
}

type InsertStmt struct {
	Table   string
	Columns []string
	Values  []Value
}

// Assignment is one "column = literal" of an UPDATE.
type Assignment struct {
	Column string
	Value  Value
}

type UpdateStmt struct {
	Table string
	Set   []Assignment
	Where *Predicate
}

type DeleteStmt struct {
	Table string
	Where *Predicate
}

func (s *SelectStmt) TableName() string { return s.Table }
func (s *InsertStmt) TableName() string { return s.Table }
func (s *UpdateStmt) TableName() string { return s.Table }
func (s *DeleteStmt) TableName() string { return s.Table }

func (*SelectStmt) Mutates() bool { return false }
func (*InsertStmt) Mutates() bool { return true }
func (*UpdateStmt) Mutates() bool { return true }
func (*DeleteStmt) Mutates() bool { return true }

func (*SelectStmt) statement() {}
func (*InsertStmt) statement() {}
func (*UpdateStmt) statement() {}
func (*DeleteStmt) statement() {}

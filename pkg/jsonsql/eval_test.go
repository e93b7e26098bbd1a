package jsonsql_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

// run executes each statement in order, threading the snapshot through.
func run(t *testing.T, ev *jsonsql.Evaluator, snap *jsonsql.Snapshot, stmts ...string) *jsonsql.Snapshot {
	t.Helper()

	for _, src := range stmts {
		res, err := ev.Query(src, snap, nil)
		if err != nil {
			t.Fatalf("Query(%q): %v", src, err)
		}

		snap = res.Snapshot
	}

	return snap
}

func column(rows []*jsonsql.Row, col string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Get(col).String()
	}

	return out
}

func Test_Select_Returns_Rows_In_Insertion_Order_When_No_Order_By(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id) VALUES ('c')`,
		`INSERT INTO t (id) VALUES ('a')`,
		`INSERT INTO t (id) VALUES ('b')`,
		`UPDATE t SET x = 1 WHERE id = 'c'`,
	)

	res, err := ev.Query(`SELECT * FROM t`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"c", "a", "b"}, column(res.Rows, "id")); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}

func Test_Where_Binds_Row_Columns_Before_Vars_When_Names_Collide(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id, name) VALUES ('1', 'ann')`,
		`INSERT INTO t (id, name) VALUES ('2', 'bob')`,
	)

	vars := jsonsql.Vars{
		"name":   jsonsql.String("nobody"),
		"wanted": jsonsql.String("bob"),
	}

	res, err := ev.Query(`SELECT id FROM t WHERE name = wanted`, snap, vars)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"2"}, column(res.Rows, "id")); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func Test_Where_Treats_Unknown_Identifier_As_Null_When_Binding_Row_Locally(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id, nick) VALUES ('1', NULL)`,
		`INSERT INTO t (id) VALUES ('2')`,
		`INSERT INTO t (id, nick) VALUES ('3', 'x')`,
	)

	res, err := ev.Query(`SELECT id FROM t WHERE nick = NULL`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"1", "2"}, column(res.Rows, "id")); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func Test_Where_Fails_With_BindingError_When_Evaluator_Binds_Variables_Only(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator(jsonsql.BindVariablesOnly())
	if ev.SupportsRowLocalPredicateBinding() {
		t.Fatalf("SupportsRowLocalPredicateBinding=true, want false")
	}

	snap := run(t, ev, jsonsql.NewSnapshot(), `INSERT INTO t (id) VALUES ('1')`)

	_, err := ev.Query(`SELECT * FROM t WHERE "id" = '1'`, snap, nil)

	var berr *jsonsql.BindingError
	if !errors.As(err, &berr) {
		t.Fatalf("err=%v, want *BindingError", err)
	}

	if got, want := berr.Name, "id"; got != want {
		t.Fatalf("name=%q, want=%q", got, want)
	}

	res, err := ev.Query(`SELECT * FROM t WHERE v = '1'`, snap, jsonsql.Vars{"v": jsonsql.String("1")})
	if err != nil {
		t.Fatalf("vars-only comparison: %v", err)
	}

	if got, want := len(res.Rows), 1; got != want {
		t.Fatalf("rows=%d, want=%d", got, want)
	}
}

func Test_Where_Compares_Text_Cells_Leniently_When_Literal_Is_Not_A_String(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id, n, ok) VALUES ('a', '5', 'true')`,
		`INSERT INTO t (id, n, ok) VALUES ('b', 5.0, FALSE)`,
	)

	tests := []struct {
		where string
		want  []string
	}{
		{where: `n = 5`, want: []string{"a", "b"}},
		{where: `n = '5'`, want: []string{"a"}},
		{where: `ok = TRUE`, want: []string{"a"}},
		{where: `ok = 'false'`, want: []string{"b"}},
	}

	for _, tt := range tests {
		res, err := ev.Query(`SELECT id FROM t WHERE `+tt.where, snap, nil)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(tt.want, column(res.Rows, "id")); diff != "" {
			t.Fatalf("WHERE %s (-want +got):\n%s", tt.where, diff)
		}
	}
}

func Test_Insert_Returns_ConstraintError_When_ID_Is_Duplicate_Or_Missing(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(), `INSERT INTO t (id) VALUES ('x')`)

	tests := []struct {
		src  string
		want error
	}{
		{src: `INSERT INTO t (id) VALUES ('x')`, want: jsonsql.ErrDuplicateID},
		{src: `INSERT INTO t (name) VALUES ('x')`, want: jsonsql.ErrMissingID},
		{src: `INSERT INTO t (id) VALUES (NULL)`, want: jsonsql.ErrMissingID},
		{src: `UPDATE t SET id = NULL`, want: jsonsql.ErrMissingID},
	}

	for _, tt := range tests {
		_, err := ev.Query(tt.src, snap, nil)
		if !errors.Is(err, jsonsql.ErrConstraint) || !errors.Is(err, tt.want) {
			t.Fatalf("%s: err=%v, want ErrConstraint and %v", tt.src, err, tt.want)
		}

		var cerr *jsonsql.ConstraintError
		if !errors.As(err, &cerr) || cerr.Table != "t" {
			t.Fatalf("%s: err=%#v, want *ConstraintError for table t", tt.src, err)
		}
	}
}

func Test_Update_Returns_ConstraintError_When_New_ID_Collides(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id) VALUES ('a')`,
		`INSERT INTO t (id) VALUES ('b')`,
	)

	_, err := ev.Query(`UPDATE t SET id = 'a' WHERE id = 'b'`, snap, nil)
	if !errors.Is(err, jsonsql.ErrDuplicateID) {
		t.Fatalf("err=%v, want ErrDuplicateID", err)
	}

	res, err := ev.Query(`UPDATE t SET id = 'c' WHERE id = 'b'`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := res.Affected, 1; got != want {
		t.Fatalf("affected=%d, want=%d", got, want)
	}
}

func Test_Mutations_Leave_Input_Snapshot_Untouched_When_Executed(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	base := run(t, ev, jsonsql.NewSnapshot(), `INSERT INTO t (id, v) VALUES ('a', 1)`)

	for _, src := range []string{
		`INSERT INTO t (id) VALUES ('b')`,
		`UPDATE t SET v = 2`,
		`DELETE FROM t`,
		`INSERT INTO other (id) VALUES ('z')`,
	} {
		res, err := ev.Query(src, base, nil)
		if err != nil {
			t.Fatal(err)
		}

		if res.Snapshot == base {
			t.Fatalf("%s: successor is the input snapshot", src)
		}
	}

	tbl, ok := base.Table("t")
	if !ok {
		t.Fatal("table t missing")
	}

	if got, want := tbl.Len(), 1; got != want {
		t.Fatalf("rows=%d, want=%d", got, want)
	}

	row, _ := tbl.Lookup(jsonsql.String("a"))
	if diff := cmp.Diff(jsonsql.Int(1), row.Get("v")); diff != "" {
		t.Fatalf("v (-want +got):\n%s", diff)
	}

	if _, ok := base.Table("other"); ok {
		t.Fatalf("table other leaked into input snapshot")
	}
}

func Test_Mutations_Mark_Only_Target_Table_Changed_When_Executed(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(), `INSERT INTO a (id) VALUES ('1')`).Clone()

	if got := snap.Changed(); len(got) != 0 {
		t.Fatalf("clone changed=%v, want none", got)
	}

	res, err := ev.Query(`INSERT INTO b (id) VALUES ('1')`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"b"}, res.Snapshot.Changed()); diff != "" {
		t.Fatalf("changed (-want +got):\n%s", diff)
	}

	res, err = ev.Query(`DELETE FROM a WHERE id = 'nope'`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := res.Snapshot.Changed(); len(got) != 0 {
		t.Fatalf("no-op delete changed=%v, want none", got)
	}
}

func Test_Select_Sorts_And_Windows_When_Order_By_And_Limit_Given(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id, age) VALUES ('a', '10')`,
		`INSERT INTO t (id, age) VALUES ('b', '9')`,
		`INSERT INTO t (id, age) VALUES ('c', NULL)`,
		`INSERT INTO t (id, age) VALUES ('d', 10)`,
	)

	tests := []struct {
		src  string
		want []string
	}{
		{src: `SELECT id FROM t ORDER BY age`, want: []string{"c", "b", "a", "d"}},
		{src: `SELECT id FROM t ORDER BY age DESC, id DESC`, want: []string{"d", "a", "b", "c"}},
		{src: `SELECT id FROM t ORDER BY id LIMIT 2`, want: []string{"a", "b"}},
		{src: `SELECT id FROM t ORDER BY id LIMIT 2 OFFSET 3`, want: []string{"d"}},
		{src: `SELECT id FROM t LIMIT 0`, want: []string{}},
		{src: `SELECT id FROM t LIMIT 5 OFFSET 9`, want: []string{}},
	}

	for _, tt := range tests {
		res, err := ev.Query(tt.src, snap, nil)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(tt.want, column(res.Rows, "id")); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", tt.src, diff)
		}
	}
}

func Test_Select_Projects_Missing_Columns_As_Null_When_Listed(t *testing.T) {
	t.Parallel()

	ev := jsonsql.NewEvaluator()
	snap := run(t, ev, jsonsql.NewSnapshot(),
		`INSERT INTO t (id, a) VALUES ('1', 'x')`,
		`INSERT INTO t (id, b) VALUES ('2', 'y')`,
	)

	res, err := ev.Query(`SELECT b, id FROM t`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"b", "id"}, res.Rows[0].Columns()); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}

	if !res.Rows[0].Get("b").IsNull() {
		t.Fatalf("b=%v, want null", res.Rows[0].Get("b"))
	}

	all, err := ev.Query(`SELECT * FROM t`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"id", "a", "b"}, all.Columns); diff != "" {
		t.Fatalf("table columns (-want +got):\n%s", diff)
	}

	missing, err := ev.Query(`SELECT * FROM nope`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(missing.Rows) != 0 {
		t.Fatalf("rows from missing table=%d, want 0", len(missing.Rows))
	}
}

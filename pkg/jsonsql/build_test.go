package jsonsql_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

func Test_QuoteIdent_Round_Trips_Through_Parser_When_Name_Is_Hostile(t *testing.T) {
	t.Parallel()

	names := []string{"id", "select", "ORDER", `we"ird`, "with space", "ünïcode", "1starts_with_digit", ""}

	for _, name := range names {
		src, err := jsonsql.BuildSelect("t", []string{name}, jsonsql.ColumnEquals(name, jsonsql.String("v")))
		if err != nil {
			t.Fatalf("BuildSelect(%q): %v", name, err)
		}

		stmt, err := jsonsql.Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}

		sel := stmt.(*jsonsql.SelectStmt)
		if got, want := sel.Columns, []string{name}; !cmp.Equal(got, want) {
			t.Fatalf("columns=%q, want=%q", got, want)
		}

		if got, want := sel.Where.Left.Ident, name; got != want {
			t.Fatalf("where ident=%q, want=%q", got, want)
		}
	}
}

func Test_NeedsQuoting_Reports_True_When_Name_Is_Keyword_Or_Not_Bare(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"id":        false,
		"user_name": false,
		"_x1":       false,
		"select":    true,
		"Limit":     true,
		"a-b":       true,
		"1a":        true,
		"":          true,
	}

	for name, want := range tests {
		if got := jsonsql.NeedsQuoting(name); got != want {
			t.Fatalf("NeedsQuoting(%q)=%v, want=%v", name, got, want)
		}
	}
}

func Test_Literal_Parses_Back_To_Same_Value_When_Value_Is_Scalar(t *testing.T) {
	t.Parallel()

	values := []jsonsql.Value{
		jsonsql.Null(),
		jsonsql.Bool(false),
		jsonsql.Int(-3),
		jsonsql.Float(2),
		jsonsql.Float(-1.25e-9),
		jsonsql.String("it's"),
	}

	for _, v := range values {
		lit, err := jsonsql.Literal(v)
		if err != nil {
			t.Fatalf("Literal(%v): %v", v, err)
		}

		stmt, err := jsonsql.Parse(`SELECT * FROM t WHERE x = ` + lit)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}

		got := stmt.(*jsonsql.SelectStmt).Where.Right.Literal
		if diff := cmp.Diff(v, got); diff != "" {
			t.Fatalf("literal %s (-want +got):\n%s", lit, diff)
		}
	}
}

func Test_BuildInsert_Quotes_Every_Identifier_When_Building(t *testing.T) {
	t.Parallel()

	got := jsonsql.BuildInsert("order", []string{"id", "from"}, []jsonsql.Cell{jsonsql.TextCell("a'b"), jsonsql.NullCell()})

	if want := `INSERT INTO "order" ("id", "from") VALUES ('a''b', NULL)`; got != want {
		t.Fatalf("sql=%s, want=%s", got, want)
	}

	got, err := jsonsql.BuildUpdate("t", []string{"where"}, []jsonsql.Cell{jsonsql.TextCell("1")}, jsonsql.ColumnEquals("id", jsonsql.String("x")))
	if err != nil {
		t.Fatal(err)
	}

	if want := `UPDATE "t" SET "where" = '1' WHERE "id" = 'x'`; got != want {
		t.Fatalf("sql=%s, want=%s", got, want)
	}
}

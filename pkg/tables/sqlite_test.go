package tables_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/jsonsql/pkg/tables"
)

func Test_SQLite_Keeps_Column_Order_Of_Empty_Table_When_Reloaded(t *testing.T) {
	t.Parallel()

	b, err := tables.OpenSQLite(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	defer func() { _ = b.Close() }()

	exec(t, b, `INSERT INTO t (id, "b", "a") VALUES ('1', 'x', 'y')`, `DELETE FROM t`)

	snap, err := b.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	tbl, ok := snap.Table("t")
	if !ok {
		t.Fatalf("table t missing")
	}

	if diff := cmp.Diff([]string{"id", "b", "a"}, tbl.Columns()); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}

	if got, want := tbl.Len(), 0; got != want {
		t.Fatalf("rows=%d, want=%d", got, want)
	}
}

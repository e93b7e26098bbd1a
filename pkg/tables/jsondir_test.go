package tables_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/jsonsql/pkg/fs"
	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
	"github.com/calvinalkan/jsonsql/pkg/tables"
)

func Test_JSONDir_Writes_Array_Of_Cell_Objects_When_Committing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := tables.NewJSONDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	exec(t, b,
		`INSERT INTO users ("id", "name", "age") VALUES ('u1', 'John', '30')`,
		`INSERT INTO users ("id", "name") VALUES ('u2', NULL)`,
	)

	data, err := os.ReadFile(filepath.Join(dir, "users.json"))
	if err != nil {
		t.Fatal(err)
	}

	want := "[\n" +
		`  {"id":"u1","name":"John","age":"30"},` + "\n" +
		`  {"id":"u2","name":null}` + "\n" +
		"]\n"

	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Fatalf("file (-want +got):\n%s", diff)
	}
}

func Test_JSONDir_Keeps_Empty_Table_When_Reloaded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	b, err := tables.NewJSONDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	exec(t, b, `INSERT INTO t (id, x) VALUES ('1', 'y')`, `DELETE FROM t`)

	if err := os.Remove(filepath.Join(dir, "t.json")); err != nil {
		t.Fatal(err)
	}

	reopened, err := tables.NewJSONDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := reopened.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	tbl, ok := snap.Table("t")
	if !ok {
		t.Fatalf("empty table t missing after reload")
	}

	if diff := cmp.Diff([]string{"id", "x"}, tbl.Columns()); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}
}

func Test_JSONDir_Skips_Write_When_Table_Content_Unchanged(t *testing.T) {
	t.Parallel()

	fsys := fs.NewFaulty(fs.NewReal())

	b, err := tables.NewJSONDir(t.TempDir(), tables.WithFS(fsys))
	if err != nil {
		t.Fatal(err)
	}

	exec(t, b, `INSERT INTO t (id, v) VALUES ('1', 'a')`)

	before := fsys.Calls(fs.OpWriteFileAtomic)

	exec(t, b, `UPDATE t SET v = 'a'`)

	if got, want := fsys.Calls(fs.OpWriteFileAtomic), before; got != want {
		t.Fatalf("atomic writes=%d, want=%d", got, want)
	}
}

func Test_JSONDir_Keeps_Last_Committed_State_When_Write_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewFaulty(fs.NewReal())

	b, err := tables.NewJSONDir(dir, tables.WithFS(fsys))
	if err != nil {
		t.Fatal(err)
	}

	exec(t, b, `INSERT INTO t (id) VALUES ('1')`)

	fsys.Fail(fs.OpWriteFileAtomic, "t.json")

	snap, err := b.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	res, err := jsonsql.NewEvaluator().Query(`INSERT INTO t (id) VALUES ('2')`, snap, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = b.Commit(t.Context(), res.Snapshot)
	if !errors.Is(err, tables.ErrIO) || !fs.IsInjected(err) {
		t.Fatalf("err=%v, want injected ErrIO", err)
	}

	fsys.Reset()

	if diff := cmp.Diff([]string{"1"}, rowStrings(selectAll(t, b, "t"), "id")); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
}

func Test_JSONDir_Restores_Table_Files_When_Schema_Write_Fails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := fs.NewFaulty(fs.NewReal())

	b, err := tables.NewJSONDir(dir, tables.WithFS(fsys))
	if err != nil {
		t.Fatal(err)
	}

	exec(t, b, `INSERT INTO users (id, v) VALUES ('u1', '1')`)

	fsys.Fail(fs.OpWriteFileAtomic, "__schema__")

	// Both statements change the schema, so the schema write is reached.
	for _, src := range []string{
		`UPDATE users SET v = '2', w = 'new'`,
		`INSERT INTO orders (id) VALUES ('o1')`,
	} {
		err := tryExec(t, b, src)
		if !errors.Is(err, tables.ErrIO) || !fs.IsInjected(err) {
			t.Fatalf("%s: err=%v, want injected ErrIO", src, err)
		}
	}

	fsys.Reset()

	if _, err := os.Stat(filepath.Join(dir, "orders.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("orders.json stat err=%v, want not exist", err)
	}

	reopened, err := tables.NewJSONDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	for name, backend := range map[string]tables.Backend{"same": b, "reopened": reopened} {
		snap, err := backend.Load(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		if got, want := snap.Names(), []string{"users"}; !slices.Equal(got, want) {
			t.Fatalf("%s: tables=%v, want=%v", name, got, want)
		}

		if diff := cmp.Diff([]string{"1"}, rowStrings(selectAll(t, backend, "users"), "v")); diff != "" {
			t.Fatalf("%s: v (-want +got):\n%s", name, diff)
		}

		users, _ := snap.Table("users")
		if diff := cmp.Diff([]string{"id", "v"}, users.Columns()); diff != "" {
			t.Fatalf("%s: columns (-want +got):\n%s", name, diff)
		}
	}
}

func Test_JSONDir_Returns_ErrIO_When_Table_File_Is_Corrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "t.json"), []byte(`[{"id":"1"},`), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := tables.NewJSONDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Load(t.Context())
	if !errors.Is(err, tables.ErrIO) {
		t.Fatalf("err=%v, want ErrIO", err)
	}
}

func Test_JSONDir_Loads_Hand_Written_File_When_Cells_Are_Not_Strings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "t.json"), []byte(`[{"id":"1","n":5,"tags":["a"]}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := tables.NewJSONDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	rows := selectAll(t, b, "t")
	if len(rows) != 1 {
		t.Fatalf("rows=%d, want 1", len(rows))
	}

	if diff := cmp.Diff(jsonsql.List(jsonsql.String("a")), jsonsql.Decode(jsonsql.TextCell(rows[0].Get("tags").String()))); diff != "" {
		t.Fatalf("tags (-want +got):\n%s", diff)
	}
}

func Test_ValidateTableName_Rejects_Names_When_Unsafe(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", ".hidden", "a/b", `a\b`, "__schema__", "nul\x00"} {
		if err := tables.ValidateTableName(name); !errors.Is(err, tables.ErrInvalidTableName) {
			t.Fatalf("ValidateTableName(%q)=%v, want ErrInvalidTableName", name, err)
		}
	}

	for _, name := range []string{"users", "order", "with space", "ünï"} {
		if err := tables.ValidateTableName(name); err != nil {
			t.Fatalf("ValidateTableName(%q)=%v, want nil", name, err)
		}
	}
}

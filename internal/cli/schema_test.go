package cli_test

import (
	"testing"

	"github.com/calvinalkan/jsonsql/internal/cli"
)

func Test_Schema_Commands_Rewrite_Columns_And_Table_Name_When_Using_Json_Backend(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	c.MustRun("save", "-t", "people", `{"id":"p1","first":"Al","nick":"al"}`)

	if got, want := c.MustRun("rename-column", "-t", "people", "first", "name"), "renamed people.first to name"; got != want {
		t.Fatalf("rename-column=%q, want=%q", got, want)
	}

	if got, want := c.MustRun("drop-column", "-t", "people", "nick"), "dropped people.nick"; got != want {
		t.Fatalf("drop-column=%q, want=%q", got, want)
	}

	c.MustRun("add-column", "-t", "people", "email")

	if got, want := c.MustRun("rename-table", "people", "users"), "renamed people to users"; got != want {
		t.Fatalf("rename-table=%q, want=%q", got, want)
	}

	if got, want := c.ReadTable("users.json"), "[\n  {\"id\":\"p1\",\"name\":\"Al\"}\n]\n"; got != want {
		t.Fatalf("file=%q, want=%q", got, want)
	}

	cli.AssertContains(t, c.ReadTable("__schema__.json"), `"id",
        "name",
        "email"`)

	if got, want := c.MustRun("ls", "--tables"), "users"; got != want {
		t.Fatalf("tables=%q, want=%q", got, want)
	}

	if got, want := c.MustRun("get", "-t", "users", "p1"), `{"id":"p1","name":"Al"}`; got != want {
		t.Fatalf("get=%q, want=%q", got, want)
	}
}

func Test_Schema_Commands_Fail_When_Target_Is_Invalid(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	c.MustRun("save", "-t", "users", `{"id":"u1","name":"Al"}`)
	c.MustRun("save", "-t", "orders", `{"id":"o1"}`)

	for _, tt := range []struct {
		args []string
		want string
	}{
		{args: []string{"rename-table", "missing", "x"}, want: "no such table"},
		{args: []string{"rename-table", "users", "orders"}, want: "table already exists"},
		{args: []string{"rename-column", "-t", "users", "nope", "x"}, want: "no such column"},
		{args: []string{"drop-column", "-t", "users", "id"}, want: "id column cannot be renamed or dropped"},
		{args: []string{"add-column", "-t", "users", "name"}, want: "column already exists"},
		{args: []string{"drop-column", "-t", "missing", "x"}, want: "no such table"},
	} {
		cli.AssertContains(t, c.MustFail(tt.args...), tt.want)
	}
}

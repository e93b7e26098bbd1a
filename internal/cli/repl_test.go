package cli_test

import (
	"testing"

	"github.com/calvinalkan/jsonsql/internal/cli"
)

func Test_Repl_Runs_Statements_When_Input_Is_Scripted(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	script := `INSERT INTO notes (id, body) VALUES ('n1', 'hello')
INSERT INTO notes (id, body)
  VALUES ('n2', 'world');
SELEC nonsense
.tables
SELECT body FROM notes ORDER BY id DESC
.quit
SELECT * FROM never_reached
`

	stdout, stderr, code := c.RunWithInput(script, "repl", "-f", "csv")
	if got, want := code, 0; got != want {
		t.Fatalf("exit=%d, want=%d (stderr=%s)", got, want, stderr)
	}

	want := "1 row affected\n1 row affected\nnotes\nbody\nworld\nhello\n"
	if got := stdout; got != want {
		t.Fatalf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "error: parse error")
	cli.AssertNotContains(t, stdout, "never_reached")

	if got, want := c.MustRun("ls", "-t", "notes"), "{\"id\":\"n1\",\"body\":\"hello\"}\n{\"id\":\"n2\",\"body\":\"world\"}"; got != want {
		t.Fatalf("ls=%q, want=%q", got, want)
	}
}

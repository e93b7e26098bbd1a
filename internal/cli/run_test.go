package cli_test

import (
	"bytes"
	"testing"

	"github.com/calvinalkan/jsonsql/internal/cli"
)

func Test_Bare_Command_Prints_Usage_When_No_Args_Given(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	exitCode := cli.Run(nil, &stdout, &stderr, []string{"jsonsql"}, nil, nil)

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr.String(), ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout.String(), "jsonsql - record store")
	cli.AssertContains(t, stdout.String(), "--cwd")
	cli.AssertContains(t, stdout.String(), "query <sql>")
	cli.AssertContains(t, stdout.String(), "print-config")
}

func Test_Invalid_Global_Flag_Fails_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "ls")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--data-dir")
	cli.AssertContains(t, stderr, "--backend")
}

func Test_Unknown_Command_Fails_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Empty_Data_Dir_Flag_Fails_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--data-dir=", "ls", "-t", "users")

	cli.AssertContains(t, stderr, "data-dir cannot be empty")
}

func Test_Command_Help_Lists_Flags_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("query", "--help")

	cli.AssertContains(t, stdout, "Usage: jsonsql query <sql> [flags]")
	cli.AssertContains(t, stdout, "--var")
	cli.AssertContains(t, stdout, "--format")
}

func Test_Command_Fails_When_No_Table_Is_Given_Or_Configured(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("ls")

	cli.AssertContains(t, stderr, "no table given")

	c.WriteConfig(`{"table_default": "users"}`)
	c.MustRun("ls")
}

func Test_Print_Config_Shows_Sources_When_Project_Config_Exists(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, "backend=json")
	cli.AssertContains(t, stdout, "data_dir="+c.DataDir())
	cli.AssertContains(t, stdout, "(defaults only)")

	c.WriteConfig(`{
		// comments are allowed
		"backend": "jsonl",
		"table_default": "users",
	}`)

	stdout = c.MustRun("print-config")
	cli.AssertContains(t, stdout, "backend=jsonl")
	cli.AssertContains(t, stdout, "table_default=users")
	cli.AssertContains(t, stdout, "project_config=")

	stdout = c.MustRun("--backend", "sqlite", "print-config", "--json")
	cli.AssertContains(t, stdout, `"backend": "sqlite"`)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

var errNoStatement = errors.New("no statement given")

// QueryCmd returns the query command.
func QueryCmd(a *app) *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.StringArray("var", nil, "Bind a variable for WHERE clauses (`name=value`, repeatable)")
	fs.StringP("format", "f", formatTable, "Output format ("+strings.Join(formats, "|")+")")
	fs.Bool("raw", false, "Print stored cell text instead of decoded values")

	return &Command{
		Flags: fs,
		Usage: "query <sql> [flags]",
		Short: "Run one SQL statement",
		Long: `Run one statement of the supported SQL subset against the data directory.

Arguments are joined with spaces. With no arguments, or "-", the statement is
read from stdin. Variable values are decoded like stored cells, so --var n=3
binds the integer 3 and --var s=abc binds the string "abc".`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execQuery(ctx, o, a, fs, args)
		},
	}
}

func execQuery(ctx context.Context, o *IO, a *app, fs *flag.FlagSet, args []string) error {
	src, err := statementText(o, args)
	if err != nil {
		return err
	}

	rawVars, _ := fs.GetStringArray("var")

	vars, err := parseVars(rawVars)
	if err != nil {
		return err
	}

	format, _ := fs.GetString("format")
	raw, _ := fs.GetBool("raw")

	db, err := a.open(ctx)
	if err != nil {
		return err
	}

	stmt, err := jsonsql.Parse(src)
	if err != nil {
		return err
	}

	res, err := db.Exec(ctx, src, vars)
	if err != nil {
		return err
	}

	if stmt.Mutates() {
		o.Println(affectedLine(res.Affected))

		return nil
	}

	return writeRows(o, format, res.Columns, res.Rows, raw)
}

func affectedLine(n int) string {
	if n == 1 {
		return "1 row affected"
	}

	return fmt.Sprintf("%d rows affected", n)
}

// statementText joins args or reads stdin.
func statementText(o *IO, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}

	if o.In() == nil {
		return "", errNoStatement
	}

	data, err := io.ReadAll(o.In())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}

	src := strings.TrimSpace(string(data))
	if src == "" {
		return "", errNoStatement
	}

	return src, nil
}

func parseVars(raw []string) (jsonsql.Vars, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	vars := make(jsonsql.Vars, len(raw))

	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q (want name=value)", kv)
		}

		vars[name] = jsonsql.Decode(jsonsql.TextCell(value))
	}

	return vars, nil
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
	"github.com/calvinalkan/jsonsql/pkg/recstore"
)

const (
	replPrompt     = "jsonsql> "
	replContPrompt = "    ...> "
)

// lineReader is the part of liner the REPL uses, so scripted input can stand
// in for a terminal.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// scriptReader reads lines from a non-terminal input without echoing prompts.
type scriptReader struct {
	sc *bufio.Scanner
}

func (r *scriptReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}

	if err := r.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (*scriptReader) AppendHistory(string) {}

func (*scriptReader) Close() error { return nil }

// ReplCmd returns the repl command.
func ReplCmd(a *app) *Command {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.StringP("format", "f", formatTable, "Output format ("+strings.Join(formats, "|")+")")

	return &Command{
		Flags: fs,
		Usage: "repl [flags]",
		Short: "Interactive SQL shell",
		Long: `Read statements interactively. A statement runs once it parses completely
or ends with ";". Lines starting with "." are shell commands: .tables, .help
and .quit. Errors are printed and the shell keeps going.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			format, _ := fs.GetString("format")

			db, err := a.open(ctx)
			if err != nil {
				return err
			}

			r := &repl{db: db, o: o, format: format, historyPath: a.historyPath()}

			return r.run(ctx)
		},
	}
}

type repl struct {
	db          *recstore.DB
	o           *IO
	format      string
	historyPath string
	lines       lineReader
	tables      []string
}

// historyPath returns ~/.jsonsql_history, or "" without a home directory.
func (a *app) historyPath() string {
	home := a.env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".jsonsql_history")
}

func (r *repl) open() {
	if f, ok := r.o.In().(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		l.SetCompleter(r.complete)

		if r.historyPath != "" {
			if f, err := os.Open(r.historyPath); err == nil {
				_, _ = l.ReadHistory(f)
				_ = f.Close()
			}
		}

		r.lines = &historySaver{State: l, path: r.historyPath}

		return
	}

	in := r.o.In()
	if in == nil {
		in = strings.NewReader("")
	}

	r.lines = &scriptReader{sc: bufio.NewScanner(in)}
}

func (r *repl) run(ctx context.Context) error {
	r.open()
	defer r.lines.Close()

	r.refreshTables(ctx)

	var buf strings.Builder

	for {
		prompt := replPrompt
		if buf.Len() > 0 {
			prompt = replContPrompt
		}

		line, err := r.lines.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		trimmed := strings.TrimSpace(line)

		if buf.Len() == 0 {
			if trimmed == "" {
				continue
			}

			if strings.HasPrefix(trimmed, ".") {
				r.lines.AppendHistory(trimmed)

				if r.dotCommand(ctx, trimmed) {
					return nil
				}

				continue
			}
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}

		buf.WriteString(line)

		src := strings.TrimSpace(buf.String())
		if !strings.HasSuffix(src, ";") && incomplete(src) {
			continue
		}

		buf.Reset()
		r.lines.AppendHistory(strings.ReplaceAll(src, "\n", " "))
		r.exec(ctx, src)
	}
}

// incomplete reports whether src stops before the statement could end.
func incomplete(src string) bool {
	_, err := jsonsql.Parse(src)

	var perr *jsonsql.ParseError
	if !errors.As(err, &perr) {
		return false
	}

	return perr.Token == "end of input" || strings.HasPrefix(perr.Expected, "closing")
}

func (r *repl) exec(ctx context.Context, src string) {
	stmt, err := jsonsql.Parse(src)
	if err != nil {
		r.o.ErrPrintln("error:", err)

		return
	}

	res, err := r.db.Exec(ctx, src, nil)
	if err != nil {
		r.o.ErrPrintln("error:", err)

		return
	}

	if stmt.Mutates() {
		r.o.Println(affectedLine(res.Affected))
		r.refreshTables(ctx)

		return
	}

	err = writeRows(r.o, r.format, res.Columns, res.Rows, false)
	if err != nil {
		r.o.ErrPrintln("error:", err)
	}
}

// dotCommand runs a shell command and reports whether the shell should exit.
func (r *repl) dotCommand(ctx context.Context, line string) bool {
	switch strings.Fields(line)[0] {
	case ".quit", ".exit", ".q":
		return true
	case ".tables":
		r.refreshTables(ctx)

		for _, name := range r.tables {
			r.o.Println(name)
		}
	case ".help":
		r.o.Println(`Statements:
  SELECT <cols|*> FROM <table> [WHERE a = b] [ORDER BY c [ASC|DESC], ...] [LIMIT n] [OFFSET n]
  INSERT INTO <table> (<cols>) VALUES (<values>)
  UPDATE <table> SET c = v, ... [WHERE a = b]
  DELETE FROM <table> [WHERE a = b]

Commands:
  .tables   List tables
  .help     Show this help
  .quit     Exit`)
	default:
		r.o.ErrPrintln("error: unknown command:", line)
	}

	return false
}

func (r *repl) refreshTables(ctx context.Context) {
	names, err := r.db.Tables(ctx)
	if err == nil {
		r.tables = names
	}
}

// complete offers keywords and table names for the last word of line.
func (r *repl) complete(line string) []string {
	start := strings.LastIndexAny(line, " \t(,") + 1
	prefix, word := line[:start], line[start:]

	if word == "" {
		return nil
	}

	var out []string

	for _, kw := range []string{"SELECT", "FROM", "WHERE", "INSERT", "INTO", "VALUES", "UPDATE", "SET", "DELETE", "ORDER", "BY", "ASC", "DESC", "LIMIT", "OFFSET", "NULL", "TRUE", "FALSE"} {
		if strings.HasPrefix(kw, strings.ToUpper(word)) {
			out = append(out, prefix+kw)
		}
	}

	for _, name := range r.tables {
		if strings.HasPrefix(name, word) {
			out = append(out, prefix+name)
		}
	}

	return out
}

// historySaver writes history back on Close.
type historySaver struct {
	*liner.State
	path string
}

func (h *historySaver) Close() error {
	if h.path != "" {
		if f, err := os.Create(h.path); err == nil {
			_, _ = h.WriteHistory(f)
			_ = f.Close()
		}
	}

	return h.State.Close()
}

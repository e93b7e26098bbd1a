// Package cli implements the jsonsql command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/jsonsql/internal/config"
	"github.com/calvinalkan/jsonsql/pkg/fs"
	"github.com/calvinalkan/jsonsql/pkg/recstore"
	"github.com/calvinalkan/jsonsql/pkg/tables"
)

// sqliteFileName is the database file inside data_dir for the sqlite backend.
const sqliteFileName = "tables.db"

var errNoTable = errors.New("no table given (use --table or set table_default)")

// app carries what every command needs. The store is opened lazily so that
// commands like print-config never touch the data directory.
type app struct {
	cfg  config.Config
	log  *slog.Logger
	env  map[string]string
	db   *recstore.DB
	back tables.Backend
}

// open returns the DB, opening it on first use.
func (a *app) open(ctx context.Context) (*recstore.DB, error) {
	if a.db != nil {
		return a.db, nil
	}

	back, err := openBackend(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}

	db, err := recstore.Open(back, recstore.Config{Logger: a.log})
	if err != nil {
		return nil, errors.Join(err, back.Close())
	}

	a.db, a.back = db, back

	return db, nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}

	return a.db.Close()
}

// table resolves a --table flag value against table_default.
func (a *app) table(flagValue string) (string, error) {
	name := flagValue
	if name == "" {
		name = a.cfg.TableDefault
	}

	if name == "" {
		return "", errNoTable
	}

	return name, nil
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (tables.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return tables.NewMemory(), nil
	case config.BackendJSON:
		return tables.NewJSONDir(cfg.DataDirAbs, tables.WithLogger(log), tables.WithProcessLock())
	case config.BackendJSONL:
		return tables.NewJSONL(cfg.DataDirAbs, tables.WithLogger(log), tables.WithProcessLock())
	case config.BackendSQLite:
		err := fs.NewReal().MkdirAll(cfg.DataDirAbs, 0o750)
		if err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %w", tables.ErrIO, cfg.DataDirAbs, err)
		}

		return tables.OpenSQLite(ctx, filepath.Join(cfg.DataDirAbs, sqliteFileName))
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

func allCommands(a *app) []*Command {
	return []*Command{
		QueryCmd(a),
		SaveCmd(a),
		GetCmd(a),
		LsCmd(a),
		RmCmd(a),
		ClearCmd(a),
		RenameTableCmd(a),
		AddColumnCmd(a),
		RenameColumnCmd(a),
		DropColumnCmd(a),
		CompactCmd(a),
		ReplCmd(a),
		PrintConfigCmd(a),
	}
}

// Run is the main entry point. Returns exit code. A signal on sigCh cancels
// the running command's context; sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) == 0 {
		args = []string{"jsonsql"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	globals := flag.NewFlagSet("jsonsql", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(io.Discard)

	help := globals.BoolP("help", "h", false, "Show help")
	cwd := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	cfgPath := globals.StringP("config", "c", "", "Use specified config `file`")
	dataDir := globals.String("data-dir", "", "Override data directory")
	backend := globals.String("backend", "", "Override backend ("+strings.Join(config.Backends, "|")+")")
	logLevel := globals.String("log-level", "", "Override log level (debug|info|warn|error)")

	err := globals.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()
	a := &app{env: env}
	commands := allCommands(a)

	if *help || len(rest) == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	cfg, err := config.Load(config.Input{
		WorkDir:    *cwd,
		ConfigPath: *cfgPath,
		DataDir:    *dataDir,
		HasDataDir: globals.Changed("data-dir"),
		Backend:    *backend,
		LogLevel:   *logLevel,
		Env:        env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globals, nil)

		return 1
	}

	lvl, _ := config.ParseLevel(cfg.LogLevel)

	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: lvl}))

	name := rest[0]

	for _, cmd := range commands {
		if cmd.Name() != name {
			continue
		}

		code := cmd.Run(ctx, NewIO(in, out, errOut), rest[1:])

		err := a.close()
		if err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		return code
	}

	fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut, globals, commands)

	return 1
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `jsonsql - record store over JSON tables with a SQL subset

Usage: jsonsql [global flags] <command> [args]`)
	fprintln(w)
	fprintln(w, "Global flags:")
	_, _ = fmt.Fprint(w, globals.FlagUsages())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}

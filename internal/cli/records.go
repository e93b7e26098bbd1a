package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/jsonsql/pkg/recstore"
)

var errNoIDs = errors.New("at least one id is required")

func tableFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringP("table", "t", "", "Table to use (default: table_default)")

	return fs
}

// collection resolves --table and opens the store.
func (a *app) collection(ctx context.Context, fs *flag.FlagSet) (*recstore.Collection, error) {
	flagValue, _ := fs.GetString("table")

	table, err := a.table(flagValue)
	if err != nil {
		return nil, err
	}

	db, err := a.open(ctx)
	if err != nil {
		return nil, err
	}

	return db.Collection(table, recstore.Schema{})
}

// SaveCmd returns the save command.
func SaveCmd(a *app) *Command {
	fs := tableFlags("save")

	return &Command{
		Flags: fs,
		Usage: "save [json] [flags]",
		Short: "Save records given as JSON objects",
		Long: `Save one JSON object given as argument, or a stream of JSON objects from
stdin. A record with an existing id updates it; fields it omits are kept. A
record without an id gets a generated one. Prints the id of every saved record.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execSave(ctx, o, a, fs, args)
		},
	}
}

func execSave(ctx context.Context, o *IO, a *app, fs *flag.FlagSet, args []string) error {
	var src io.Reader

	switch {
	case len(args) > 1:
		return errors.New("save takes at most one JSON argument")
	case len(args) == 1 && args[0] != "-":
		src = strings.NewReader(args[0])
	case o.In() != nil:
		src = o.In()
	default:
		return errors.New("no record given")
	}

	c, err := a.collection(ctx, fs)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(src)
	dec.UseNumber()

	for n := 1; ; n++ {
		var obj map[string]any

		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			if n == 1 {
				return errors.New("no record given")
			}

			return nil
		}

		if err != nil {
			return fmt.Errorf("record %d: invalid JSON object: %w", n, err)
		}

		rec, err := recstore.RecordFromAny(obj)
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}

		saved, err := c.Save(ctx, rec)
		if err != nil {
			return err
		}

		o.Println(saved.ID())
	}
}

// GetCmd returns the get command.
func GetCmd(a *app) *Command {
	fs := tableFlags("get")

	return &Command{
		Flags: fs,
		Usage: "get <id>... [flags]",
		Short: "Print records by id",
		Long:  "Print each record as one JSON object per line. Missing ids are reported as warnings.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errNoIDs
			}

			c, err := a.collection(ctx, fs)
			if err != nil {
				return err
			}

			for _, id := range args {
				rec, ok, err := c.Load(ctx, id)
				if err != nil {
					return err
				}

				if !ok {
					o.Warn("record not found: " + id)

					continue
				}

				line, err := recordJSON(rec)
				if err != nil {
					return err
				}

				o.Println(line)
			}

			return nil
		},
	}
}

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	fs := tableFlags("ls")
	fs.Bool("tables", false, "List table names instead of records")

	return &Command{
		Flags: fs,
		Usage: "ls [flags]",
		Short: "List records or tables",
		Long:  "List every record of a table in insertion order, one JSON object per line.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if listTables, _ := fs.GetBool("tables"); listTables {
				db, err := a.open(ctx)
				if err != nil {
					return err
				}

				names, err := db.Tables(ctx)
				if err != nil {
					return err
				}

				for _, name := range names {
					o.Println(name)
				}

				return nil
			}

			c, err := a.collection(ctx, fs)
			if err != nil {
				return err
			}

			all, err := c.LoadAll(ctx)
			if err != nil {
				return err
			}

			for _, rec := range all {
				line, err := recordJSON(rec)
				if err != nil {
					return err
				}

				o.Println(line)
			}

			return nil
		},
	}
}

// RmCmd returns the rm command.
func RmCmd(a *app) *Command {
	fs := tableFlags("rm")

	return &Command{
		Flags: fs,
		Usage: "rm <id>... [flags]",
		Short: "Delete records by id",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errNoIDs
			}

			c, err := a.collection(ctx, fs)
			if err != nil {
				return err
			}

			for _, id := range args {
				deleted, err := c.Delete(ctx, id)
				if err != nil {
					return err
				}

				if !deleted {
					o.Warn("record not found: " + id)

					continue
				}

				o.Println("deleted", id)
			}

			return nil
		},
	}
}

// ClearCmd returns the clear command.
func ClearCmd(a *app) *Command {
	fs := tableFlags("clear")

	return &Command{
		Flags: fs,
		Usage: "clear [flags]",
		Short: "Delete every record of a table",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			c, err := a.collection(ctx, fs)
			if err != nil {
				return err
			}

			err = c.Clear(ctx)
			if err != nil {
				return err
			}

			o.Println("cleared", c.Name())

			return nil
		},
	}
}

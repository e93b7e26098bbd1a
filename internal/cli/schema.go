package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
)

// RenameTableCmd returns the rename-table command.
func RenameTableCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("rename-table", flag.ContinueOnError),
		Usage: "rename-table <from> <to>",
		Short: "Rename a table",
		Long:  "Move every row and column of a table to a new name. Fails when the new name is taken.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("rename-table takes 2 arguments, got %d", len(args))
			}

			db, err := a.open(ctx)
			if err != nil {
				return err
			}

			err = db.RenameTable(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			o.Println("renamed", args[0], "to", args[1])

			return nil
		},
	}
}

// AddColumnCmd returns the add-column command.
func AddColumnCmd(a *app) *Command {
	fs := tableFlags("add-column")

	return &Command{
		Flags: fs,
		Usage: "add-column <column> [flags]",
		Short: "Declare a column without writing any row",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("add-column takes 1 argument, got %d", len(args))
			}

			return alterColumns(ctx, o, a, fs, "added", args[0], func(ctx context.Context, table string) error {
				db, err := a.open(ctx)
				if err != nil {
					return err
				}

				return db.AddColumn(ctx, table, args[0])
			})
		},
	}
}

// RenameColumnCmd returns the rename-column command.
func RenameColumnCmd(a *app) *Command {
	fs := tableFlags("rename-column")

	return &Command{
		Flags: fs,
		Usage: "rename-column <from> <to> [flags]",
		Short: "Rename a column in every row",
		Long:  "Rename a column in the table's column list and in every row, keeping its position. The id column cannot be renamed.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("rename-column takes 2 arguments, got %d", len(args))
			}

			return alterColumns(ctx, o, a, fs, "renamed", args[0]+" to "+args[1], func(ctx context.Context, table string) error {
				db, err := a.open(ctx)
				if err != nil {
					return err
				}

				return db.RenameColumn(ctx, table, args[0], args[1])
			})
		},
	}
}

// DropColumnCmd returns the drop-column command.
func DropColumnCmd(a *app) *Command {
	fs := tableFlags("drop-column")

	return &Command{
		Flags: fs,
		Usage: "drop-column <column> [flags]",
		Short: "Remove a column and its values",
		Long:  "Remove a column from the table's column list and from every row. The id column cannot be dropped.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("drop-column takes 1 argument, got %d", len(args))
			}

			return alterColumns(ctx, o, a, fs, "dropped", args[0], func(ctx context.Context, table string) error {
				db, err := a.open(ctx)
				if err != nil {
					return err
				}

				return db.DropColumn(ctx, table, args[0])
			})
		},
	}
}

// alterColumns resolves --table, runs fn and reports what it did.
func alterColumns(ctx context.Context, o *IO, a *app, fs *flag.FlagSet, verb, what string, fn func(context.Context, string) error) error {
	flagValue, _ := fs.GetString("table")

	table, err := a.table(flagValue)
	if err != nil {
		return err
	}

	err = fn(ctx, table)
	if err != nil {
		return err
	}

	o.Println(verb, table+"."+what)

	return nil
}

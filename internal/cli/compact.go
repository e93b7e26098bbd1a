package cli

import (
	"context"
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/jsonsql/pkg/tables"
)

var errCompactUnsupported = errors.New("compact requires the jsonl backend")

// CompactCmd returns the compact command.
func CompactCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("compact", flag.ContinueOnError),
		Usage: "compact [table...]",
		Short: "Rewrite JSON-lines logs to their current rows",
		Long:  "Rewrite the log of each named table (default: all tables) so it holds one line per live row.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			db, err := a.open(ctx)
			if err != nil {
				return err
			}

			jl, ok := a.back.(*tables.JSONL)
			if !ok {
				return errCompactUnsupported
			}

			names := args
			if len(names) == 0 {
				names, err = db.Tables(ctx)
				if err != nil {
					return err
				}
			}

			for _, name := range names {
				err := jl.Compact(ctx, name)
				if err != nil {
					return err
				}

				o.Println("compacted", name)
			}

			return nil
		},
	}
}

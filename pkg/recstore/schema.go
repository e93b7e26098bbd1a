package recstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
	"github.com/calvinalkan/jsonsql/pkg/tables"
)

// RenameTable moves table from, rows and columns, to the name to. It fails
// with [jsonsql.ErrNoSuchTable] when from does not exist and with
// [jsonsql.ErrTableExists] when to does.
//
// The new table is committed before the old one is cleared. A failure between
// the two leaves both names holding the rows.
func (db *DB) RenameTable(ctx context.Context, from, to string) error {
	if db.closed.Load() {
		return ErrClosed
	}

	for _, name := range []string{from, to} {
		err := tables.ValidateTableName(name)
		if err != nil {
			return withContext(err, name, "")
		}
	}

	unlock := db.lockTables(from, to)
	defer unlock()

	snap, err := db.backend.Load(ctx)
	if err != nil {
		return withContext(err, from, "")
	}

	err = snap.Rename(from, to)
	if err != nil {
		return withContext(err, from, "")
	}

	err = db.backend.Commit(ctx, snap)
	if err != nil {
		return withContext(err, to, "")
	}

	err = db.backend.Clear(ctx, from)
	if err != nil {
		return withContext(err, from, "")
	}

	db.log.Debug("table renamed", slog.String("from", from), slog.String("to", to))

	return nil
}

// AddColumn declares col on table without writing it to any row.
func (db *DB) AddColumn(ctx context.Context, table, col string) error {
	return db.alterTable(ctx, table, func(t *jsonsql.Table) error {
		return t.AddColumn(col)
	})
}

// RenameColumn renames a column of table in place. The id column cannot be
// renamed.
func (db *DB) RenameColumn(ctx context.Context, table, from, to string) error {
	return db.alterTable(ctx, table, func(t *jsonsql.Table) error {
		return t.RenameColumn(from, to)
	})
}

// DropColumn removes col, and its values, from table. The id column cannot be
// dropped.
func (db *DB) DropColumn(ctx context.Context, table, col string) error {
	return db.alterTable(ctx, table, func(t *jsonsql.Table) error {
		return t.DropColumn(col)
	})
}

// alterTable applies fn to a writable copy of an existing table and commits
// it under the table's lock.
func (db *DB) alterTable(ctx context.Context, table string, fn func(*jsonsql.Table) error) error {
	if db.closed.Load() {
		return ErrClosed
	}

	unlock := db.lockTable(table)
	defer unlock()

	snap, err := db.backend.Load(ctx)
	if err != nil {
		return withContext(err, table, "")
	}

	if _, ok := snap.Table(table); !ok {
		return withContext(fmt.Errorf("%w: %s", jsonsql.ErrNoSuchTable, table), table, "")
	}

	err = fn(snap.Edit(table))
	if err != nil {
		return withContext(err, table, "")
	}

	err = db.backend.Commit(ctx, snap)
	if err != nil {
		return withContext(err, table, "")
	}

	return nil
}

// lockTables takes the locks of several tables in name order, so two callers
// locking the same pair cannot deadlock.
func (db *DB) lockTables(names ...string) func() {
	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)

	unlocks := make([]func(), 0, len(names))
	for _, name := range names {
		unlocks = append(unlocks, db.lockTable(name))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

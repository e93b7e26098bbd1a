package recstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

// Collection stores records of one kind in one table.
type Collection struct {
	db     *DB
	table  string
	schema Schema
}

// Name returns the table name.
func (c *Collection) Name() string { return c.table }

// Save validates rec and stores it, updating the stored record with the same
// id or inserting a new one. A record without an id gets a generated one.
// Fields the stored record has but rec lacks are kept.
//
// The returned record is rec with its id filled in.
func (c *Collection) Save(ctx context.Context, rec Record) (Record, error) {
	if c.db.closed.Load() {
		return nil, ErrClosed
	}

	rec = rec.Clone()

	err := c.validate(rec)
	if err != nil {
		return nil, withContext(err, c.table, rec.ID())
	}

	if _, ok := rec[IDField]; !ok {
		id, err := c.db.newID()
		if err != nil {
			return nil, withContext(err, c.table, "")
		}

		rec[IDField] = jsonsql.String(id)
	}

	id := rec.ID()

	cols, cells, err := encodeRecord(rec, c.schema.Fields)
	if err != nil {
		return nil, withContext(err, c.table, id)
	}

	unlock := c.db.lockTable(c.table)
	defer unlock()

	err = c.db.withPolicy(c.table, func(scan bool) error {
		return c.saveLocked(ctx, cols, cells, scan)
	})
	if err != nil {
		return nil, withContext(err, c.table, id)
	}

	return rec, nil
}

func (c *Collection) validate(rec Record) error {
	if v, ok := rec[IDField]; ok {
		id, isString := v.AsString()
		if !isString || id == "" {
			return &ValidationError{Field: IDField, Err: fmt.Errorf("must be a non-empty string, got %s", v.Kind())}
		}
	}

	if c.schema.Validate == nil {
		return nil
	}

	err := c.schema.Validate(rec)
	if err == nil {
		return nil
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}

	return &ValidationError{Err: err}
}

// saveLocked requires the table lock. cells[0] is the encoded id.
func (c *Collection) saveLocked(ctx context.Context, cols []string, cells []jsonsql.Cell, scan bool) error {
	snap, err := c.db.backend.Load(ctx)
	if err != nil {
		return err
	}

	idv := jsonsql.String(cells[0].Text())

	existing, found, err := c.findLocked(snap, idv, scan)
	if err != nil {
		return err
	}

	var next *jsonsql.Snapshot

	switch {
	case !found:
		res, err := c.db.query(c.table, jsonsql.BuildInsert(c.table, cols, cells), snap)
		if err != nil {
			return err
		}

		next = res.Snapshot
	case !scan:
		src, err := jsonsql.BuildUpdate(c.table, cols, cells, jsonsql.ColumnEquals(IDField, idv))
		if err != nil {
			return err
		}

		res, err := c.db.query(c.table, src, snap)
		if err != nil {
			return err
		}

		next = res.Snapshot
	default:
		row := existing.Clone()
		for i, col := range cols {
			row.Set(col, jsonsql.FromCell(cells[i]))
		}

		next = snap.Fork()

		err := next.Edit(c.table).Put(row)
		if err != nil {
			return err
		}
	}

	return c.db.backend.Commit(ctx, next)
}

// findLocked requires the table lock.
func (c *Collection) findLocked(snap *jsonsql.Snapshot, idv jsonsql.Value, scan bool) (*jsonsql.Row, bool, error) {
	var where *jsonsql.Predicate
	if !scan {
		where = jsonsql.ColumnEquals(IDField, idv)
	}

	src, err := jsonsql.BuildSelect(c.table, nil, where)
	if err != nil {
		return nil, false, err
	}

	res, err := c.db.query(c.table, src, snap)
	if err != nil {
		return nil, false, err
	}

	for _, row := range res.Rows {
		if jsonsql.Equivalent(row.Get(IDField), idv) {
			return row, true, nil
		}
	}

	return nil, false, nil
}

// Load returns the record with the given id. A missing record is reported as
// (nil, false, nil), not as an error.
func (c *Collection) Load(ctx context.Context, id string) (Record, bool, error) {
	if c.db.closed.Load() {
		return nil, false, ErrClosed
	}

	idv, err := idValue(id)
	if err != nil {
		return nil, false, withContext(err, c.table, id)
	}

	unlock := c.db.lockTable(c.table)
	defer unlock()

	var (
		row   *jsonsql.Row
		found bool
	)

	err = c.db.withPolicy(c.table, func(scan bool) error {
		snap, err := c.db.backend.Load(ctx)
		if err != nil {
			return err
		}

		row, found, err = c.findLocked(snap, idv, scan)

		return err
	})
	if err != nil {
		return nil, false, withContext(err, c.table, id)
	}

	if !found {
		return nil, false, nil
	}

	return decodeRow(row), true, nil
}

// LoadAll returns every record in insertion order.
func (c *Collection) LoadAll(ctx context.Context) ([]Record, error) {
	if c.db.closed.Load() {
		return nil, ErrClosed
	}

	unlock := c.db.lockTable(c.table)
	defer unlock()

	snap, err := c.db.backend.Load(ctx)
	if err != nil {
		return nil, withContext(err, c.table, "")
	}

	src, err := jsonsql.BuildSelect(c.table, nil, nil)
	if err != nil {
		return nil, withContext(err, c.table, "")
	}

	res, err := c.db.query(c.table, src, snap)
	if err != nil {
		return nil, withContext(err, c.table, "")
	}

	out := make([]Record, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = decodeRow(row)
	}

	return out, nil
}

// Delete removes the record with the given id and reports whether it existed.
func (c *Collection) Delete(ctx context.Context, id string) (bool, error) {
	if c.db.closed.Load() {
		return false, ErrClosed
	}

	idv, err := idValue(id)
	if err != nil {
		return false, withContext(err, c.table, id)
	}

	unlock := c.db.lockTable(c.table)
	defer unlock()

	var deleted bool

	err = c.db.withPolicy(c.table, func(scan bool) error {
		var err error

		deleted, err = c.deleteLocked(ctx, idv, scan)

		return err
	})
	if err != nil {
		return false, withContext(err, c.table, id)
	}

	return deleted, nil
}

// deleteLocked requires the table lock.
func (c *Collection) deleteLocked(ctx context.Context, idv jsonsql.Value, scan bool) (bool, error) {
	snap, err := c.db.backend.Load(ctx)
	if err != nil {
		return false, err
	}

	var next *jsonsql.Snapshot

	if scan {
		if _, found, err := c.findLocked(snap, idv, true); err != nil || !found {
			return false, err
		}

		next = snap.Fork()
		next.Edit(c.table).Remove(idv)
	} else {
		src, err := jsonsql.BuildDelete(c.table, jsonsql.ColumnEquals(IDField, idv))
		if err != nil {
			return false, err
		}

		res, err := c.db.query(c.table, src, snap)
		if err != nil {
			return false, err
		}

		if res.Affected == 0 {
			return false, nil
		}

		next = res.Snapshot
	}

	err = c.db.backend.Commit(ctx, next)
	if err != nil {
		return false, err
	}

	return true, nil
}

// Clear removes every record. Clearing an empty or never written collection is
// not an error.
func (c *Collection) Clear(ctx context.Context) error {
	if c.db.closed.Load() {
		return ErrClosed
	}

	unlock := c.db.lockTable(c.table)
	defer unlock()

	c.db.log.Debug("clear", "table", c.table)

	return withContext(c.db.backend.Clear(ctx, c.table), c.table, "")
}

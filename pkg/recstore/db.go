// Package recstore stores records by id on top of a [tables.Backend].
//
// A [DB] is the storage context: it owns the backend, the statement
// evaluator, the id generator and one lock per table. Collections built from a
// DB translate save, load, delete and clear into statements of the jsonsql
// subset, with every identifier quoted so field names may be SQL keywords.
//
// Every collection operation holds its table's lock across load, evaluate and
// commit, so concurrent saves to one table never lose each other's writes.
package recstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
	"github.com/calvinalkan/jsonsql/pkg/tables"
)

// Config configures [Open]. The zero value is usable.
type Config struct {
	// Evaluator runs statements. Defaults to [jsonsql.NewEvaluator].
	Evaluator *jsonsql.Evaluator

	// Logger receives statement debug logs and policy warnings. Defaults to
	// discarding.
	Logger *slog.Logger

	// NewID generates ids for records saved without one. Defaults to UUIDv7,
	// which sorts by creation time.
	NewID func() (string, error)
}

// DB is a record store over one backend.
type DB struct {
	backend tables.Backend
	ev      *jsonsql.Evaluator
	log     *slog.Logger
	newID   func() (string, error)

	// scan is the predicate policy. When set, reads select every row and
	// filter by id in Go instead of trusting a WHERE clause.
	scan atomic.Bool

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed atomic.Bool
}

// Open returns a DB over backend. The DB takes ownership of backend and closes
// it in [DB.Close].
func Open(backend tables.Backend, cfg Config) (*DB, error) {
	if backend == nil {
		return nil, errors.New("recstore: backend is nil")
	}

	db := &DB{
		backend: backend,
		ev:      cfg.Evaluator,
		log:     cfg.Logger,
		newID:   cfg.NewID,
		locks:   map[string]*sync.Mutex{},
	}

	if db.ev == nil {
		db.ev = jsonsql.NewEvaluator()
	}

	if db.log == nil {
		db.log = slog.New(slog.DiscardHandler)
	}

	if db.newID == nil {
		db.newID = newUUIDv7
	}

	if !db.ev.SupportsRowLocalPredicateBinding() {
		db.scan.Store(true)
		db.log.Info("evaluator cannot bind row columns, filtering by id in scans")
	}

	return db, nil
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}

	return id.String(), nil
}

// ScanMode reports whether the DB filters by id itself instead of using WHERE
// clauses.
func (db *DB) ScanMode() bool {
	return db.scan.Load()
}

// Collection returns the collection stored in table.
func (db *DB) Collection(table string, schema Schema) (*Collection, error) {
	err := tables.ValidateTableName(table)
	if err != nil {
		return nil, withContext(err, table, "")
	}

	return &Collection{db: db, table: table, schema: schema}, nil
}

// Exec runs one statement under the target table's lock and commits it when it
// mutates. vars are visible to WHERE clauses.
func (db *DB) Exec(ctx context.Context, src string, vars jsonsql.Vars) (jsonsql.Result, error) {
	if db.closed.Load() {
		return jsonsql.Result{}, ErrClosed
	}

	stmt, err := jsonsql.Parse(src)
	if err != nil {
		return jsonsql.Result{}, err
	}

	table := stmt.TableName()

	if stmt.Mutates() {
		err := tables.ValidateTableName(table)
		if err != nil {
			return jsonsql.Result{}, withContext(err, table, "")
		}
	}

	unlock := db.lockTable(table)
	defer unlock()

	snap, err := db.backend.Load(ctx)
	if err != nil {
		return jsonsql.Result{}, withContext(err, table, "")
	}

	db.log.Debug("exec", slog.String("table", table), slog.String("sql", src))

	res, err := db.ev.Exec(stmt, snap, vars)
	if err != nil {
		return jsonsql.Result{}, withContext(err, table, "")
	}

	if stmt.Mutates() {
		err = db.backend.Commit(ctx, res.Snapshot)
		if err != nil {
			return jsonsql.Result{}, withContext(err, table, "")
		}
	}

	return res, nil
}

// Tables returns the names of all stored tables, sorted.
func (db *DB) Tables(ctx context.Context) ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	snap, err := db.backend.Load(ctx)
	if err != nil {
		return nil, err
	}

	return snap.Names(), nil
}

// Close closes the backend. Further calls return [ErrClosed].
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return ErrClosed
	}

	return db.backend.Close()
}

// lockTable takes the table's lock and returns its release. The release is
// safe to call more than once.
func (db *DB) lockTable(table string) func() {
	db.mu.Lock()

	m, ok := db.locks[table]
	if !ok {
		m = &sync.Mutex{}
		db.locks[table] = m
	}

	db.mu.Unlock()

	m.Lock()

	var once sync.Once

	return func() { once.Do(m.Unlock) }
}

// withPolicy runs fn under the current predicate policy. If the evaluator
// rejects a row-local WHERE clause anyway, the DB switches to scan mode for
// good and fn runs again. fn must not have committed anything when it returns
// a binding error.
func (db *DB) withPolicy(table string, fn func(scan bool) error) error {
	if db.scan.Load() {
		return fn(true)
	}

	err := fn(false)

	var berr *jsonsql.BindingError
	if !errors.As(err, &berr) {
		return err
	}

	if db.scan.CompareAndSwap(false, true) {
		db.log.Warn("evaluator rejected row-local predicate, switching to id scans",
			slog.String("table", table), slog.String("identifier", berr.Name))
	}

	return fn(true)
}

// query parses and evaluates src, logging it.
func (db *DB) query(table, src string, snap *jsonsql.Snapshot) (jsonsql.Result, error) {
	db.log.Debug("statement", slog.String("table", table), slog.String("sql", src))

	return db.ev.Query(src, snap, nil)
}

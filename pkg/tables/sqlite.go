package tables

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

const sqliteBusyTimeoutMs = 10000

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jsonsql_tables (
	name    TEXT PRIMARY KEY,
	columns TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS jsonsql_rows (
	tbl TEXT    NOT NULL,
	seq INTEGER NOT NULL,
	id  TEXT    NOT NULL,
	row TEXT    NOT NULL,
	PRIMARY KEY (tbl, id)
);

CREATE INDEX IF NOT EXISTS jsonsql_rows_order ON jsonsql_rows (tbl, seq);
`

// SQLite stores all tables in one SQLite database. Rows are kept as JSON
// objects of cells together with their insertion sequence; a commit rewrites
// each changed table inside one transaction.
type SQLite struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := openSqlite(ctx, path)
	if err != nil {
		return nil, ioError("open", path, err)
	}

	_, err = db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		return nil, errors.Join(ioError("create schema", path, err), db.Close())
	}

	return &SQLite{db: db}, nil
}

func openSqlite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	// Per-connection PRAGMAs and ":memory:" databases need a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("sqlite: ping: %w", err), db.Close())
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeoutMs))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("sqlite: apply pragmas: %w", err), db.Close())
	}

	return db, nil
}

func (s *SQLite) Load(ctx context.Context) (*jsonsql.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	tables := map[string]*jsonsql.Table{}

	err := s.loadTables(ctx, tables)
	if err != nil {
		return nil, err
	}

	err = s.loadRows(ctx, tables)
	if err != nil {
		return nil, err
	}

	snap := jsonsql.NewSnapshot()
	for _, t := range tables {
		snap.Add(t)
	}

	return snap, nil
}

func (s *SQLite) loadTables(ctx context.Context, into map[string]*jsonsql.Table) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, columns FROM jsonsql_tables`)
	if err != nil {
		return ioError("query", "jsonsql_tables", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, colsJSON string

		err := rows.Scan(&name, &colsJSON)
		if err != nil {
			return ioError("scan", "jsonsql_tables", err)
		}

		var cols []string

		err = json.Unmarshal([]byte(colsJSON), &cols)
		if err != nil {
			return ioError("decode columns", name, err)
		}

		into[name] = jsonsql.NewTableWithColumns(name, cols)
	}

	err = rows.Err()
	if err != nil {
		return ioError("query", "jsonsql_tables", err)
	}

	return nil
}

func (s *SQLite) loadRows(ctx context.Context, into map[string]*jsonsql.Table) error {
	rows, err := s.db.QueryContext(ctx, `SELECT tbl, row FROM jsonsql_rows ORDER BY tbl, seq`)
	if err != nil {
		return ioError("query", "jsonsql_rows", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string

		var data []byte

		err := rows.Scan(&name, &data)
		if err != nil {
			return ioError("scan", "jsonsql_rows", err)
		}

		row, err := decodeRowJSON(data)
		if err != nil {
			return ioError("decode row", name, err)
		}

		t, ok := into[name]
		if !ok {
			t = jsonsql.NewTable(name)
			into[name] = t
		}

		err = t.Insert(row)
		if err != nil {
			return ioError("load row", name, err)
		}
	}

	err = rows.Err()
	if err != nil {
		return ioError("query", "jsonsql_rows", err)
	}

	return nil
}

func (s *SQLite) Commit(ctx context.Context, snap *jsonsql.Snapshot) error {
	changed := snap.Changed()
	if len(changed) == 0 {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError("begin", "commit", err)
	}

	for _, name := range changed {
		t, ok := snap.Table(name)
		if !ok {
			continue
		}

		err := writeSQLiteTable(ctx, tx, t)
		if err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}

	err = tx.Commit()
	if err != nil {
		return ioError("commit", "tx", err)
	}

	return nil
}

func writeSQLiteTable(ctx context.Context, tx *sql.Tx, t *jsonsql.Table) error {
	name := t.Name()

	cols, err := json.Marshal(t.Columns())
	if err != nil {
		return ioError("encode columns", name, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jsonsql_tables (name, columns) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET columns = excluded.columns`,
		name, string(cols))
	if err != nil {
		return ioError("upsert table", name, err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM jsonsql_rows WHERE tbl = ?`, name)
	if err != nil {
		return ioError("delete rows", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO jsonsql_rows (tbl, seq, id, row) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return ioError("prepare insert", name, err)
	}

	defer func() { _ = stmt.Close() }()

	for seq, row := range t.Rows() {
		var buf bytes.Buffer

		err := appendRowObject(&buf, row)
		if err != nil {
			return ioError("encode row", name, err)
		}

		id, _ := jsonsql.Text(row.Get(jsonsql.IDColumn))

		_, err = stmt.ExecContext(ctx, name, seq, id, buf.String())
		if err != nil {
			return ioError("insert row", name, err)
		}
	}

	return nil
}

func (s *SQLite) Clear(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError("begin", "clear", err)
	}

	for _, q := range []string{
		`DELETE FROM jsonsql_rows WHERE tbl = ?`,
		`DELETE FROM jsonsql_tables WHERE name = ?`,
	} {
		_, err := tx.ExecContext(ctx, q, table)
		if err != nil {
			return errors.Join(ioError("clear", table, err), tx.Rollback())
		}
	}

	err = tx.Commit()
	if err != nil {
		return ioError("commit", "clear", err)
	}

	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.closed = true

	err := s.db.Close()
	if err != nil {
		return ioError("close", "sqlite", err)
	}

	return nil
}

var _ Backend = (*SQLite)(nil)

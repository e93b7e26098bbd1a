package tables

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/calvinalkan/jsonsql/pkg/fs"
	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

const logFileExt = ".jsonl"

// Log record operations.
const (
	opInsert = "insert"
	opUpdate = "update"
	opDelete = "delete"

	// opColumns declares column order. Rewrites start with it when the rows
	// alone would not reproduce the table's columns.
	opColumns = "columns"
)

// logRecord is one line of a table log.
type logRecord struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Row     json.RawMessage `json:"row,omitempty"`
	Columns []string        `json:"columns,omitempty"`
}

// JSONL stores each table as an append-only log <dir>/<table>.jsonl:
//
//	{"op":"insert","id":"u1","row":{"id":"u1","name":"John"}}
//	{"op":"update","id":"u1","row":{"id":"u1","name":"Jane"}}
//	{"op":"delete","id":"u1"}
//
// Loading folds the log: the last record per id wins and deletes are
// tombstones. Commit appends one record per changed row and fsyncs. A final
// line without a newline is a torn write and is ignored. Use [JSONL.Compact]
// to rewrite a log as its folded state.
type JSONL struct {
	dir    string
	fs     fs.FS
	log    *slog.Logger
	locker *fs.Locker

	mu     sync.Mutex
	logs   map[string]*logState
	closed bool
}

// logState is the folded content of a log up to offset. file identifies the
// log that was folded; a replaced log (compaction elsewhere) is refolded even
// if it has since grown past offset.
type logState struct {
	offset int64
	table  *jsonsql.Table
	file   os.FileInfo
}

// NewJSONL returns a backend rooted at dir, creating the directory.
func NewJSONL(dir string, opts ...Option) (*JSONL, error) {
	o := buildOptions(opts)

	err := o.fs.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, ioError("mkdir", dir, err)
	}

	b := &JSONL{dir: dir, fs: o.fs, log: o.logger, logs: map[string]*logState{}}

	if o.lock {
		b.locker = fs.NewLocker(o.fs)
	}

	return b, nil
}

func (b *JSONL) Load(ctx context.Context) (*jsonsql.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	entries, err := b.fs.ReadDir(b.dir)
	if err != nil {
		return nil, ioError("readdir", b.dir, err)
	}

	seen := map[string]struct{}{}
	snap := jsonsql.NewSnapshot()

	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), logFileExt)
		if !ok || e.IsDir() || ValidateTableName(name) != nil {
			continue
		}

		st, err := b.refresh(name)
		if err != nil {
			return nil, err
		}

		seen[name] = struct{}{}
		snap.Add(st.table.Clone())
	}

	for name := range b.logs {
		if _, ok := seen[name]; !ok {
			delete(b.logs, name)
		}
	}

	return snap, nil
}

// refresh folds any records appended since the cached offset. A log that
// shrank below the offset or was replaced by another file is folded from the
// start.
func (b *JSONL) refresh(name string) (*logState, error) {
	path := b.logPath(name)

	st, ok := b.logs[name]
	if !ok {
		st = &logState{table: jsonsql.NewTable(name)}
	}

	info, err := b.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		delete(b.logs, name)

		return &logState{table: jsonsql.NewTable(name)}, nil
	}

	if err != nil {
		return nil, ioError("stat", path, err)
	}

	switch {
	case st.file != nil && !os.SameFile(st.file, info):
		b.log.Debug("log replaced, refolding", slog.String("table", name))

		st = &logState{table: jsonsql.NewTable(name)}
	case info.Size() < st.offset:
		b.log.Debug("log shrank, refolding", slog.String("table", name))

		st = &logState{table: jsonsql.NewTable(name)}
	}

	if info.Size() == st.offset {
		st = &logState{offset: st.offset, table: st.table, file: info}
		b.logs[name] = st

		return st, nil
	}

	f, err := b.fs.Open(path)
	if err != nil {
		return nil, ioError("open", path, err)
	}

	defer func() { _ = f.Close() }()

	_, err = f.Seek(st.offset, io.SeekStart)
	if err != nil {
		return nil, ioError("seek", path, err)
	}

	tail, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError("read", path, err)
	}

	complete := bytes.LastIndexByte(tail, '\n') + 1

	// Fold into a copy so a corrupt record leaves the cache as it was.
	table := st.table.Clone()

	for line := range bytes.Lines(tail[:complete]) {
		err := b.apply(table, line)
		if err != nil {
			return nil, ioError("fold", path, err)
		}
	}

	if complete < len(tail) {
		b.log.Warn("ignoring torn final log line", slog.String("table", name), slog.Int("bytes", len(tail)-complete))
	}

	st = &logState{offset: st.offset + int64(complete), table: table, file: info}
	b.logs[name] = st

	return st, nil
}

func (b *JSONL) apply(table *jsonsql.Table, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var rec logRecord

	err := json.Unmarshal(line, &rec)
	if err != nil {
		// A torn line terminated by a later append. It never committed.
		if !json.Valid(line) {
			b.log.Warn("skipping unreadable log line", slog.String("table", table.Name()))

			return nil
		}

		return err
	}

	switch rec.Op {
	case opInsert, opUpdate:
		row, err := decodeRowJSON(rec.Row)
		if err != nil {
			return fmt.Errorf("record %s %s: %w", rec.Op, rec.ID, err)
		}

		return table.Put(row)
	case opDelete:
		table.Remove(jsonsql.String(rec.ID))

		return nil
	case opColumns:
		for _, c := range rec.Columns {
			if !slices.Contains(table.Columns(), c) {
				_ = table.AddColumn(c)
			}
		}

		return nil
	}

	return fmt.Errorf("record %s: unknown op %q", rec.ID, rec.Op)
}

func (b *JSONL) Commit(ctx context.Context, snap *jsonsql.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	changed := snap.Changed()
	if len(changed) == 0 {
		return nil
	}

	for _, name := range changed {
		if err := ValidateTableName(name); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	release, err := acquireDirLock(b.locker, b.dir, b.log)
	if err != nil {
		return err
	}
	defer release()

	// Tables already written are rolled back when a later one fails, so a
	// failed commit leaves every log as it was.
	var undo []func() error

	for _, name := range changed {
		t, ok := snap.Table(name)
		if !ok {
			continue
		}

		rollback, err := b.commitTable(t)
		if err != nil {
			return errors.Join(err, runUndo(undo))
		}

		undo = append(undo, rollback)
	}

	return nil
}

// runUndo runs rollbacks newest first.
func runUndo(undo []func() error) error {
	var errs []error

	for i := len(undo) - 1; i >= 0; i-- {
		errs = append(errs, undo[i]())
	}

	return errors.Join(errs...)
}

// commitTable writes next and returns how to restore the previous log.
func (b *JSONL) commitTable(next *jsonsql.Table) (func() error, error) {
	name := next.Name()
	path := b.logPath(name)

	st, err := b.refresh(name)
	if err != nil {
		return nil, err
	}

	forget := func() error {
		delete(b.logs, name)

		return nil
	}

	if !sameRelativeOrder(st.table, next) {
		b.log.Debug("row order changed, rewriting log", slog.String("table", name))

		return b.rewrite(next)
	}

	if !slices.Equal(foldedColumns(st.table, next), next.Columns()) {
		b.log.Debug("columns changed, rewriting log", slog.String("table", name))

		return b.rewrite(next)
	}

	data, err := diffRecords(st.table, next)
	if err != nil {
		return nil, ioError("encode", path, err)
	}

	if len(data) == 0 && st.offset > 0 {
		b.logs[name] = &logState{offset: st.offset, table: next.Clone(), file: st.file}

		return forget, nil
	}

	before, info, err := b.appendRecords(path, st.offset, data)
	if err != nil {
		return nil, err
	}

	b.logs[name] = &logState{offset: info.Size(), table: next.Clone(), file: info}

	return func() error {
		delete(b.logs, name)

		return b.truncate(path, before)
	}, nil
}

// appendRecords appends data and fsyncs. It returns the file size before the
// append and the file info after it. Bytes past folded (a torn tail left by an
// earlier crash) are terminated with a newline first so they cannot merge with
// the new records. On failure the file is truncated back to its old size.
func (b *JSONL) appendRecords(path string, folded int64, data []byte) (int64, os.FileInfo, error) {
	f, err := b.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return 0, nil, ioError("open", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return 0, nil, ioError("stat", path, err)
	}

	before := info.Size()

	var buf []byte
	if before > folded {
		buf = append(buf, '\n')
	}

	buf = append(buf, data...)

	_, err = f.Write(buf)
	if err == nil {
		err = f.Sync()
	}

	if err != nil {
		truncErr := f.Truncate(before)
		if truncErr != nil {
			truncErr = fmt.Errorf("truncate after failed append: %w", truncErr)
		}

		return 0, nil, ioError("append", path, errors.Join(err, truncErr, f.Close()))
	}

	after, err := f.Stat()

	closeErr := f.Close()
	if err != nil || closeErr != nil {
		return 0, nil, ioError("append", path, errors.Join(err, closeErr))
	}

	return before, after, nil
}

// truncate cuts a log back to size.
func (b *JSONL) truncate(path string, size int64) error {
	f, err := b.fs.OpenFile(path, os.O_WRONLY, filePerm)
	if err != nil {
		return ioError("open", path, err)
	}

	err = f.Truncate(size)
	if err == nil {
		err = f.Sync()
	}

	closeErr := f.Close()
	if err != nil || closeErr != nil {
		return ioError("truncate", path, errors.Join(err, closeErr))
	}

	return nil
}

// Compact rewrites a table log as one insert record per live row.
func (b *JSONL) Compact(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := ValidateTableName(table); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	release, err := acquireDirLock(b.locker, b.dir, b.log)
	if err != nil {
		return err
	}
	defer release()

	exists, err := b.fs.Exists(b.logPath(table))
	if err != nil {
		return ioError("stat", b.logPath(table), err)
	}

	if !exists {
		return nil
	}

	st, err := b.refresh(table)
	if err != nil {
		return err
	}

	_, err = b.rewrite(st.table)

	return err
}

// rewrite replaces a table log with one insert record per row and returns
// how to restore the previous log.
func (b *JSONL) rewrite(t *jsonsql.Table) (func() error, error) {
	name := t.Name()
	path := b.logPath(name)

	prev, err := b.fs.ReadFile(path)
	existed := err == nil

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioError("read", path, err)
	}

	var buf bytes.Buffer

	empty := jsonsql.NewTable(name)
	if !slices.Equal(foldedColumns(empty, t), t.Columns()) {
		line, err := json.Marshal(logRecord{Op: opColumns, Columns: t.Columns()})
		if err != nil {
			return nil, ioError("encode", path, err)
		}

		buf.Write(line)
		buf.WriteByte('\n')
	}

	rows, err := diffRecords(empty, t)
	if err != nil {
		return nil, ioError("encode", path, err)
	}

	buf.Write(rows)
	data := buf.Bytes()

	err = b.fs.WriteFileAtomic(path, data, filePerm)
	if err != nil {
		return nil, ioError("write", path, err)
	}

	info, err := b.fs.Stat(path)
	if err != nil {
		return nil, ioError("stat", path, err)
	}

	b.logs[name] = &logState{offset: int64(len(data)), table: t.Clone(), file: info}

	return func() error {
		delete(b.logs, name)

		if !existed {
			err := b.fs.Remove(path)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return ioError("remove", path, err)
			}

			return nil
		}

		err := b.fs.WriteFileAtomic(path, prev, filePerm)
		if err != nil {
			return ioError("restore", path, err)
		}

		return nil
	}, nil
}

func (b *JSONL) Clear(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := ValidateTableName(table); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	release, err := acquireDirLock(b.locker, b.dir, b.log)
	if err != nil {
		return err
	}
	defer release()

	path := b.logPath(table)

	err = b.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioError("remove", path, err)
	}

	delete(b.logs, table)

	return nil
}

func (b *JSONL) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.closed = true
	b.logs = nil

	return nil
}

func (b *JSONL) logPath(name string) string {
	return filepath.Join(b.dir, name+logFileExt)
}

// diffRecords returns the log lines that turn prev into next: deletes for
// vanished ids, then inserts and updates in next's row order.
func diffRecords(prev, next *jsonsql.Table) ([]byte, error) {
	var buf bytes.Buffer

	for _, row := range prev.Rows() {
		id := row.Get(jsonsql.IDColumn)
		if _, ok := next.Lookup(id); ok {
			continue
		}

		err := writeRecord(&buf, opDelete, id, nil)
		if err != nil {
			return nil, err
		}
	}

	for _, row := range next.Rows() {
		id := row.Get(jsonsql.IDColumn)
		op := opInsert

		if old, ok := prev.Lookup(id); ok {
			if old.Equal(row) {
				continue
			}

			op = opUpdate
		}

		err := writeRecord(&buf, op, id, row)
		if err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeRecord(buf *bytes.Buffer, op string, id jsonsql.Value, row *jsonsql.Row) error {
	idText, _ := jsonsql.Text(id)
	rec := logRecord{Op: op, ID: idText}

	if row != nil {
		var rowBuf bytes.Buffer

		err := appendRowObject(&rowBuf, row)
		if err != nil {
			return err
		}

		rec.Row = rowBuf.Bytes()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	buf.Write(line)
	buf.WriteByte('\n')

	return nil
}

// foldedColumns returns the columns a reader ends up with after folding the
// records that turn prev into next.
func foldedColumns(prev, next *jsonsql.Table) []string {
	cols := prev.Columns()

	for _, row := range next.Rows() {
		for _, c := range row.Columns() {
			if !slices.Contains(cols, c) {
				cols = append(cols, c)
			}
		}
	}

	return cols
}

// sameRelativeOrder reports whether rows present in both tables appear in the
// same order. Appending records can only express that case.
func sameRelativeOrder(prev, next *jsonsql.Table) bool {
	var a, b []string

	for _, row := range prev.Rows() {
		if _, ok := next.Lookup(row.Get(jsonsql.IDColumn)); ok {
			id, _ := jsonsql.Text(row.Get(jsonsql.IDColumn))
			a = append(a, id)
		}
	}

	for _, row := range next.Rows() {
		if _, ok := prev.Lookup(row.Get(jsonsql.IDColumn)); ok {
			id, _ := jsonsql.Text(row.Get(jsonsql.IDColumn))
			b = append(b, id)
		}
	}

	return slices.Equal(a, b)
}

var _ Backend = (*JSONL)(nil)

package tables

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/jsonsql/pkg/fs"
	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

const (
	tableFileExt = ".json"
	filePerm     = 0o644
	dirPerm      = 0o755

	// loadConcurrency bounds parallel table file reads.
	loadConcurrency = 8
)

// JSONDir stores each table as <dir>/<table>.json, a JSON array of row objects
// whose values are cells (string or null). <dir>/__schema__.json records
// table names and column order so empty tables survive a reload.
//
// Files are replaced atomically. A table whose encoded content hashes the same
// as the last write is not rewritten, and a file whose mtime and size match the
// last read is not parsed again.
type JSONDir struct {
	dir    string
	fs     fs.FS
	log    *slog.Logger
	locker *fs.Locker

	mu     sync.Mutex
	cache  map[string]dirEntry
	closed bool
}

type dirEntry struct {
	modTime time.Time
	size    int64
	hash    uint64
	table   *jsonsql.Table
}

type schemaFile struct {
	Version int                    `json:"version"`
	Tables  map[string]schemaTable `json:"tables"`
}

type schemaTable struct {
	Columns []string `json:"columns"`
}

// NewJSONDir returns a backend rooted at dir, creating the directory.
func NewJSONDir(dir string, opts ...Option) (*JSONDir, error) {
	o := buildOptions(opts)

	err := o.fs.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, ioError("mkdir", dir, err)
	}

	b := &JSONDir{
		dir:   dir,
		fs:    o.fs,
		log:   o.logger,
		cache: map[string]dirEntry{},
	}

	if o.lock {
		b.locker = fs.NewLocker(o.fs)
	}

	return b, nil
}

// Dir returns the data directory.
func (b *JSONDir) Dir() string { return b.dir }

func (b *JSONDir) Load(ctx context.Context) (*jsonsql.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	schema, err := b.readSchema()
	if err != nil {
		return nil, err
	}

	names, err := b.tableNames(schema)
	if err != nil {
		return nil, err
	}

	loaded := make([]dirEntry, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)

	for i, name := range names {
		cached, hasCached := b.cache[name]
		cols := schema.Tables[name].Columns

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entry, err := b.loadTable(name, cols, cached, hasCached)
			if err != nil {
				return err
			}

			loaded[i] = entry

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	snap := jsonsql.NewSnapshot()

	for i, name := range names {
		b.cache[name] = loaded[i]
		snap.Add(loaded[i].table.Clone())
	}

	return snap, nil
}

// loadTable reads one table file, reusing cached when the file is unchanged.
// A table listed in the schema without a file loads empty.
func (b *JSONDir) loadTable(name string, cols []string, cached dirEntry, hasCached bool) (dirEntry, error) {
	path := b.tablePath(name)

	info, err := b.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return dirEntry{table: jsonsql.NewTableWithColumns(name, cols)}, nil
	}

	if err != nil {
		return dirEntry{}, ioError("stat", path, err)
	}

	if hasCached && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached, nil
	}

	data, err := b.fs.ReadFile(path)
	if err != nil {
		return dirEntry{}, ioError("read", path, err)
	}

	t := jsonsql.NewTableWithColumns(name, cols)

	err = decodeTableFile(data, t)
	if err != nil {
		return dirEntry{}, ioError("decode", path, err)
	}

	b.log.Debug("table file parsed", slog.String("table", name), slog.Int("rows", t.Len()))

	return dirEntry{modTime: info.ModTime(), size: info.Size(), hash: xxh3.Hash(data), table: t}, nil
}

func (b *JSONDir) Commit(ctx context.Context, snap *jsonsql.Snapshot) error {
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

	release, err := b.processLock()
	if err != nil {
		return err
	}
	defer release()

	schema, err := b.readSchema()
	if err != nil {
		return err
	}

	// Table files already written are restored when a later write or the
	// schema write fails, so a failed commit is not visible to the next Load.
	var undo []func() error

	for _, name := range changed {
		t, ok := snap.Table(name)
		if !ok {
			continue
		}

		rollback, err := b.writeTable(t)
		if err != nil {
			return errors.Join(err, runUndo(undo))
		}

		undo = append(undo, rollback)
		schema.Tables[name] = schemaTable{Columns: t.Columns()}
	}

	err = b.writeSchema(schema)
	if err != nil {
		return errors.Join(err, runUndo(undo))
	}

	return nil
}

// writeTable writes t and returns how to restore the previous file.
func (b *JSONDir) writeTable(t *jsonsql.Table) (func() error, error) {
	name := t.Name()
	path := b.tablePath(name)

	data, err := encodeTableFile(t)
	if err != nil {
		return nil, ioError("encode", path, err)
	}

	hash := xxh3.Hash(data)

	if cached, ok := b.cache[name]; ok && cached.hash == hash && b.unchangedOnDisk(path, cached) {
		b.log.Debug("table unchanged, skipping write", slog.String("table", name))

		prev := cached.table
		cached.table = t.Clone()
		b.cache[name] = cached

		return func() error {
			cached.table = prev
			b.cache[name] = cached

			return nil
		}, nil
	}

	prev, err := b.fs.ReadFile(path)
	existed := err == nil

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioError("read", path, err)
	}

	err = b.fs.WriteFileAtomic(path, data, filePerm)
	if err != nil {
		return nil, ioError("write", path, err)
	}

	undo := func() error {
		delete(b.cache, name)

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
	}

	info, err := b.fs.Stat(path)
	if err != nil {
		return nil, errors.Join(ioError("stat", path, err), undo())
	}

	b.cache[name] = dirEntry{modTime: info.ModTime(), size: info.Size(), hash: hash, table: t.Clone()}

	b.log.Debug("table file written", slog.String("table", name), slog.Int("rows", t.Len()), slog.Int("bytes", len(data)))

	return undo, nil
}

// unchangedOnDisk reports whether the file still has the mtime and size seen
// when entry was cached.
func (b *JSONDir) unchangedOnDisk(path string, entry dirEntry) bool {
	info, err := b.fs.Stat(path)
	if err != nil {
		return false
	}

	return info.Size() == entry.size && info.ModTime().Equal(entry.modTime)
}

func (b *JSONDir) Clear(ctx context.Context, table string) error {
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

	release, err := b.processLock()
	if err != nil {
		return err
	}
	defer release()

	schema, err := b.readSchema()
	if err != nil {
		return err
	}

	if _, ok := schema.Tables[table]; ok {
		delete(schema.Tables, table)

		err = b.writeSchema(schema)
		if err != nil {
			return err
		}
	}

	path := b.tablePath(table)

	err = b.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioError("remove", path, err)
	}

	delete(b.cache, table)

	return nil
}

func (b *JSONDir) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.closed = true
	b.cache = nil

	return nil
}

func (b *JSONDir) tablePath(name string) string {
	return filepath.Join(b.dir, name+tableFileExt)
}

func (b *JSONDir) schemaPath() string {
	return filepath.Join(b.dir, schemaName+tableFileExt)
}

// tableNames merges schema tables with table files found on disk, so files
// dropped into the directory by hand are picked up.
func (b *JSONDir) tableNames(schema schemaFile) ([]string, error) {
	entries, err := b.fs.ReadDir(b.dir)
	if err != nil {
		return nil, ioError("readdir", b.dir, err)
	}

	names := make([]string, 0, len(entries)+len(schema.Tables))
	for name := range schema.Tables {
		names = append(names, name)
	}

	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), tableFileExt)
		if !ok || e.IsDir() || ValidateTableName(name) != nil {
			continue
		}

		names = append(names, name)
	}

	slices.Sort(names)

	return slices.Compact(names), nil
}

func (b *JSONDir) readSchema() (schemaFile, error) {
	schema := schemaFile{Version: 1, Tables: map[string]schemaTable{}}
	path := b.schemaPath()

	data, err := b.fs.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return schema, nil
	}

	if err != nil {
		return schemaFile{}, ioError("read", path, err)
	}

	err = json.Unmarshal(data, &schema)
	if err != nil {
		return schemaFile{}, ioError("decode", path, err)
	}

	if schema.Tables == nil {
		schema.Tables = map[string]schemaTable{}
	}

	return schema, nil
}

func (b *JSONDir) writeSchema(schema schemaFile) error {
	path := b.schemaPath()

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return ioError("encode", path, err)
	}

	data = append(data, '\n')

	current, err := b.fs.ReadFile(path)
	if err == nil && xxh3.Hash(current) == xxh3.Hash(data) {
		return nil
	}

	err = b.fs.WriteFileAtomic(path, data, filePerm)
	if err != nil {
		return ioError("write", path, err)
	}

	return nil
}

// processLock takes the directory lock when cross-process locking is enabled.
// The returned release is safe to call once.
func (b *JSONDir) processLock() (func(), error) {
	return acquireDirLock(b.locker, b.dir, b.log)
}

func acquireDirLock(locker *fs.Locker, dir string, log *slog.Logger) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}

	path := filepath.Join(dir, lockFileName)

	lk, err := locker.Lock(path)
	if err != nil {
		return nil, ioError("lock", path, err)
	}

	return func() {
		if err := lk.Close(); err != nil {
			log.Warn("releasing directory lock", slog.String("path", path), slog.Any("error", err))
		}
	}, nil
}

var _ Backend = (*JSONDir)(nil)

// Package tables persists [jsonsql.Snapshot] values.
//
// Every backend implements [Backend]. Load returns a snapshot the caller owns;
// Commit writes only the tables the snapshot reports as changed. Backends guard
// their own caches, but callers serialize load-evaluate-commit sequences per
// table themselves.
//
// Available backends:
//   - [Memory]: process memory only
//   - [JSONDir]: one JSON array file per table plus a schema file
//   - [JSONL]: one append-only JSON-lines log per table
//   - [Layered]: an in-memory overlay over another backend
//   - [SQLite]: rows in a single SQLite database file
package tables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calvinalkan/jsonsql/pkg/fs"
	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

var (
	// ErrIO wraps every failure of the durable medium: unreadable files, failed
	// writes, corrupt content. It is never retried by the backends.
	ErrIO = errors.New("table io")

	// ErrInvalidTableName is returned for names that cannot be stored safely as
	// a file name.
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend closed")
)

// Backend loads and commits snapshots.
type Backend interface {
	// Load returns the committed state. The snapshot reports no changed tables
	// and shares nothing with the backend.
	Load(ctx context.Context) (*jsonsql.Snapshot, error)

	// Commit durably stores every table snap reports as changed. Tables that
	// are not changed are left alone, even if snap lacks them.
	Commit(ctx context.Context, snap *jsonsql.Snapshot) error

	// Clear removes a table with all its rows. Clearing a missing table is not
	// an error.
	Clear(ctx context.Context, table string) error

	// Close releases resources. Further calls return [ErrClosed].
	Close() error
}

// Option configures the file backed backends.
type Option func(*options)

type options struct {
	fs     fs.FS
	logger *slog.Logger
	lock   bool
}

// WithFS sets the filesystem. Defaults to [fs.NewReal].
func WithFS(fsys fs.FS) Option {
	return func(o *options) { o.fs = fsys }
}

// WithLogger sets the logger for debug output. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProcessLock makes writes take a flock on a lock file in the data
// directory, so several processes can share it.
func WithProcessLock() Option {
	return func(o *options) { o.lock = true }
}

func buildOptions(opts []Option) options {
	o := options{fs: fs.NewReal(), logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

const (
	schemaName   = "__schema__"
	lockFileName = ".jsonsql.lock"
)

// ValidateTableName rejects names that would escape the data directory or
// collide with bookkeeping files.
func ValidateTableName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidTableName)
	case name == schemaName:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTableName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidTableName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator or NUL", ErrInvalidTableName, name)
	}

	return nil
}

func ioError(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, path, err)
}

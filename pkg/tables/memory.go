package tables

import (
	"context"
	"sync"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

// Memory keeps tables in process memory. Nothing survives the process.
type Memory struct {
	mu     sync.Mutex
	state  *jsonsql.Snapshot
	closed bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{state: jsonsql.NewSnapshot()}
}

func (m *Memory) Load(ctx context.Context) (*jsonsql.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	return m.state.Clone(), nil
}

// Commit swaps in the changed tables. Values are stored as cells, the way the
// file backends store them, so typed values read back as strings. Either all
// tables become visible or, on error, none.
func (m *Memory) Commit(ctx context.Context, snap *jsonsql.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	next := m.state.Fork()

	for _, name := range snap.Changed() {
		t, ok := snap.Table(name)
		if !ok {
			continue
		}

		norm, err := normalizeTable(t)
		if err != nil {
			return ioError("encode", name, err)
		}

		next.Replace(norm)
	}

	m.state = next

	return nil
}

func (m *Memory) Clear(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	next := m.state.Fork()
	next.Drop(table)
	m.state = next

	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.closed = true
	m.state = nil

	return nil
}

var _ Backend = (*Memory)(nil)

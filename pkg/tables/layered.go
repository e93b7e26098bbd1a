package tables

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

// Layered puts an in-memory overlay in front of a base backend.
//
// Reads merge the overlay over the base row by row: rows the overlay wrote
// replace base rows with the same id, rows it deleted are hidden, and every
// other base row shows through, including rows written to the base after the
// overlay was. Commits and clears only touch the overlay until
// [Layered.Flush] pushes them into the base. [Layered.Discard] throws the
// overlay away.
type Layered struct {
	base Backend

	mu        sync.Mutex
	overlay   map[string]*tableDelta
	cleared   map[string]struct{}
	ephemeral map[string]struct{}
	closed    bool
}

// tableDelta is what the overlay holds for one table since the last flush.
type tableDelta struct {
	columns []string                 // column order as last committed
	dropped []string                 // columns renamed or dropped in the overlay
	rows    *jsonsql.Table           // written rows, keyed by id
	deleted map[string]jsonsql.Value // tombstones by id text
}

func newTableDelta(name string) *tableDelta {
	return &tableDelta{rows: jsonsql.NewTable(name), deleted: map[string]jsonsql.Value{}}
}

// apply returns base with the delta merged over it. base may be nil.
func (d *tableDelta) apply(base *jsonsql.Table) (*jsonsql.Table, error) {
	cols := slices.Clone(d.columns)

	if base != nil {
		for _, c := range base.Columns() {
			if !slices.Contains(cols, c) && !slices.Contains(d.dropped, c) {
				cols = append(cols, c)
			}
		}
	}

	out := jsonsql.NewTableWithColumns(d.rows.Name(), cols)

	if base != nil {
		for _, r := range base.Rows() {
			if err := out.Put(r.Clone()); err != nil {
				return nil, err
			}
		}
	}

	for _, r := range d.rows.Rows() {
		if err := out.Put(r.Clone()); err != nil {
			return nil, err
		}
	}

	for _, id := range d.deleted {
		out.Remove(id)
	}

	for _, c := range d.dropped {
		if slices.Contains(out.Columns(), c) {
			if err := out.DropColumn(c); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// record folds the difference between prev (the merged view) and next into
// the delta. prev may be nil.
func (d *tableDelta) record(prev, next *jsonsql.Table) error {
	cols := next.Columns()

	if prev != nil {
		for _, c := range prev.Columns() {
			if !slices.Contains(cols, c) && !slices.Contains(d.dropped, c) {
				d.dropped = append(d.dropped, c)
			}
		}
	}

	d.dropped = slices.DeleteFunc(d.dropped, func(c string) bool { return slices.Contains(cols, c) })
	d.columns = cols

	for _, r := range next.Rows() {
		id := r.Get(jsonsql.IDColumn)

		if prev != nil {
			if old, ok := prev.Lookup(id); ok && old.Equal(r) {
				continue
			}
		}

		norm, err := normalizeRow(r)
		if err != nil {
			return err
		}

		if err := d.rows.Put(norm); err != nil {
			return err
		}

		if key, ok := jsonsql.Text(id); ok {
			delete(d.deleted, key)
		}
	}

	if prev == nil {
		return nil
	}

	for _, r := range prev.Rows() {
		id := r.Get(jsonsql.IDColumn)
		if _, ok := next.Lookup(id); ok {
			continue
		}

		d.rows.Remove(id)

		if key, ok := jsonsql.Text(id); ok {
			d.deleted[key] = id
		}
	}

	return nil
}

// LayeredOption configures a [Layered] backend.
type LayeredOption func(*Layered)

// Ephemeral marks tables that live only in the overlay. Flush skips them and
// they never reach the base.
func Ephemeral(names ...string) LayeredOption {
	return func(l *Layered) {
		for _, n := range names {
			l.ephemeral[n] = struct{}{}
		}
	}
}

// NewLayered returns an overlay over base. Closing it closes base.
func NewLayered(base Backend, opts ...LayeredOption) *Layered {
	l := &Layered{
		base:      base,
		overlay:   map[string]*tableDelta{},
		cleared:   map[string]struct{}{},
		ephemeral: map[string]struct{}{},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Layered) Load(ctx context.Context) (*jsonsql.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	return l.merged(ctx)
}

// merged loads the base and merges the overlay over it. Callers hold l.mu.
func (l *Layered) merged(ctx context.Context) (*jsonsql.Snapshot, error) {
	snap, err := l.base.Load(ctx)
	if err != nil {
		return nil, err
	}

	for name := range l.cleared {
		snap.Drop(name)
	}

	for name, d := range l.overlay {
		base, _ := snap.Table(name)

		t, err := d.apply(base)
		if err != nil {
			return nil, err
		}

		snap.Drop(name)
		snap.Add(t)
	}

	return snap, nil
}

func (l *Layered) Commit(ctx context.Context, snap *jsonsql.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	changed := snap.Changed()
	if len(changed) == 0 {
		return nil
	}

	current, err := l.merged(ctx)
	if err != nil {
		return err
	}

	for _, name := range changed {
		next, ok := snap.Table(name)
		if !ok {
			continue
		}

		prev, _ := current.Table(name)

		d, ok := l.overlay[name]
		if !ok {
			d = newTableDelta(name)
		}

		err := d.record(prev, next)
		if err != nil {
			return err
		}

		l.overlay[name] = d
	}

	return nil
}

// Clear hides the table in the base until the next Flush removes it there.
func (l *Layered) Clear(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	delete(l.overlay, table)
	l.cleared[table] = struct{}{}

	return nil
}

// Pending returns the tables with overlay writes or clears waiting for Flush,
// sorted.
func (l *Layered) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := slices.Collect(maps.Keys(l.overlay))
	for name := range l.cleared {
		if _, ok := l.overlay[name]; !ok {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	return names
}

// Flush writes overlay clears into the base, then applies the overlay's
// written and deleted rows onto a fresh load of the base, except for
// ephemeral tables. Base rows the overlay never touched are kept. If the base
// fails, the overlay is kept so Flush can be retried.
func (l *Layered) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	for _, name := range slices.Sorted(maps.Keys(l.cleared)) {
		if l.isEphemeral(name) {
			continue
		}

		err := l.base.Clear(ctx, name)
		if err != nil {
			return err
		}

		delete(l.cleared, name)
	}

	flushable := false

	for name := range l.overlay {
		if !l.isEphemeral(name) {
			flushable = true

			break
		}
	}

	if !flushable {
		return nil
	}

	base, err := l.base.Load(ctx)
	if err != nil {
		return err
	}

	pending := jsonsql.NewSnapshot()

	for name, d := range l.overlay {
		if l.isEphemeral(name) {
			continue
		}

		bt, _ := base.Table(name)

		t, err := d.apply(bt)
		if err != nil {
			return err
		}

		pending.Replace(t)
	}

	err = l.base.Commit(ctx, pending)
	if err != nil {
		return err
	}

	for _, name := range pending.Changed() {
		delete(l.overlay, name)
	}

	return nil
}

// Discard drops every pending overlay change, ephemeral tables included.
func (l *Layered) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.overlay)
	clear(l.cleared)
}

// Close closes the base. Unflushed overlay changes are lost.
func (l *Layered) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.closed = true

	err := l.base.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}

	return err
}

func (l *Layered) isEphemeral(name string) bool {
	_, ok := l.ephemeral[name]

	return ok
}

var _ Backend = (*Layered)(nil)

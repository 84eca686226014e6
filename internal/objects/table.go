package objects

import (
	"io"
	"sort"
	"sync"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/variant"
	"github.com/rs/zerolog/log"
)

// Table maps ObjectIDs to this participant's live instances.
type Table struct {
	mu    sync.RWMutex
	items map[variant.ObjectID]*Instance
}

// Entry is a read-only view of one instance.
type Entry struct {
	ID         variant.ObjectID  `json:"id"`
	Class      string            `json:"class"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

func NewTable() *Table {
	return &Table{items: make(map[variant.ObjectID]*Instance)}
}

// Insert stores a new instance. An id can be inserted at most once.
func (t *Table) Insert(id variant.ObjectID, class string, h Handle) (*Instance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; ok {
		return nil, faults.Wrap(faults.ErrDuplicateID, "object %d", id)
	}
	inst := &Instance{ID: id, Class: class, Handle: h}
	t.items[id] = inst
	return inst, nil
}

func (t *Table) Get(id variant.ObjectID) (*Instance, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.items[id]
	if !ok {
		return nil, faults.Wrap(faults.ErrUnknownID, "object %d", id)
	}
	return inst, nil
}

// Remove drops the entry and destroys the instance. Close failures are logged
// only; the entry is gone either way.
func (t *Table) Remove(id variant.ObjectID) error {
	t.mu.Lock()
	inst, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	t.mu.Unlock()
	if !ok {
		return faults.Wrap(faults.ErrUnknownID, "object %d", id)
	}
	if c, ok := inst.Handle.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Uint64("id", uint64(id)).Str("class", inst.Class).Err(err).Msg("close failed")
		}
	}
	return nil
}

func (t *Table) Contains(id variant.ObjectID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.items[id]
	return ok
}

// Lookup implements variant.Catalog.
func (t *Table) Lookup(id variant.ObjectID) (variant.Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.items[id]
	if !ok {
		return nil, false
	}
	return inst, true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// IDs returns the live ids in ascending order.
func (t *Table) IDs() []variant.ObjectID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]variant.ObjectID, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Classes returns id -> class name for every live instance.
func (t *Table) Classes() map[variant.ObjectID]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[variant.ObjectID]string, len(t.items))
	for id, inst := range t.items {
		out[id] = inst.Class
	}
	return out
}

// Snapshot lists every instance in id order with the parameters its handle
// exposes. Callers must not run it concurrently with handle mutation.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	insts := make([]*Instance, 0, len(t.items))
	for _, inst := range t.items {
		insts = append(insts, inst)
	}
	t.mu.RUnlock()
	sort.Slice(insts, func(i, j int) bool { return insts[i].ID < insts[j].ID })

	out := make([]Entry, 0, len(insts))
	for _, inst := range insts {
		e := Entry{ID: inst.ID, Class: inst.Class}
		if r, ok := inst.Handle.(ParameterReader); ok {
			e.Parameters = make(map[string]string)
			for _, name := range r.ParameterNames() {
				v, err := r.Parameter(name)
				if err != nil {
					continue
				}
				e.Parameters[name] = v.String()
			}
		}
		out = append(out, e)
	}
	return out
}

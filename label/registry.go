package label

import (
	"sync"

	"github.com/pkg/errors"
)

// UnknownLabel is reserved for regions that were never labeled. It is never issued.
const UnknownLabel uint32 = 0

// Registry issues persistent label ids and records which ids were merged. It is a union-find
// forest over ids with path compression; the lower id of a merged pair survives. Ids are never
// reissued and merges cannot be undone.
type Registry struct {
	mu     sync.Mutex
	parent []uint32
}

// NewRegistry returns a registry that has issued no ids.
func NewRegistry() *Registry {
	return &Registry{parent: []uint32{UnknownLabel}}
}

// NewLabel issues a fresh id.
func (r *Registry) NewLabel() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uint32(len(r.parent))
	r.parent = append(r.parent, id)
	return id
}

// Highest returns the highest id issued so far, UnknownLabel if none.
func (r *Registry) Highest() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint32(len(r.parent) - 1)
}

// Find returns the surviving id that id was merged into, or id itself. Ids that were never
// issued resolve to themselves.
func (r *Registry) Find(id uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(id)
}

func (r *Registry) find(id uint32) uint32 {
	if int(id) >= len(r.parent) {
		return id
	}
	root := id
	for r.parent[root] != root {
		root = r.parent[root]
	}
	for r.parent[id] != root {
		next := r.parent[id]
		r.parent[id] = root
		id = next
	}
	return root
}

// Merge unions the two ids and returns the survivor, the lower of the two roots. Both ids must
// have been issued; the unknown label cannot be merged.
func (r *Registry) Merge(a, b uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a == UnknownLabel || b == UnknownLabel {
		return UnknownLabel, errors.New("cannot merge the unknown label")
	}
	if highest := uint32(len(r.parent) - 1); a > highest || b > highest {
		return UnknownLabel, errors.Errorf("cannot merge labels %d and %d, highest issued is %d", a, b, highest)
	}
	ra, rb := r.find(a), r.find(b)
	if ra == rb {
		return ra, nil
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	r.parent[rb] = ra
	return ra, nil
}

// Reset forgets every issued id.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = []uint32{UnknownLabel}
}

// Snapshot returns the parent table: entry i is the id that i was merged into, or i.
func (r *Registry) Snapshot() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, len(r.parent))
	copy(out, r.parent)
	return out
}

// Restore replaces the registry content with a parent table produced by Snapshot.
func (r *Registry) Restore(parent []uint32) error {
	if len(parent) == 0 || parent[0] != UnknownLabel {
		return errors.New("label table must start with the unknown label")
	}
	for i, p := range parent {
		if p > uint32(i) {
			return errors.Errorf("label %d points to later label %d", i, p)
		}
		if i > 0 && p == UnknownLabel {
			return errors.Errorf("label %d was merged into the unknown label", i)
		}
	}
	cp := make([]uint32, len(parent))
	copy(cp, parent)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = cp
	return nil
}

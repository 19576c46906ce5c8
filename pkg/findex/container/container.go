// Package container provides the ordered, positionally indexable multiset of
// entries that backs every sort order in the store and in search views.
//
// The container is a thin layer over a counted B-tree: inserts and removals
// are O(log n), positional access is O(log n) through the tree's order
// statistics, and the composite less function (primary key, secondary key,
// identity tiebreak) makes the order total and deterministic.
package container

import (
	"context"

	"github.com/tidwall/btree"

	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// loadCheckInterval is how many entries are bulk-loaded between cancellation
// checks during New.
const loadCheckInterval = 8192

// Container is an ordered multiset of entries of a single kind under a
// (primary, secondary) sort key pair. It is safe for concurrent readers;
// writers need external exclusion.
type Container struct {
	tree      *btree.BTreeG[*entry.Entry]
	kind      entry.Kind
	primary   types.SortKey
	secondary types.SortKey
}

// New builds a container over the given entries, sorted under the key pair.
// When copyOnWrite is false the input slice may be reordered in place; pass
// true if the caller still needs it. The context is checked between load
// shards; a cancelled build returns ctx.Err() and no container.
func New(entries []*entry.Entry,
	copyOnWrite bool,
	primary, secondary types.SortKey,
	kind entry.Kind,
	ctx context.Context,
) (*Container, error) {
	if copyOnWrite {
		dup := make([]*entry.Entry, len(entries))
		copy(dup, entries)
		entries = dup
	}

	c := &Container{
		tree: btree.NewBTreeGOptions(lessFunc(primary, secondary), btree.Options{
			NoLocks: false,
		}),
		kind:      kind,
		primary:   primary,
		secondary: secondary,
	}

	for i, e := range entries {
		if i%loadCheckInterval == 0 && ctx != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c.tree.Set(e)
	}
	return c, nil
}

func lessFunc(primary, secondary types.SortKey) func(a, b *entry.Entry) bool {
	return func(a, b *entry.Entry) bool {
		return entry.CompareKeyed(a, b, primary, secondary) < 0
	}
}

// Kind returns the entry kind the container holds.
func (c *Container) Kind() entry.Kind { return c.kind }

// SortKey returns the container's primary sort key.
func (c *Container) SortKey() types.SortKey { return c.primary }

// SecondarySortKey returns the container's secondary sort key.
func (c *Container) SecondarySortKey() types.SortKey { return c.secondary }

// Insert places e at its sorted position.
func (c *Container) Insert(e *entry.Entry) {
	c.tree.Set(e)
}

// Steal removes e and reports whether it was present.
func (c *Container) Steal(e *entry.Entry) bool {
	_, ok := c.tree.Delete(e)
	return ok
}

// Has reports whether e is a member of the container.
func (c *Container) Has(e *entry.Entry) bool {
	_, ok := c.tree.Get(e)
	return ok
}

// Get returns the i-th entry in sort order, or nil if i is out of range.
func (c *Container) Get(i int) *entry.Entry {
	e, ok := c.tree.GetAt(i)
	if !ok {
		return nil
	}
	return e
}

// Len returns the number of entries.
func (c *Container) Len() int {
	return c.tree.Len()
}

// Joined returns a fresh slice with the full content in sort order. The
// result is consistent with a single instant when no writer is active.
func (c *Container) Joined() []*entry.Entry {
	out := make([]*entry.Entry, 0, c.tree.Len())
	c.tree.Scan(func(e *entry.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Ascend calls fn for every entry in sort order until fn returns false.
func (c *Container) Ascend(fn func(e *entry.Entry) bool) {
	c.tree.Scan(fn)
}

// StealDescendants removes every descendant of folder from the container and
// returns them. Used when a watched folder disappears: the whole subtree
// leaves the index in one pass.
func (c *Container) StealDescendants(folder *entry.Entry) []*entry.Entry {
	var stolen []*entry.Entry
	c.tree.Scan(func(e *entry.Entry) bool {
		if e.IsDescendantOf(folder) {
			stolen = append(stolen, e)
		}
		return true
	})
	for _, e := range stolen {
		c.tree.Delete(e)
	}
	return stolen
}

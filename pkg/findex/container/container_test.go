package container_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/findex/pkg/findex/container"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

func newFiles(root *entry.Entry, names ...string) []*entry.Entry {
	out := make([]*entry.Entry, 0, len(names))
	for _, n := range names {
		out = append(out, entry.New(entry.KindFile, n, root))
	}
	return out
}

func TestNewSortsEntries(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	entries := newFiles(root, "c", "a", "b")

	c, err := container.New(entries, false, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	assert.Equal(t, "a", c.Get(0).Name)
	assert.Equal(t, "b", c.Get(1).Name)
	assert.Equal(t, "c", c.Get(2).Name)
}

func TestOrderInvariant(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	var entries []*entry.Entry
	for i := 0; i < 200; i++ {
		e := entry.New(entry.KindFile, fmt.Sprintf("f%03d", 199-i), root)
		e.Size = uint64(i % 7)
		entries = append(entries, e)
	}

	c, err := container.New(entries, false, types.SortBySize, types.SortByName, entry.KindFile, context.Background())
	require.NoError(t, err)

	for i := 0; i < c.Len()-1; i++ {
		a, b := c.Get(i), c.Get(i+1)
		assert.LessOrEqual(t, entry.CompareKeyed(a, b, types.SortBySize, types.SortByName), 0,
			"entries %d and %d out of order", i, i+1)
	}
}

func TestCopyOnWriteDoesNotAliasInput(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	entries := newFiles(root, "b", "a")
	orig := []*entry.Entry{entries[0], entries[1]}

	_, err := container.New(entries, true, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)
	assert.Equal(t, orig, entries, "input slice must not be mutated")
}

func TestCancelledBuild(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	entries := newFiles(root, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := container.New(entries, false, types.SortByName, types.SortByNone, entry.KindFile, ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, c)
}

func TestInsertAndSteal(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	c, err := container.New(nil, false, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)

	a := entry.New(entry.KindFile, "a", root)
	b := entry.New(entry.KindFile, "b", root)
	c.Insert(b)
	c.Insert(a)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, a, c.Get(0))

	assert.True(t, c.Steal(a))
	assert.False(t, c.Steal(a), "second steal of the same entry")
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Has(b))
	assert.False(t, c.Has(a))
}

func TestStealDistinguishesEqualNames(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	sub := entry.New(entry.KindFolder, "sub", root)
	a1 := entry.New(entry.KindFile, "same", root)
	a2 := entry.New(entry.KindFile, "same", sub)

	c, err := container.New([]*entry.Entry{a1, a2}, false, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)

	require.True(t, c.Steal(a1))
	require.Equal(t, 1, c.Len())
	assert.Equal(t, a2, c.Get(0), "the other instance must survive")
}

func TestGetOutOfRange(t *testing.T) {
	c, err := container.New(nil, false, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)
	assert.Nil(t, c.Get(0))
	assert.Nil(t, c.Get(-1))
}

func TestJoined(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	entries := newFiles(root, "b", "c", "a")
	c, err := container.New(entries, false, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)

	joined := c.Joined()
	require.Len(t, joined, 3)
	assert.Equal(t, "a", joined[0].Name)
	assert.Equal(t, "c", joined[2].Name)

	// Joined returns a fresh slice.
	joined[0] = nil
	assert.Equal(t, "a", c.Get(0).Name)
}

func TestStealDescendants(t *testing.T) {
	root := entry.New(entry.KindFolder, "/r", nil)
	doomed := entry.New(entry.KindFolder, "doomed", root)
	safe := entry.New(entry.KindFolder, "safe", root)

	in1 := entry.New(entry.KindFile, "x", doomed)
	in2 := entry.New(entry.KindFile, "y", doomed)
	out := entry.New(entry.KindFile, "z", safe)

	c, err := container.New([]*entry.Entry{in1, in2, out}, false, types.SortByName, types.SortByNone, entry.KindFile, context.Background())
	require.NoError(t, err)

	stolen := c.StealDescendants(doomed)
	assert.Len(t, stolen, 2)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, out, c.Get(0))
}

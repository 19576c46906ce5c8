package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// recorder captures index events in arrival order.
type recorder struct {
	events []Event
}

func (r *recorder) fn(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) reset() { r.events = nil }

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

// scanTree builds and scans:
//
//	root/
//	  a.txt   (10 bytes)
//	  sub/
//	    b.txt (20 bytes)
func scanTree(t *testing.T) (*Index, *recorder, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "b.txt"), 20)

	rec := &recorder{}
	ix := New(
		config.Include{Path: root, ID: 0, Monitor: true, ScanAfterLaunch: true},
		config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags,
		rec.fn,
	)
	require.NoError(t, ix.Scan(context.Background()))
	return ix, rec, root
}

func TestScanBuildsIndex(t *testing.T) {
	ix, rec, root := scanTree(t)

	assert.Equal(t, StateReady, ix.State())
	assert.Equal(t, []EventKind{EventScanStarted, EventScanFinished}, rec.kinds())

	// The root counts as a folder but is not a container member.
	assert.Equal(t, 2, ix.NumFolders())
	assert.Equal(t, 2, ix.NumFiles())
	require.Equal(t, 1, ix.Folders().Len())
	assert.Equal(t, "sub", ix.Folders().Get(0).Name)
	require.Equal(t, 2, ix.Files().Len())

	roots := ix.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, root, roots[0].Name, "roots keep their full configured path")
	assert.Nil(t, roots[0].Parent)

	// Recursive folder sizes.
	assert.Equal(t, uint64(30), roots[0].Size)
	assert.Equal(t, uint64(20), ix.folderByPath[filepath.Join(root, "sub")].Size)

	// Paths reconstruct through the root.
	b := ix.fileByPath[filepath.Join(root, "sub", "b.txt")]
	require.NotNil(t, b)
	assert.Equal(t, filepath.Join(root, "sub", "b.txt"), b.Path())
}

func TestScanExcludes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "skip"), 0o755))
	writeFile(t, filepath.Join(root, "skip", "hidden.txt"), 5)
	writeFile(t, filepath.Join(root, "keep.txt"), 5)

	ix := New(
		config.Include{Path: root, ID: 0},
		config.NewExcludeManager([]string{"skip"}, false),
		types.DefaultPropertyFlags,
		nil,
	)
	require.NoError(t, ix.Scan(context.Background()))

	assert.Equal(t, 1, ix.NumFolders(), "only the root remains")
	assert.Equal(t, 1, ix.NumFiles())
	assert.Nil(t, ix.fileByPath[filepath.Join(root, "skip", "hidden.txt")])
}

func TestScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := New(config.Include{Path: root}, config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags, nil)
	err := ix.Scan(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateCancelled, ix.State())
	assert.Equal(t, 0, ix.NumFolders())
	assert.Equal(t, 0, ix.NumFiles())
	assert.Nil(t, ix.Folders())
}

func TestHandleCreateFile(t *testing.T) {
	ix, rec, root := scanTree(t)
	rec.reset()

	path := filepath.Join(root, "sub", "new.txt")
	writeFile(t, path, 7)
	ix.handleCreate(path)

	e := ix.fileByPath[path]
	require.NotNil(t, e)
	assert.Equal(t, uint64(7), e.Size)
	assert.Equal(t, 3, ix.Files().Len())
	assert.True(t, ix.Files().Has(e))

	// Ancestor sizes grew by the new file.
	assert.Equal(t, uint64(27), ix.folderByPath[filepath.Join(root, "sub")].Size)
	assert.Equal(t, uint64(37), ix.Roots()[0].Size)

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventStartModifying, kinds[0])
	assert.Equal(t, EventEndModifying, kinds[len(kinds)-1])
	assert.Contains(t, kinds, EventEntryCreated)
}

func TestHandleCreateFolderTree(t *testing.T) {
	ix, rec, root := scanTree(t)
	rec.reset()

	// The subtree already has contents when the create event arrives.
	dir := filepath.Join(root, "pics")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0o755))
	writeFile(t, filepath.Join(dir, "raw", "img.jpg"), 100)
	ix.handleCreate(dir)

	assert.Equal(t, 4, ix.NumFolders())
	assert.Equal(t, 3, ix.NumFiles())
	require.NotNil(t, ix.folderByPath[filepath.Join(dir, "raw")])
	assert.Equal(t, uint64(100), ix.folderByPath[dir].Size)
	assert.Equal(t, uint64(130), ix.Roots()[0].Size)

	kinds := rec.kinds()
	assert.Equal(t, EventStartModifying, kinds[0])
	assert.Equal(t, EventEndModifying, kinds[len(kinds)-1])
}

func TestHandleCreateExcluded(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	ix := New(config.Include{Path: root},
		config.NewExcludeManager([]string{"*.tmp"}, false),
		types.DefaultPropertyFlags, rec.fn)
	require.NoError(t, ix.Scan(context.Background()))
	rec.reset()

	path := filepath.Join(root, "scratch.tmp")
	writeFile(t, path, 3)
	ix.handleCreate(path)

	assert.Nil(t, ix.fileByPath[path])
	assert.Empty(t, rec.events)
}

func TestHandleRemoveFile(t *testing.T) {
	ix, rec, root := scanTree(t)
	rec.reset()

	path := filepath.Join(root, "sub", "b.txt")
	e := ix.fileByPath[path]
	require.NotNil(t, e)

	ix.handleRemove(path)

	assert.Nil(t, ix.fileByPath[path])
	assert.Equal(t, 1, ix.Files().Len())
	assert.False(t, ix.Files().Has(e))
	assert.Equal(t, uint64(0), ix.folderByPath[filepath.Join(root, "sub")].Size)
	assert.Equal(t, uint64(10), ix.Roots()[0].Size)

	kinds := rec.kinds()
	assert.Equal(t, EventStartModifying, kinds[0])
	assert.Contains(t, kinds, EventEntryDeleted)
	assert.Equal(t, EventEndModifying, kinds[len(kinds)-1])
}

func TestHandleRemoveFolder(t *testing.T) {
	ix, rec, root := scanTree(t)
	rec.reset()

	sub := filepath.Join(root, "sub")
	ix.handleRemove(sub)

	assert.Nil(t, ix.folderByPath[sub])
	assert.Nil(t, ix.fileByPath[filepath.Join(sub, "b.txt")])
	assert.Equal(t, 0, ix.Folders().Len())
	assert.Equal(t, 1, ix.Files().Len(), "files outside the subtree survive")
	assert.Equal(t, uint64(10), ix.Roots()[0].Size)

	var deleted Event
	for _, ev := range rec.events {
		if ev.Kind == EventEntryDeleted && len(ev.Folders) > 0 {
			deleted = ev
		}
	}
	assert.Len(t, deleted.Folders, 1)
	assert.Len(t, deleted.Files, 1)
}

func TestHandleAttribFile(t *testing.T) {
	ix, rec, root := scanTree(t)
	rec.reset()

	path := filepath.Join(root, "sub", "b.txt")
	writeFile(t, path, 50)
	ix.handleAttrib(path)

	e := ix.fileByPath[path]
	require.NotNil(t, e)
	assert.Equal(t, uint64(50), e.Size)
	assert.Equal(t, uint64(50), ix.folderByPath[filepath.Join(root, "sub")].Size)
	assert.Equal(t, uint64(60), ix.Roots()[0].Size)

	// The entry leaves the containers before the mutation and re-enters
	// afterwards. The removal half is announced as an attribute change, not
	// a deletion, so consumers keep per-entry state.
	kinds := rec.kinds()
	di := -1
	ci := -1
	for i, k := range kinds {
		if k == EventEntryAttributeChanged && di < 0 {
			di = i
		}
		if k == EventEntryCreated {
			ci = i
		}
	}
	require.GreaterOrEqual(t, di, 0)
	assert.Greater(t, ci, di)
	assert.NotContains(t, kinds, EventEntryDeleted)
}

func TestHandleAttribUnchanged(t *testing.T) {
	ix, rec, root := scanTree(t)
	rec.reset()

	ix.handleAttrib(filepath.Join(root, "a.txt"))

	kinds := rec.kinds()
	assert.NotContains(t, kinds, EventEntryDeleted)
	assert.NotContains(t, kinds, EventEntryCreated)
	assert.NotContains(t, kinds, EventEntryAttributeChanged)
}

func TestStartMonitoringRequiresReady(t *testing.T) {
	ix := New(config.Include{Path: t.TempDir()},
		config.NewExcludeManager(nil, false), types.DefaultPropertyFlags, nil)
	assert.ErrorIs(t, ix.StartMonitoring(true), ErrNotReady)
}

func TestStartStopMonitoring(t *testing.T) {
	ix, rec, _ := scanTree(t)
	rec.reset()

	require.NoError(t, ix.StartMonitoring(true))
	assert.Equal(t, StateMonitoring, ix.State())

	ix.StopMonitoring()
	assert.Equal(t, StateReady, ix.State())
	assert.Equal(t, []EventKind{EventMonitoringStarted, EventMonitoringFinished}, rec.kinds())
}

func TestFromPools(t *testing.T) {
	folderPool := entry.NewPool(entry.KindFolder)
	filePool := entry.NewPool(entry.KindFile)

	root := folderPool.Alloc("/data", nil)
	sub := folderPool.Alloc("docs", root)
	f := filePool.Alloc("report.txt", sub)
	f.Size = 12

	ix, err := FromPools(config.Include{Path: "/data", ID: 0},
		config.NewExcludeManager(nil, false), types.DefaultPropertyFlags,
		nil, folderPool, filePool)
	require.NoError(t, err)

	assert.Equal(t, StateReady, ix.State())
	assert.Equal(t, 2, ix.NumFolders())
	assert.Equal(t, 1, ix.Folders().Len(), "the root stays out of the container")
	assert.Equal(t, sub, ix.folderByPath["/data/docs"])
	assert.Equal(t, f, ix.fileByPath["/data/docs/report.txt"])
}

package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/index"
	"github.com/jamesainslie/findex/pkg/findex/store"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

// startStore scans a tree with one sub folder and three files.
func startStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	writeFile(t, filepath.Join(root, "b.txt"), 10)
	writeFile(t, filepath.Join(root, "a.txt"), 20)
	writeFile(t, filepath.Join(root, "sub", "c.txt"), 30)

	includes := config.NewIncludeManager()
	includes.Add(config.Include{Path: root, ID: 0, ScanAfterLaunch: true})

	s := store.New(includes, config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags, nil)
	require.NoError(t, s.Start(context.Background()))
	return s, root
}

func TestStartScansIncludes(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()

	assert.True(t, s.Running())
	require.Len(t, s.Indices(), 1)
	assert.Equal(t, 1, s.NumFolders(), "the root is not a search result")
	assert.Equal(t, 3, s.NumFiles())
	require.Len(t, s.RootFolders(), 1)
}

func TestStartTwice(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()
	assert.ErrorIs(t, s.Start(context.Background()), store.ErrAlreadyRunning)
}

func TestStartSkipsUnscannedIncludes(t *testing.T) {
	includes := config.NewIncludeManager()
	includes.Add(config.Include{Path: t.TempDir(), ID: 0, ScanAfterLaunch: false})

	s := store.New(includes, config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.Empty(t, s.Indices())
	assert.Equal(t, 0, s.NumFiles())
}

func TestStartCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 1)

	includes := config.NewIncludeManager()
	includes.Add(config.Include{Path: root, ID: 0, ScanAfterLaunch: true})
	s := store.New(includes, config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Start(ctx), context.Canceled)

	assert.False(t, s.Running())
	assert.Empty(t, s.Indices())
	assert.Nil(t, s.Files(types.SortByName))
}

func TestFastSortContainers(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()

	assert.Equal(t, 5, s.NumFastSortIndices())

	for _, key := range []types.SortKey{
		types.SortByName, types.SortByPath, types.SortBySize,
		types.SortByModificationTime, types.SortByExtension,
	} {
		folders := s.Folders(key)
		files := s.Files(key)
		require.NotNil(t, folders, key.String())
		require.NotNil(t, files, key.String())
		assert.Equal(t, s.NumFolders(), folders.Len())
		assert.Equal(t, s.NumFiles(), files.Len())
	}

	byName := s.Files(types.SortByName)
	assert.Equal(t, "a.txt", byName.Get(0).Name)
	assert.Equal(t, "b.txt", byName.Get(1).Name)
	assert.Equal(t, "c.txt", byName.Get(2).Name)

	bySize := s.Files(types.SortBySize)
	assert.Equal(t, uint64(10), bySize.Get(0).Size)
	assert.Equal(t, uint64(30), bySize.Get(2).Size)
}

func TestReducedFlagsSkipSizeContainers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)

	includes := config.NewIncludeManager()
	includes.Add(config.Include{Path: root, ID: 0, ScanAfterLaunch: true})
	s := store.New(includes, config.NewExcludeManager(nil, false),
		types.FlagModificationTime, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.Equal(t, 4, s.NumFastSortIndices())
	assert.Nil(t, s.Files(types.SortBySize))
	assert.NotNil(t, s.Files(types.SortByModificationTime))
	assert.Equal(t, uint64(0), s.Files(types.SortByName).Get(0).Size)
}

func TestHasContainer(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()

	assert.True(t, s.HasContainer(s.Files(types.SortByName)))
	assert.True(t, s.HasContainer(s.Folders(types.SortBySize)))
	assert.False(t, s.HasContainer(nil))
	assert.False(t, s.HasContainer(s.Indices()[0].Files()))
}

func TestAddAndRemoveEntries(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()
	ix := s.Indices()[0]

	parent := s.RootFolders()[0]
	e := entry.New(entry.KindFile, "added.txt", parent)
	e.Size = 5

	s.AddEntries([]*entry.Entry{e}, false)
	assert.Equal(t, 4, s.NumFiles())
	assert.True(t, s.Files(types.SortBySize).Has(e))
	assert.Equal(t, "added.txt", s.Files(types.SortByName).Get(1).Name)

	s.RemoveEntry(e, ix)
	assert.Equal(t, 3, s.NumFiles())
	assert.False(t, s.Files(types.SortBySize).Has(e))
}

func TestRemoveRequiresMembership(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()

	stranger := index.New(config.Include{Path: "/nowhere", ID: 9},
		config.NewExcludeManager(nil, false), types.DefaultPropertyFlags, nil)

	assert.Panics(t, func() {
		s.RemoveFiles(nil, stranger)
	})
}

func TestRemoveIndex(t *testing.T) {
	s, _ := startStore(t)
	defer s.Close()
	ix := s.Indices()[0]

	s.RemoveIndex(ix)
	assert.Empty(t, s.Indices())
	assert.Equal(t, 0, s.NumFolders())
	assert.Equal(t, 0, s.NumFiles())

	// Removing twice is harmless.
	s.RemoveIndex(ix)
}

func TestFromIndices(t *testing.T) {
	folderPool := entry.NewPool(entry.KindFolder)
	filePool := entry.NewPool(entry.KindFile)
	root := folderPool.Alloc("/data", nil)
	f := filePool.Alloc("a.txt", root)
	f.Size = 1

	in := config.Include{Path: "/data", ID: 0}
	ix, err := index.FromPools(in, config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags, nil, folderPool, filePool)
	require.NoError(t, err)

	includes := config.NewIncludeManager()
	includes.Add(in)
	s, err := store.FromIndices(includes, config.NewExcludeManager(nil, false),
		types.DefaultPropertyFlags, nil, []*index.Index{ix})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Running())
	assert.Equal(t, 0, s.NumFolders())
	assert.Equal(t, 1, s.NumFiles())
	assert.Equal(t, 5, s.NumFastSortIndices())
}

func TestClose(t *testing.T) {
	s, _ := startStore(t)
	s.Close()

	assert.False(t, s.Running())
	assert.Nil(t, s.Files(types.SortByName))
	assert.Empty(t, s.Indices())
}

package index

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sys/unix"

	"github.com/jamesainslie/findex/pkg/findex/container"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// scanState is the mutable state shared by the parallel walk callbacks.
type scanState struct {
	mu      sync.Mutex
	rootDev uint64
}

// Scan walks the root and populates the index. It blocks until the walk
// completes or ctx is cancelled; on cancellation all partial state is
// discarded and the index is left in the Cancelled state.
func (ix *Index) Scan(ctx context.Context) error {
	start := time.Now()
	ix.setState(StateScanning)
	ix.emit(Event{Kind: EventScanStarted})

	err := ix.walk(ctx)
	if err != nil {
		ix.reset()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			ix.setState(StateCancelled)
		} else {
			ix.setState(StateStopped)
		}
		return err
	}

	// Roots stay out of the containers: they anchor parent chains and the
	// snapshot, but are not results themselves.
	folders, err := container.New(nonRoots(ix.folderPool), false,
		types.SortByName, types.SortByNone, entry.KindFolder, ctx)
	if err == nil {
		ix.folders = folders
		ix.files, err = container.New(ix.filePool.Entries(), false,
			types.SortByName, types.SortByNone, entry.KindFile, ctx)
	}
	if err != nil {
		ix.reset()
		ix.setState(StateCancelled)
		return err
	}

	ix.setState(StateReady)
	ix.log.Debug("scan finished",
		"root", ix.include.Path,
		"folders", ix.folderPool.Len(),
		"files", ix.filePool.Len(),
		"elapsed", time.Since(start))
	ix.emit(Event{Kind: EventScanFinished})
	return nil
}

func (ix *Index) walk(ctx context.Context) error {
	root, err := filepath.Abs(ix.include.Path)
	if err != nil {
		return err
	}

	st := &scanState{}
	if ix.include.OneFileSystem {
		var stat unix.Stat_t
		if err := unix.Lstat(root, &stat); err != nil {
			return err
		}
		st.rootDev = uint64(stat.Dev)
	}

	conf := fastwalk.Config{
		Follow: false,
	}
	walkErr := fastwalk.Walk(&conf, root, ix.walkCallback(ctx, root, st))
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		return walkErr
	}
	return ctx.Err()
}

func (ix *Index) walkCallback(ctx context.Context, root string, st *scanState) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			ix.log.Debug("walk error", "path", path, "error", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if path != root && ix.exclude.Matches(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if ix.include.OneFileSystem && path != root {
				var stat unix.Stat_t
				if lerr := unix.Lstat(path, &stat); lerr != nil || uint64(stat.Dev) != st.rootDev {
					return filepath.SkipDir
				}
			}
			return ix.addScannedFolder(st, root, path, d)
		}
		return ix.addScannedFile(st, path, d)
	}
}

func (ix *Index) addScannedFolder(st *scanState, root, path string, d fs.DirEntry) error {
	name := filepath.Base(path)
	if path == root {
		// Roots keep their full path so path reconstruction terminates.
		name = path
	}

	var mtime int64
	if info, err := d.Info(); err == nil {
		mtime = info.ModTime().Unix()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	parent := ix.folderByPath[filepath.Dir(path)]
	e := ix.folderPool.Alloc(name, parent)
	e.DBIndex = uint16(ix.include.ID)
	if ix.flags.Has(types.FlagModificationTime) {
		e.MTime = mtime
	}
	ix.folderByPath[path] = e
	return nil
}

func (ix *Index) addScannedFile(st *scanState, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		ix.log.Debug("stat error", "path", path, "error", err)
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	parent := ix.folderByPath[filepath.Dir(path)]
	if parent == nil {
		// Parent was excluded or vanished mid-walk.
		return nil
	}
	e := ix.filePool.Alloc(filepath.Base(path), parent)
	if ix.flags.Has(types.FlagSize) {
		e.Size = uint64(info.Size())
		e.AddSizeToAncestors(info.Size())
	}
	if ix.flags.Has(types.FlagModificationTime) {
		e.MTime = info.ModTime().Unix()
	}
	ix.fileByPath[path] = e
	return nil
}

func nonRoots(pool *entry.Pool) []*entry.Entry {
	out := make([]*entry.Entry, 0, pool.Len())
	for _, e := range pool.Entries() {
		if !e.Root() {
			out = append(out, e)
		}
	}
	return out
}

func (ix *Index) reset() {
	ix.folderPool = entry.NewPool(entry.KindFolder)
	ix.filePool = entry.NewPool(entry.KindFile)
	ix.folderByPath = make(map[string]*entry.Entry)
	ix.fileByPath = make(map[string]*entry.Entry)
	ix.folders = nil
	ix.files = nil
}

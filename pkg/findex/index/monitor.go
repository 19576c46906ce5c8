package index

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// ErrNotReady is returned when monitoring is requested before a successful
// scan.
var ErrNotReady = errors.New("index is not ready for monitoring")

// StartMonitoring enables or disables filesystem monitoring. Enabling
// requires a completed scan; disabling is always allowed.
func (ix *Index) StartMonitoring(enabled bool) error {
	if !enabled {
		ix.StopMonitoring()
		return nil
	}

	ix.mu.Lock()
	if ix.state != StateReady {
		ix.mu.Unlock()
		return ErrNotReady
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		ix.mu.Unlock()
		return err
	}
	for path := range ix.folderByPath {
		if werr := w.Add(path); werr != nil {
			ix.log.Warn("failed to add watch", "path", path, "error", werr)
		}
	}

	ix.watcher = w
	ix.monitorStop = make(chan struct{})
	ix.monitorDone = make(chan struct{})
	ix.state = StateMonitoring
	ix.mu.Unlock()

	ix.emit(Event{Kind: EventMonitoringStarted})
	go ix.monitorLoop(w)
	return nil
}

// StopMonitoring stops the monitor goroutine and waits for it to drain.
// The index returns to Ready.
func (ix *Index) StopMonitoring() {
	ix.mu.Lock()
	if ix.watcher == nil {
		ix.mu.Unlock()
		return
	}
	w := ix.watcher
	stop, done := ix.monitorStop, ix.monitorDone
	ix.watcher = nil
	ix.mu.Unlock()

	close(stop)
	_ = w.Close()
	<-done

	ix.setState(StateReady)
	ix.emit(Event{Kind: EventMonitoringFinished})
}

func (ix *Index) monitorLoop(w *fsnotify.Watcher) {
	defer close(ix.monitorDone)
	for {
		select {
		case <-ix.monitorStop:
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			ix.handleMonitorEvent(ev)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			// A broken event stream means the index can no longer be
			// trusted to stay current. Stop it; the consumer drops it
			// from the store on MonitoringFinished.
			ix.log.Error("monitor stream error", "root", ix.include.Path, "error", err)
			ix.mu.Lock()
			ix.watcher = nil
			ix.state = StateStopped
			ix.mu.Unlock()
			_ = w.Close()
			ix.emit(Event{Kind: EventMonitoringFinished})
			return
		}
	}
}

func (ix *Index) handleMonitorEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		ix.handleCreate(ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename shows up as Rename on the old path and Create on the
		// new one, so both halves are covered.
		ix.handleRemove(ev.Name)
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		ix.handleAttrib(ev.Name)
	}
}

// modify runs fn under the index mutex inside a StartModifying/EndModifying
// bracket. The consumer takes its own lock on the start bracket, so every
// event fn emits is observed atomically with the index mutation.
func (ix *Index) modify(fn func()) {
	ix.emit(Event{Kind: EventStartModifying})
	ix.mu.Lock()
	fn()
	ix.mu.Unlock()
	ix.emit(Event{Kind: EventEndModifying})
}

// resizeAncestors applies a size delta to every folder above e. The affected
// folders leave the consumer's sorted containers before the mutation and
// re-enter afterwards, since changing a sort field of a contained entry
// would corrupt any size-ordered container.
func (ix *Index) resizeAncestors(e *entry.Entry, delta int64) {
	if delta == 0 || !ix.flags.Has(types.FlagSize) || e.Parent == nil {
		return
	}
	// Roots are not container members, so they take the delta silently.
	var ancestors []*entry.Entry
	for p := e.Parent; p != nil; p = p.Parent {
		if !p.Root() {
			ancestors = append(ancestors, p)
		}
	}
	if len(ancestors) == 0 {
		e.AddSizeToAncestors(delta)
		return
	}
	ix.emit(Event{Kind: EventEntryAttributeChanged, Folders: ancestors})
	e.AddSizeToAncestors(delta)
	ix.emit(Event{Kind: EventEntryCreated, Folders: ancestors})
}

func (ix *Index) handleCreate(path string) {
	if ix.exclude.Matches(path) {
		return
	}
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return
	}

	ix.mu.Lock()
	_, knownFolder := ix.folderByPath[path]
	_, knownFile := ix.fileByPath[path]
	ix.mu.Unlock()
	if knownFolder || knownFile {
		ix.handleAttrib(path)
		return
	}

	if info.IsDir() {
		ix.createFolderTree(path)
		return
	}
	ix.createFile(path, info)
}

func (ix *Index) createFile(path string, info fs.FileInfo) {
	ix.modify(func() {
		parent := ix.folderByPath[filepath.Dir(path)]
		if parent == nil {
			return
		}
		e := ix.filePool.Alloc(filepath.Base(path), parent)
		if ix.flags.Has(types.FlagSize) {
			e.Size = uint64(info.Size())
		}
		if ix.flags.Has(types.FlagModificationTime) {
			e.MTime = info.ModTime().Unix()
		}
		ix.fileByPath[path] = e
		ix.files.Insert(e)
		ix.resizeAncestors(e, info.Size())
		ix.emit(Event{Kind: EventEntryCreated, Files: []*entry.Entry{e}})
	})
}

// createFolderTree indexes a newly appeared directory and everything below
// it. Contents may already exist by the time the create event arrives, so
// the whole subtree is walked.
func (ix *Index) createFolderTree(path string) {
	var newFolders, newFiles []*entry.Entry
	var subtreeSize int64

	ix.modify(func() {
		parent := ix.folderByPath[filepath.Dir(path)]
		if parent == nil {
			return
		}
		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if p != path && ix.exclude.Matches(p) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			info, ierr := d.Info()
			if ierr != nil {
				return nil
			}
			dir := ix.folderByPath[filepath.Dir(p)]
			if p == path {
				dir = parent
			}
			if dir == nil {
				return nil
			}

			if d.IsDir() {
				e := ix.folderPool.Alloc(filepath.Base(p), dir)
				e.DBIndex = uint16(ix.include.ID)
				if ix.flags.Has(types.FlagModificationTime) {
					e.MTime = info.ModTime().Unix()
				}
				ix.folderByPath[p] = e
				ix.folders.Insert(e)
				newFolders = append(newFolders, e)
				return nil
			}

			e := ix.filePool.Alloc(filepath.Base(p), dir)
			if ix.flags.Has(types.FlagSize) {
				e.Size = uint64(info.Size())
				// Propagate only within the new subtree. The pre-existing
				// ancestors take the total through resizeAncestors below,
				// bracketed so their container positions stay valid.
				for a := dir; a != nil && a != parent; a = a.Parent {
					a.Size += uint64(info.Size())
				}
				subtreeSize += info.Size()
			}
			if ix.flags.Has(types.FlagModificationTime) {
				e.MTime = info.ModTime().Unix()
			}
			ix.fileByPath[p] = e
			ix.files.Insert(e)
			newFiles = append(newFiles, e)
			return nil
		})
		if walkErr != nil {
			ix.log.Debug("subtree walk error", "path", path, "error", walkErr)
		}
		if len(newFolders) == 0 && len(newFiles) == 0 {
			return
		}

		// New entries only propagated sizes within the subtree; lift the
		// total past its top into the pre-existing ancestor chain.
		if len(newFolders) > 0 {
			ix.resizeAncestors(newFolders[0], subtreeSize)
		}
		ix.emit(Event{Kind: EventEntryCreated, Folders: newFolders, Files: newFiles})
	})

	ix.mu.Lock()
	w := ix.watcher
	ix.mu.Unlock()
	if w != nil {
		for _, f := range newFolders {
			if err := w.Add(f.Path()); err != nil {
				ix.log.Warn("failed to add watch", "path", f.Path(), "error", err)
			}
		}
	}
}

func (ix *Index) handleRemove(path string) {
	ix.mu.Lock()
	folder := ix.folderByPath[path]
	file := ix.fileByPath[path]
	w := ix.watcher
	ix.mu.Unlock()

	switch {
	case file != nil:
		ix.modify(func() {
			ix.files.Steal(file)
			delete(ix.fileByPath, path)
			ix.resizeAncestors(file, -int64(file.Size))
			ix.emit(Event{Kind: EventEntryDeleted, Files: []*entry.Entry{file}})
		})

	case folder != nil:
		var goneFolders, goneFiles []*entry.Entry
		ix.modify(func() {
			goneFolders = ix.folders.StealDescendants(folder)
			goneFiles = ix.files.StealDescendants(folder)
			ix.folders.Steal(folder)
			goneFolders = append(goneFolders, folder)

			for _, e := range goneFolders {
				delete(ix.folderByPath, e.Path())
			}
			for _, e := range goneFiles {
				delete(ix.fileByPath, e.Path())
			}
			ix.resizeAncestors(folder, -int64(folder.Size))
			ix.emit(Event{Kind: EventEntryDeleted, Folders: goneFolders, Files: goneFiles})
		})
		if w != nil {
			for _, e := range goneFolders {
				_ = w.Remove(e.Path())
			}
		}
	}
}

func (ix *Index) handleAttrib(path string) {
	ix.mu.Lock()
	folder := ix.folderByPath[path]
	file := ix.fileByPath[path]
	ix.mu.Unlock()

	e := file
	if e == nil {
		e = folder
	}
	if e == nil {
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	newSize := uint64(info.Size())
	newMTime := info.ModTime().Unix()

	ix.modify(func() {
		if e.IsFolder() {
			// Folder sizes are maintained as the recursive sum of
			// children, not from stat.
			if !ix.flags.Has(types.FlagModificationTime) || e.MTime == newMTime {
				return
			}
			ix.emit(Event{Kind: EventEntryAttributeChanged, Folders: []*entry.Entry{e}})
			e.MTime = newMTime
			ix.emit(Event{Kind: EventEntryCreated, Folders: []*entry.Entry{e}})
			return
		}

		sizeChanged := ix.flags.Has(types.FlagSize) && e.Size != newSize
		mtimeChanged := ix.flags.Has(types.FlagModificationTime) && e.MTime != newMTime
		if !sizeChanged && !mtimeChanged {
			return
		}

		delta := int64(newSize) - int64(e.Size)
		ix.emit(Event{Kind: EventEntryAttributeChanged, Files: []*entry.Entry{e}})
		if sizeChanged {
			e.Size = newSize
		}
		if mtimeChanged {
			e.MTime = newMTime
		}
		if sizeChanged {
			ix.resizeAncestors(e, delta)
		}
		ix.emit(Event{Kind: EventEntryCreated, Files: []*entry.Entry{e}})
	})
}

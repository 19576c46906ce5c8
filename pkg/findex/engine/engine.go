// Package engine implements the database engine: a single work-queue
// goroutine that owns every structural change to the index store, search
// views keyed by numeric view ids, and an asynchronous ordered event stream
// back to the embedder.
//
// All mutating operations are enqueued and return immediately; completion is
// reported through events. The only synchronous reads are the TryGet
// methods, which fail with types.ErrBusy instead of blocking.
package engine

import (
	"context"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/container"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/index"
	"github.com/jamesainslie/findex/pkg/findex/logging"
	"github.com/jamesainslie/findex/pkg/findex/query"
	"github.com/jamesainslie/findex/pkg/findex/snapshot"
	"github.com/jamesainslie/findex/pkg/findex/store"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// matchShardSize is the number of entries each parallel match task covers.
const matchShardSize = 4096

// Config configures an engine.
type Config struct {
	// DatabaseDir is the directory holding the snapshot file.
	DatabaseDir string

	// Includes and Excludes are the initial scan configuration.
	Includes *config.IncludeManager
	Excludes *config.ExcludeManager

	// Flags selects the per-entry properties to index.
	Flags types.PropertyFlags
}

// Engine drives the index store through a serial work queue.
type Engine struct {
	cfg Config

	// mu guards store, views and pendingChange. It is never held across
	// event publication.
	mu            sync.Mutex
	store         *store.Store
	views         map[uint32]*SearchView
	pendingChange bool

	queue    chan *work
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	events *broadcaster
	log    *log.Logger

	closeOnce sync.Once
}

// New creates an engine and starts its work-queue goroutine. The engine
// begins with an empty store; enqueue Load or Scan to populate it.
func New(cfg Config) *Engine {
	if cfg.Includes == nil {
		cfg.Includes = config.NewIncludeManager()
	}
	if cfg.Excludes == nil {
		cfg.Excludes = config.NewExcludeManager(config.DefaultExcludes, false)
	}
	if cfg.Flags == 0 {
		cfg.Flags = types.DefaultPropertyFlags
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		views:    make(map[uint32]*SearchView),
		queue:    make(chan *work, 128),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		events:   newBroadcaster(),
		log:      logging.Get("engine"),
	}
	e.store = store.New(cfg.Includes, cfg.Excludes, cfg.Flags, e.handleIndexEvent)
	go e.run()
	return e
}

// Subscribe registers an event subscriber. Events arrive in publish order.
func (e *Engine) Subscribe() *Subscriber { return e.events.subscribe() }

// Unsubscribe removes a subscriber and closes its channel.
func (e *Engine) Unsubscribe(id string) { e.events.unsubscribe(id) }

// Load enqueues loading the snapshot from the database directory.
func (e *Engine) Load() { e.enqueue(&work{kind: workLoad}) }

// Save enqueues saving the store to the database directory.
func (e *Engine) Save() { e.enqueue(&work{kind: workSave}) }

// Scan enqueues a rebuild of the store under the given configuration. A
// configuration identical to the current one is a no-op.
func (e *Engine) Scan(includes *config.IncludeManager, excludes *config.ExcludeManager, flags types.PropertyFlags) {
	e.enqueue(&work{kind: workScan, includes: includes, excludes: excludes, flags: flags})
}

// Rescan enqueues a rebuild of the store under its current configuration.
func (e *Engine) Rescan() {
	e.enqueue(&work{kind: workScan, force: true})
}

// Search enqueues a query evaluation. The resulting view replaces any prior
// view registered under viewID, inheriting its selection.
func (e *Engine) Search(viewID uint32, q query.Query, key types.SortKey, direction types.Direction) {
	if q == nil {
		q = query.MatchAll{}
	}
	e.enqueue(&work{kind: workSearch, viewID: viewID, query: q, sortKey: key, direction: direction})
}

// Sort enqueues re-sorting a view in place.
func (e *Engine) Sort(viewID uint32, key types.SortKey, direction types.Direction) {
	e.enqueue(&work{kind: workSort, viewID: viewID, sortKey: key, direction: direction})
}

// ModifySelection enqueues a selection mutation on a view.
func (e *Engine) ModifySelection(viewID uint32, kind SelectionKind, startIdx, endIdx int) {
	e.enqueue(&work{kind: workModifySelection, viewID: viewID, selection: kind, startIdx: startIdx, endIdx: endIdx})
}

// RequestItemInfo enqueues building an EntryInfo for one position of a view,
// delivered through an item-info-ready event.
func (e *Engine) RequestItemInfo(viewID uint32, idx int) {
	e.enqueue(&work{kind: workGetItemInfo, viewID: viewID, entryIdx: idx})
}

// Flush blocks until every work item enqueued before it has been processed.
func (e *Engine) Flush() {
	done := make(chan struct{})
	e.enqueue(&work{kind: workBarrier, done: done})
	<-done
}

// Close cancels in-flight work, drains the queue and releases the store.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		e.enqueue(&work{kind: workQuit})
		<-e.loopDone
		e.store.Close()
		e.events.close()
	})
}

func (e *Engine) enqueue(w *work) {
	select {
	case e.queue <- w:
	case <-e.loopDone:
		if w.done != nil {
			close(w.done)
		}
	}
}

func (e *Engine) run() {
	defer close(e.loopDone)
	for w := range e.queue {
		switch w.kind {
		case workLoad:
			e.handleLoad()
		case workSave:
			e.handleSave()
		case workScan:
			e.handleScan(w)
		case workSearch:
			e.handleSearch(w)
		case workSort:
			e.handleSort(w)
		case workModifySelection:
			e.handleModifySelection(w)
		case workGetItemInfo:
			e.handleGetItemInfo(w)
		case workBarrier:
			close(w.done)
		case workQuit:
			return
		}
	}
}

func (e *Engine) databaseInfoLocked() *DatabaseInfo {
	return &DatabaseInfo{
		NumFiles:   uint32(e.store.NumFiles()),
		NumFolders: uint32(e.store.NumFolders()),
	}
}

func searchInfo(viewID uint32, v *SearchView) *SearchInfo {
	return &SearchInfo{
		ViewID:             viewID,
		NumFiles:           uint32(v.NumFiles()),
		NumFolders:         uint32(v.NumFolders()),
		NumSelectedFiles:   uint32(v.NumSelectedFiles()),
		NumSelectedFolders: uint32(v.NumSelectedFolders()),
		SortKey:            v.SortKey(),
		Direction:          v.Direction(),
	}
}

// swapStore installs a new store, dropping every search view. The retiring
// store is closed outside the engine mutex so its monitor goroutines can
// finish delivering bracketed events.
func (e *Engine) swapStore(newStore *store.Store) *DatabaseInfo {
	e.mu.Lock()
	old := e.store
	e.store = newStore
	e.views = make(map[uint32]*SearchView)
	info := e.databaseInfoLocked()
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return info
}

func (e *Engine) handleLoad() {
	e.events.publish(Event{Kind: EventLoadStarted})

	newStore := e.loadStore()
	info := e.swapStore(newStore)
	e.events.publish(Event{Kind: EventLoadFinished, Database: info})
}

// loadStore decodes the snapshot into a store, falling back to an empty
// store with the configured managers when anything fails, so the engine
// always ends up in a usable state.
func (e *Engine) loadStore() *store.Store {
	res, err := snapshot.Load(e.cfg.DatabaseDir)
	if err != nil {
		e.log.Warn("failed to load database", "dir", e.cfg.DatabaseDir, "error", err)
		return store.New(e.cfg.Includes, e.cfg.Excludes, e.cfg.Flags, e.handleIndexEvent)
	}

	in := config.Include{ID: 0}
	for _, e := range res.FolderPool.Entries() {
		if e.Root() {
			in.Path = e.Name
			break
		}
	}
	ix, err := index.FromPools(in, e.cfg.Excludes, res.Flags, e.handleIndexEvent, res.FolderPool, res.FilePool)
	if err == nil {
		var s *store.Store
		s, err = store.FromIndices(e.cfg.Includes, e.cfg.Excludes, res.Flags, e.handleIndexEvent, []*index.Index{ix})
		if err == nil {
			return s
		}
	}
	e.log.Warn("failed to build store from snapshot", "error", err)
	return store.New(e.cfg.Includes, e.cfg.Excludes, e.cfg.Flags, e.handleIndexEvent)
}

func (e *Engine) handleSave() {
	e.events.publish(Event{Kind: EventSaveStarted})

	e.mu.Lock()
	err := snapshot.Save(e.store, e.cfg.DatabaseDir)
	e.mu.Unlock()
	if err != nil {
		e.log.Error("failed to save database", "dir", e.cfg.DatabaseDir, "error", err)
	}
	e.events.publish(Event{Kind: EventSaveFinished})
}

func (e *Engine) handleScan(w *work) {
	e.mu.Lock()
	cur := e.store
	includes := w.includes
	if includes == nil {
		includes = cur.Includes()
	}
	excludes := w.excludes
	if excludes == nil {
		excludes = cur.Excludes()
	}
	flags := w.flags
	if flags == 0 {
		flags = cur.Flags()
	}
	same := cur.Running() &&
		includes.Equal(cur.Includes()) &&
		excludes.Equal(cur.Excludes()) &&
		flags == cur.Flags()
	e.mu.Unlock()

	if same && !w.force {
		e.log.Debug("scan configuration unchanged, skipping")
		return
	}

	e.events.publish(Event{Kind: EventScanStarted})

	newStore := store.New(includes, excludes, flags, e.handleIndexEvent)
	if err := newStore.Start(e.ctx); err != nil {
		e.log.Error("scan failed", "error", err)
		e.mu.Lock()
		info := e.databaseInfoLocked()
		e.mu.Unlock()
		e.events.publish(Event{Kind: EventScanFinished, Database: info})
		return
	}

	info := e.swapStore(newStore)
	newStore.StartMonitoring()
	e.events.publish(Event{Kind: EventScanFinished, Database: info})
}

func secondaryKey(key types.SortKey) types.SortKey {
	if key == types.SortByName {
		return types.SortByNone
	}
	return types.SortByName
}

func (e *Engine) handleSearch(w *work) {
	e.events.publish(Event{Kind: EventSearchStarted, ViewID: w.viewID})

	e.mu.Lock()
	s := e.store
	key := w.sortKey
	folders, files := s.Folders(key), s.Files(key)
	if folders == nil || files == nil {
		// Fall back to the always-maintained name order.
		key = types.SortByName
		folders, files = s.Folders(key), s.Files(key)
	}

	var vFolders, vFiles *container.Container
	var err error
	switch {
	case folders == nil || files == nil:
		// Empty or unloaded store: the view still exists, just empty.
		vFolders, err = container.New(nil, false, key, secondaryKey(key), entry.KindFolder, e.ctx)
		if err == nil {
			vFiles, err = container.New(nil, false, key, secondaryKey(key), entry.KindFile, e.ctx)
		}
	case w.query.MatchesEverything():
		vFolders, vFiles = folders, files
	default:
		vFolders, err = container.New(parallelMatch(folders.Joined(), w.query), false,
			key, secondaryKey(key), entry.KindFolder, e.ctx)
		if err == nil {
			vFiles, err = container.New(parallelMatch(files.Joined(), w.query), false,
				key, secondaryKey(key), entry.KindFile, e.ctx)
		}
	}
	if err != nil {
		e.mu.Unlock()
		e.log.Error("search failed", "view", w.viewID, "error", err)
		return
	}

	v := newSearchView(w.query, vFolders, vFiles, e.views[w.viewID], key, w.direction)
	e.views[w.viewID] = v
	info := searchInfo(w.viewID, v)
	e.mu.Unlock()

	e.events.publish(Event{Kind: EventSearchFinished, ViewID: w.viewID, Search: info})
}

// parallelMatch evaluates the query over entries in order-preserving shards
// on a bounded goroutine pool.
func parallelMatch(entries []*entry.Entry, q query.Query) []*entry.Entry {
	if len(entries) <= matchShardSize {
		return matchShard(entries, q)
	}

	numShards := (len(entries) + matchShardSize - 1) / matchShardSize
	results := make([][]*entry.Entry, numShards)

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i := 0; i < numShards; i++ {
		i := i
		lo := i * matchShardSize
		hi := lo + matchShardSize
		if hi > len(entries) {
			hi = len(entries)
		}
		p.Go(func() {
			results[i] = matchShard(entries[lo:hi], q)
		})
	}
	p.Wait()

	var out []*entry.Entry
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func matchShard(entries []*entry.Entry, q query.Query) []*entry.Entry {
	var out []*entry.Entry
	for _, e := range entries {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (e *Engine) handleSort(w *work) {
	e.events.publish(Event{Kind: EventSortStarted, ViewID: w.viewID})

	e.mu.Lock()
	v, ok := e.views[w.viewID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn("sort on unknown view", "view", w.viewID)
		return
	}
	if err := v.sortBy(e.ctx, e.store, w.sortKey, w.direction); err != nil {
		e.mu.Unlock()
		e.log.Error("sort failed", "view", w.viewID, "error", err)
		return
	}
	info := searchInfo(w.viewID, v)
	e.mu.Unlock()

	e.events.publish(Event{Kind: EventSortFinished, ViewID: w.viewID, Search: info})
}

func (e *Engine) handleModifySelection(w *work) {
	e.mu.Lock()
	v, ok := e.views[w.viewID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn("selection on unknown view", "view", w.viewID)
		return
	}
	v.ModifySelection(w.selection, w.startIdx, w.endIdx)
	info := searchInfo(w.viewID, v)
	e.mu.Unlock()

	e.events.publish(Event{Kind: EventSelectionChanged, ViewID: w.viewID, Search: info})
}

func (e *Engine) handleGetItemInfo(w *work) {
	e.mu.Lock()
	v, ok := e.views[w.viewID]
	if !ok {
		e.mu.Unlock()
		e.log.Warn("item info on unknown view", "view", w.viewID)
		return
	}
	en := v.Entry(w.entryIdx)
	if en == nil {
		e.mu.Unlock()
		return
	}
	info := entryInfo(en, uint32(w.entryIdx), v.IsSelected(en))
	e.mu.Unlock()

	e.events.publish(Event{Kind: EventItemInfoReady, ViewID: w.viewID, Item: info})
}

// TryGetDatabaseInfo reads the database summary without blocking. It fails
// with types.ErrBusy when the engine mutex is held by a queued work item.
func (e *Engine) TryGetDatabaseInfo() (*DatabaseInfo, error) {
	if !e.mu.TryLock() {
		return nil, types.ErrBusy
	}
	defer e.mu.Unlock()
	return e.databaseInfoLocked(), nil
}

// TryGetSearchInfo reads a view summary without blocking.
func (e *Engine) TryGetSearchInfo(viewID uint32) (*SearchInfo, error) {
	if !e.mu.TryLock() {
		return nil, types.ErrBusy
	}
	defer e.mu.Unlock()

	v, ok := e.views[viewID]
	if !ok {
		return nil, types.ErrUnknownSearchView
	}
	return searchInfo(viewID, v), nil
}

// TryGetItemInfo reads one entry of a view without blocking.
func (e *Engine) TryGetItemInfo(viewID uint32, idx int) (*EntryInfo, error) {
	if !e.mu.TryLock() {
		return nil, types.ErrBusy
	}
	defer e.mu.Unlock()

	v, ok := e.views[viewID]
	if !ok {
		return nil, types.ErrUnknownSearchView
	}
	en := v.Entry(idx)
	if en == nil {
		return nil, types.ErrEntryNotFound
	}
	return entryInfo(en, uint32(idx), v.IsSelected(en)), nil
}

// handleIndexEvent consumes index events. Mutation events arrive on monitor
// goroutines inside StartModifying/EndModifying brackets; the engine mutex
// is taken on the opening bracket and released on the closing one, making
// the whole batch externally atomic.
func (e *Engine) handleIndexEvent(ev index.Event) {
	switch ev.Kind {
	case index.EventStartModifying:
		e.mu.Lock()

	case index.EventEndModifying:
		var info *DatabaseInfo
		if e.pendingChange {
			e.pendingChange = false
			info = e.databaseInfoLocked()
		}
		e.mu.Unlock()
		if info != nil {
			e.events.publish(Event{Kind: EventDatabaseChanged, Database: info})
		}

	case index.EventEntryCreated:
		if !e.store.HasIndex(ev.Index) {
			return
		}
		if len(ev.Folders) > 0 {
			e.store.AddEntries(ev.Folders, true)
		}
		if len(ev.Files) > 0 {
			e.store.AddEntries(ev.Files, false)
		}
		for _, v := range e.views {
			for _, en := range ev.Folders {
				v.addEntry(e.store, en)
			}
			for _, en := range ev.Files {
				v.addEntry(e.store, en)
			}
		}
		e.pendingChange = true

	case index.EventEntryDeleted:
		if !e.store.HasIndex(ev.Index) {
			return
		}
		if len(ev.Folders) > 0 {
			e.store.RemoveFolders(ev.Folders, ev.Index)
		}
		if len(ev.Files) > 0 {
			e.store.RemoveFiles(ev.Files, ev.Index)
		}
		for _, v := range e.views {
			for _, en := range ev.Folders {
				v.removeEntry(e.store, en)
			}
			for _, en := range ev.Files {
				v.removeEntry(e.store, en)
			}
		}
		e.pendingChange = true

	case index.EventEntryAttributeChanged:
		// The entries leave the containers only until the EntryCreated
		// event later in the same bracket; selections stay.
		if !e.store.HasIndex(ev.Index) {
			return
		}
		if len(ev.Folders) > 0 {
			e.store.RemoveFolders(ev.Folders, ev.Index)
		}
		if len(ev.Files) > 0 {
			e.store.RemoveFiles(ev.Files, ev.Index)
		}
		for _, v := range e.views {
			for _, en := range ev.Folders {
				v.stealEntry(e.store, en)
			}
			for _, en := range ev.Files {
				v.stealEntry(e.store, en)
			}
		}
		e.pendingChange = true

	case index.EventMonitoringFinished:
		if ev.Index.State() != index.StateStopped {
			return
		}
		// The index lost its event stream; its entries can no longer be
		// trusted to stay current.
		e.mu.Lock()
		if !e.store.HasIndex(ev.Index) {
			e.mu.Unlock()
			return
		}
		e.store.RemoveIndex(ev.Index)
		info := e.databaseInfoLocked()
		e.mu.Unlock()
		e.events.publish(Event{Kind: EventDatabaseChanged, Database: info})
	}
}

// Package index implements the per-root index: it owns the entries for one
// configured root, scans the filesystem to populate them and keeps them
// current through filesystem monitoring.
//
// An index passes every change to its consumer through an event callback.
// Mutation events are wrapped in StartModifying/EndModifying brackets; the
// consumer takes its own lock on the start bracket and releases it on the end
// bracket, so a batch of mutations is externally atomic.
package index

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/container"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/logging"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// EventKind identifies what an index event reports.
type EventKind int

// Index event kinds.
const (
	EventScanStarted EventKind = iota
	EventScanFinished
	EventMonitoringStarted
	EventMonitoringFinished
	EventEntryCreated
	EventEntryDeleted
	EventEntryAttributeChanged
	EventStartModifying
	EventEndModifying
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventScanStarted:
		return "scan-started"
	case EventScanFinished:
		return "scan-finished"
	case EventMonitoringStarted:
		return "monitoring-started"
	case EventMonitoringFinished:
		return "monitoring-finished"
	case EventEntryCreated:
		return "entry-created"
	case EventEntryDeleted:
		return "entry-deleted"
	case EventEntryAttributeChanged:
		return "entry-attribute-changed"
	case EventStartModifying:
		return "start-modifying"
	case EventEndModifying:
		return "end-modifying"
	default:
		return "unknown"
	}
}

// Event is one notification from an index to its consumer. Folders and Files
// carry the affected entries for the entry-level kinds and are nil otherwise.
//
// EntryAttributeChanged announces entries whose sort fields are about to
// mutate: consumers drop them from their sorted containers but keep any
// per-entry state (selection), because the same entries re-enter through an
// EntryCreated event later in the same bracket. EntryDeleted means the
// entries are gone for good.
type Event struct {
	Kind    EventKind
	Index   *Index
	Folders []*entry.Entry
	Files   []*entry.Entry
}

// EventFunc receives index events. Mutation events arrive on the monitor
// goroutine between a StartModifying and an EndModifying event.
type EventFunc func(Event)

// State is the lifecycle state of an index.
type State int

// Index lifecycle states.
const (
	StateCreated State = iota
	StateScanning
	StateReady
	StateCancelled
	StateMonitoring
	StateStopped
)

// Index owns the entries for one configured root.
type Index struct {
	include config.Include
	exclude *config.ExcludeManager
	flags   types.PropertyFlags

	mu    sync.Mutex
	state State

	folderPool *entry.Pool
	filePool   *entry.Pool
	folders    *container.Container
	files      *container.Container

	folderByPath map[string]*entry.Entry
	fileByPath   map[string]*entry.Entry

	watcher     *fsnotify.Watcher
	monitorStop chan struct{}
	monitorDone chan struct{}

	eventFn EventFunc
	log     *log.Logger
}

// New creates an index for one root. Nothing happens until Scan.
func New(include config.Include, exclude *config.ExcludeManager, flags types.PropertyFlags, eventFn EventFunc) *Index {
	return &Index{
		include:      include,
		exclude:      exclude.Copy(),
		flags:        flags,
		state:        StateCreated,
		folderPool:   entry.NewPool(entry.KindFolder),
		filePool:     entry.NewPool(entry.KindFile),
		folderByPath: make(map[string]*entry.Entry),
		fileByPath:   make(map[string]*entry.Entry),
		eventFn:      eventFn,
		log:          logging.Get("index"),
	}
}

// FromPools creates a Ready index around entries restored from a snapshot.
// The pools transfer ownership to the index; monitoring may be started on it
// like on a scanned index.
func FromPools(include config.Include, exclude *config.ExcludeManager, flags types.PropertyFlags,
	eventFn EventFunc, folderPool, filePool *entry.Pool,
) (*Index, error) {
	ix := New(include, exclude, flags, eventFn)
	ix.folderPool = folderPool
	ix.filePool = filePool

	var err error
	ix.folders, err = container.New(nonRoots(folderPool), false,
		types.SortByName, types.SortByNone, entry.KindFolder, nil)
	if err == nil {
		ix.files, err = container.New(filePool.Entries(), false,
			types.SortByName, types.SortByNone, entry.KindFile, nil)
	}
	if err != nil {
		return nil, err
	}

	for _, e := range folderPool.Entries() {
		ix.folderByPath[e.Path()] = e
	}
	for _, e := range filePool.Entries() {
		ix.fileByPath[e.Path()] = e
	}
	ix.state = StateReady
	return ix, nil
}

// ID returns the configured root id.
func (ix *Index) ID() uint32 { return ix.include.ID }

// Root returns the configured root path.
func (ix *Index) Root() string { return ix.include.Path }

// Include returns the include descriptor the index was built from.
func (ix *Index) Include() config.Include { return ix.include }

// Flags returns the property flags the index maintains.
func (ix *Index) Flags() types.PropertyFlags { return ix.flags }

// Lock acquires the index mutex. Consumers hold it while reading entries
// that a monitor callback could mutate.
func (ix *Index) Lock() { ix.mu.Lock() }

// Unlock releases the index mutex.
func (ix *Index) Unlock() { ix.mu.Unlock() }

// State returns the current lifecycle state.
func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Folders returns the name-sorted folder container, or nil before a
// successful scan.
func (ix *Index) Folders() *container.Container { return ix.folders }

// Files returns the name-sorted file container, or nil before a successful
// scan.
func (ix *Index) Files() *container.Container { return ix.files }

// NumFolders returns the number of indexed folders, roots included.
func (ix *Index) NumFolders() int { return ix.folderPool.Len() }

// NumFiles returns the number of indexed files.
func (ix *Index) NumFiles() int { return ix.filePool.Len() }

// Roots returns the root folder entries of the index.
func (ix *Index) Roots() []*entry.Entry {
	var roots []*entry.Entry
	for _, e := range ix.folderPool.Entries() {
		if e.Root() {
			roots = append(roots, e)
		}
	}
	return roots
}

func (ix *Index) emit(ev Event) {
	if ix.eventFn != nil {
		ev.Index = ix
		ix.eventFn(ev)
	}
}

func (ix *Index) setState(s State) {
	ix.mu.Lock()
	ix.state = s
	ix.mu.Unlock()
}

// Close stops monitoring and marks the index stopped. Entries vended by the
// index stay valid until the index itself is unreferenced.
func (ix *Index) Close() {
	ix.StopMonitoring()
	ix.setState(StateStopped)
}

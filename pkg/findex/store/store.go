// Package store implements the index store: the union of all per-root
// indices, with one pre-built container per maintained sort key and entry
// type for O(log n) positional access in any order.
package store

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/container"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/index"
	"github.com/jamesainslie/findex/pkg/findex/logging"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// ErrAlreadyRunning is returned when Start is called twice.
var ErrAlreadyRunning = errors.New("store already started")

// Store is the union of per-root indices. Structural mutations (Start,
// AddEntries, Remove*) require external serialization by the caller; reads
// of the containers are safe concurrently with each other.
type Store struct {
	includes *config.IncludeManager
	excludes *config.ExcludeManager
	flags    types.PropertyFlags
	eventFn  index.EventFunc

	indices []*index.Index

	folderContainers [types.NumSortKeys]*container.Container
	fileContainers   [types.NumSortKeys]*container.Container

	running bool
	log     *log.Logger
}

// New creates a store over the given configuration. eventFn is handed to
// every member index; nothing scans or runs until Start.
func New(includes *config.IncludeManager, excludes *config.ExcludeManager,
	flags types.PropertyFlags, eventFn index.EventFunc,
) *Store {
	return &Store{
		includes: includes.Copy(),
		excludes: excludes.Copy(),
		flags:    flags,
		eventFn:  eventFn,
		log:      logging.Get("store"),
	}
}

// FromIndices creates a running store around already populated indices,
// typically restored from a snapshot. Containers for every maintained sort
// key are built before the store is returned.
func FromIndices(includes *config.IncludeManager, excludes *config.ExcludeManager,
	flags types.PropertyFlags, eventFn index.EventFunc, indices []*index.Index,
) (*Store, error) {
	s := New(includes, excludes, flags, eventFn)
	s.indices = indices
	if err := s.buildContainers(context.Background()); err != nil {
		return nil, err
	}
	s.running = true
	return s, nil
}

// Includes returns the store's include manager.
func (s *Store) Includes() *config.IncludeManager { return s.includes }

// Excludes returns the store's exclude manager.
func (s *Store) Excludes() *config.ExcludeManager { return s.excludes }

// Flags returns the property flags the store maintains.
func (s *Store) Flags() types.PropertyFlags { return s.flags }

// Running reports whether Start completed successfully.
func (s *Store) Running() bool { return s.running }

// Indices returns the member indices. The slice is append-only during Start
// and stable afterwards.
func (s *Store) Indices() []*index.Index { return s.indices }

// Start scans every include eligible for scanning and builds the sort
// containers. On cancellation every partial result is discarded and the
// store is left empty and not running.
func (s *Store) Start(ctx context.Context) error {
	if s.running {
		return ErrAlreadyRunning
	}

	for _, in := range s.includes.Includes() {
		if !in.ScanAfterLaunch || s.hasIndexID(in.ID) {
			continue
		}
		ix := index.New(in, s.excludes, s.flags, s.eventFn)
		if err := ix.Scan(ctx); err != nil {
			s.discard()
			return err
		}
		s.indices = append(s.indices, ix)
	}

	if err := s.buildContainers(ctx); err != nil {
		s.discard()
		return err
	}
	s.running = true
	s.log.Info("store started",
		"indices", len(s.indices),
		"folders", s.NumFolders(),
		"files", s.NumFiles())
	return nil
}

// StartMonitoring enables filesystem monitoring on every member index whose
// include asks for it.
func (s *Store) StartMonitoring() {
	for _, ix := range s.indices {
		if !ix.Include().Monitor {
			continue
		}
		if err := ix.StartMonitoring(true); err != nil {
			s.log.Warn("failed to start monitoring", "root", ix.Root(), "error", err)
		}
	}
}

// Close stops monitoring on every index and drops all containers.
func (s *Store) Close() {
	for _, ix := range s.indices {
		ix.Close()
	}
	s.discard()
}

func (s *Store) discard() {
	s.indices = nil
	s.folderContainers = [types.NumSortKeys]*container.Container{}
	s.fileContainers = [types.NumSortKeys]*container.Container{}
	s.running = false
}

func (s *Store) hasIndexID(id uint32) bool {
	for _, ix := range s.indices {
		if ix.ID() == id {
			return true
		}
	}
	return false
}

// HasIndex reports whether ix is a member of the store.
func (s *Store) HasIndex(ix *index.Index) bool {
	for _, member := range s.indices {
		if member == ix {
			return true
		}
	}
	return false
}

// maintainedKeys returns the sort keys the store pre-builds containers for.
// Size and modification time need their properties indexed.
func (s *Store) maintainedKeys() []types.SortKey {
	keys := []types.SortKey{types.SortByName, types.SortByPath, types.SortByExtension}
	if s.flags.Has(types.FlagSize) {
		keys = append(keys, types.SortBySize)
	}
	if s.flags.Has(types.FlagModificationTime) {
		keys = append(keys, types.SortByModificationTime)
	}
	return keys
}

func secondaryFor(key types.SortKey) types.SortKey {
	if key == types.SortByName {
		return types.SortByNone
	}
	return types.SortByName
}

// buildContainers builds one container per maintained sort key and type.
// ctx is checked between keys; a cancelled build leaves no containers.
func (s *Store) buildContainers(ctx context.Context) error {
	var folders, files []*entry.Entry
	for _, ix := range s.indices {
		folders = append(folders, ix.Folders().Joined()...)
		files = append(files, ix.Files().Joined()...)
	}

	for _, key := range s.maintainedKeys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fc, err := container.New(folders, false, key, secondaryFor(key), entry.KindFolder, ctx)
		if err != nil {
			return err
		}
		flc, err := container.New(files, false, key, secondaryFor(key), entry.KindFile, ctx)
		if err != nil {
			return err
		}
		s.folderContainers[key] = fc
		s.fileContainers[key] = flc
	}
	return nil
}

// RootFolders returns the root folder entries of every member index. Roots
// anchor parent chains and the snapshot but are not members of the sort
// containers.
func (s *Store) RootFolders() []*entry.Entry {
	var roots []*entry.Entry
	for _, ix := range s.indices {
		roots = append(roots, ix.Roots()...)
	}
	return roots
}

// NumFolders returns the number of folders across all indices.
func (s *Store) NumFolders() int {
	if c := s.folderContainers[types.SortByName]; c != nil {
		return c.Len()
	}
	return 0
}

// NumFiles returns the number of files across all indices.
func (s *Store) NumFiles() int {
	if c := s.fileContainers[types.SortByName]; c != nil {
		return c.Len()
	}
	return 0
}

// NumFastSortIndices returns the number of sort keys for which both a file
// and a folder container are maintained.
func (s *Store) NumFastSortIndices() int {
	var n int
	for k := 0; k < types.NumSortKeys; k++ {
		if s.folderContainers[k] != nil && s.fileContainers[k] != nil {
			n++
		}
	}
	return n
}

// Folders returns the folder container for the sort key, or nil if that key
// is not maintained or the store is not running.
func (s *Store) Folders(key types.SortKey) *container.Container {
	if !s.running || int(key) >= types.NumSortKeys {
		return nil
	}
	return s.folderContainers[key]
}

// Files returns the file container for the sort key, or nil if that key is
// not maintained or the store is not running.
func (s *Store) Files(key types.SortKey) *container.Container {
	if !s.running || int(key) >= types.NumSortKeys {
		return nil
	}
	return s.fileContainers[key]
}

// HasContainer reports whether c is one of the store's own containers.
// Search views use the identity check to avoid double-removal when the
// store already stole an entry.
func (s *Store) HasContainer(c *container.Container) bool {
	for k := 0; k < types.NumSortKeys; k++ {
		if c == s.folderContainers[k] || c == s.fileContainers[k] {
			return true
		}
	}
	return false
}

// AddEntries inserts entries into every maintained container of the given
// type.
func (s *Store) AddEntries(entries []*entry.Entry, isFolder bool) {
	containers := &s.fileContainers
	if isFolder {
		containers = &s.folderContainers
	}
	for k := 0; k < types.NumSortKeys; k++ {
		c := containers[k]
		if c == nil {
			continue
		}
		for _, e := range entries {
			c.Insert(e)
		}
	}
}

// RemoveEntry steals e from every maintained container of its type. ix must
// be a member of the store; violating that is a programmer error.
func (s *Store) RemoveEntry(e *entry.Entry, ix *index.Index) {
	s.assertMember(ix)
	s.removeAll([]*entry.Entry{e}, e.IsFolder())
}

// RemoveFolders steals the given folders from every maintained container.
func (s *Store) RemoveFolders(folders []*entry.Entry, ix *index.Index) {
	s.assertMember(ix)
	s.removeAll(folders, true)
}

// RemoveFiles steals the given files from every maintained container.
func (s *Store) RemoveFiles(files []*entry.Entry, ix *index.Index) {
	s.assertMember(ix)
	s.removeAll(files, false)
}

func (s *Store) removeAll(entries []*entry.Entry, isFolder bool) {
	containers := &s.fileContainers
	if isFolder {
		containers = &s.folderContainers
	}
	for k := 0; k < types.NumSortKeys; k++ {
		c := containers[k]
		if c == nil {
			continue
		}
		for _, e := range entries {
			c.Steal(e)
		}
	}
}

func (s *Store) assertMember(ix *index.Index) {
	if !s.HasIndex(ix) {
		panic("store: index is not a member")
	}
}

// RemoveIndex drops a stopped index and steals all of its entries from the
// containers.
func (s *Store) RemoveIndex(ix *index.Index) {
	if !s.HasIndex(ix) {
		return
	}
	s.removeAll(ix.Folders().Joined(), true)
	s.removeAll(ix.Files().Joined(), false)

	members := s.indices[:0]
	for _, member := range s.indices {
		if member != ix {
			members = append(members, member)
		}
	}
	s.indices = members
}

package engine

import (
	"context"

	"github.com/jamesainslie/findex/pkg/findex/container"
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/query"
	"github.com/jamesainslie/findex/pkg/findex/store"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// SelectionKind identifies a selection mutation.
type SelectionKind int

// Selection mutation kinds.
const (
	SelectionClear SelectionKind = iota
	SelectionAll
	SelectionInvert
	SelectionSelect
	SelectionToggle
	SelectionSelectRange
	SelectionToggleRange
)

// SearchView is a persistent, filtered, sorted, selectable result set. A
// view that matches everything aliases the store's own containers instead of
// materializing a copy; reconciliation checks for that aliasing before
// touching the containers.
type SearchView struct {
	query     query.Query
	folders   *container.Container
	files     *container.Container
	sortKey   types.SortKey
	direction types.Direction

	selectedFolders map[*entry.Entry]struct{}
	selectedFiles   map[*entry.Entry]struct{}
}

func newSearchView(q query.Query, folders, files *container.Container,
	prev *SearchView, sortKey types.SortKey, direction types.Direction,
) *SearchView {
	v := &SearchView{
		query:           q,
		folders:         folders,
		files:           files,
		sortKey:         sortKey,
		direction:       direction,
		selectedFolders: make(map[*entry.Entry]struct{}),
		selectedFiles:   make(map[*entry.Entry]struct{}),
	}
	if prev != nil {
		// Carry the previous selection over, dropping entries that fell
		// out of the result set.
		for e := range prev.selectedFolders {
			if folders.Has(e) {
				v.selectedFolders[e] = struct{}{}
			}
		}
		for e := range prev.selectedFiles {
			if files.Has(e) {
				v.selectedFiles[e] = struct{}{}
			}
		}
	}
	return v
}

// NumFolders returns the number of folders in the view.
func (v *SearchView) NumFolders() int { return v.folders.Len() }

// NumFiles returns the number of files in the view.
func (v *SearchView) NumFiles() int { return v.files.Len() }

// SortKey returns the view's sort key.
func (v *SearchView) SortKey() types.SortKey { return v.sortKey }

// Direction returns the view's sort direction.
func (v *SearchView) Direction() types.Direction { return v.direction }

// Entry returns the entry at position idx. Positions fold the two containers
// as folders first, then files; a Descending view presents the fold in
// reverse. Out-of-range positions return nil.
func (v *SearchView) Entry(idx int) *entry.Entry {
	total := v.folders.Len() + v.files.Len()
	if idx < 0 || idx >= total {
		return nil
	}
	if v.direction == types.Descending {
		idx = total - (idx + 1)
	}
	if idx < v.folders.Len() {
		return v.folders.Get(idx)
	}
	return v.files.Get(idx - v.folders.Len())
}

func (v *SearchView) selectionFor(e *entry.Entry) map[*entry.Entry]struct{} {
	if e.IsFolder() {
		return v.selectedFolders
	}
	return v.selectedFiles
}

// IsSelected reports whether e is in the view's selection.
func (v *SearchView) IsSelected(e *entry.Entry) bool {
	_, ok := v.selectionFor(e)[e]
	return ok
}

// NumSelectedFolders returns the number of selected folders.
func (v *SearchView) NumSelectedFolders() int { return len(v.selectedFolders) }

// NumSelectedFiles returns the number of selected files.
func (v *SearchView) NumSelectedFiles() int { return len(v.selectedFiles) }

// ModifySelection applies one selection mutation. Range endpoints are
// accepted in either order.
func (v *SearchView) ModifySelection(kind SelectionKind, start, end int) {
	switch kind {
	case SelectionClear:
		v.selectedFolders = make(map[*entry.Entry]struct{})
		v.selectedFiles = make(map[*entry.Entry]struct{})

	case SelectionAll:
		v.folders.Ascend(func(e *entry.Entry) bool {
			v.selectedFolders[e] = struct{}{}
			return true
		})
		v.files.Ascend(func(e *entry.Entry) bool {
			v.selectedFiles[e] = struct{}{}
			return true
		})

	case SelectionInvert:
		v.folders.Ascend(func(e *entry.Entry) bool {
			v.toggle(e)
			return true
		})
		v.files.Ascend(func(e *entry.Entry) bool {
			v.toggle(e)
			return true
		})

	case SelectionSelect:
		if e := v.Entry(start); e != nil {
			v.selectionFor(e)[e] = struct{}{}
		}

	case SelectionToggle:
		if e := v.Entry(start); e != nil {
			v.toggle(e)
		}

	case SelectionSelectRange:
		for _, i := range normalizeRange(start, end) {
			if e := v.Entry(i); e != nil {
				v.selectionFor(e)[e] = struct{}{}
			}
		}

	case SelectionToggleRange:
		for _, i := range normalizeRange(start, end) {
			if e := v.Entry(i); e != nil {
				v.toggle(e)
			}
		}
	}
}

func (v *SearchView) toggle(e *entry.Entry) {
	sel := v.selectionFor(e)
	if _, ok := sel[e]; ok {
		delete(sel, e)
	} else {
		sel[e] = struct{}{}
	}
}

func normalizeRange(a, b int) []int {
	if b < a {
		a, b = b, a
	}
	out := make([]int, 0, b-a+1)
	for i := a; i <= b; i++ {
		out = append(out, i)
	}
	return out
}

// addEntry reconciles a store-side insert into the view. Views aliasing the
// store's containers already see the entry; private views admit it only if
// it matches the query.
func (v *SearchView) addEntry(s *store.Store, e *entry.Entry) {
	c := v.containerFor(e)
	if s.HasContainer(c) {
		return
	}
	if v.query.Match(e) {
		c.Insert(e)
	}
}

// removeEntry reconciles a store-side deletion. The selection drops the
// entry along with its container membership.
func (v *SearchView) removeEntry(s *store.Store, e *entry.Entry) {
	v.stealEntry(s, e)
	delete(v.selectionFor(e), e)
}

// stealEntry drops e from the view's containers without touching the
// selection. Used for attribute mutations, where the entry leaves the
// containers only to re-enter them in the same bracket. The container is
// only stolen from when the view owns it; the store already removed the
// entry from its own containers.
func (v *SearchView) stealEntry(s *store.Store, e *entry.Entry) {
	c := v.containerFor(e)
	if !s.HasContainer(c) {
		c.Steal(e)
	}
}

func (v *SearchView) containerFor(e *entry.Entry) *container.Container {
	if e.IsFolder() {
		return v.folders
	}
	return v.files
}

// sortBy re-sorts the view in place. When the store maintains a fast
// container for the key and the view aliases the store, the pre-built
// container is adopted directly; otherwise the view's entries are reordered
// under the new key.
func (v *SearchView) sortBy(ctx context.Context, s *store.Store, key types.SortKey, direction types.Direction) error {
	if key == v.sortKey {
		v.direction = direction
		return nil
	}

	secondary := types.SortByName
	if key == types.SortByName {
		secondary = types.SortByNone
	}

	aliased := s.HasContainer(v.folders) && s.HasContainer(v.files)
	if aliased && s.Folders(key) != nil && s.Files(key) != nil {
		v.folders = s.Folders(key)
		v.files = s.Files(key)
		v.sortKey = key
		v.direction = direction
		return nil
	}

	folders, err := container.New(v.folders.Joined(), false, key, secondary, entry.KindFolder, ctx)
	if err != nil {
		return err
	}
	files, err := container.New(v.files.Joined(), false, key, secondary, entry.KindFile, ctx)
	if err != nil {
		return err
	}
	v.folders = folders
	v.files = files
	v.sortKey = key
	v.direction = direction
	return nil
}

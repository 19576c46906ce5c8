package engine

import (
	"github.com/jamesainslie/findex/pkg/findex/config"
	"github.com/jamesainslie/findex/pkg/findex/query"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// workKind identifies a queued work item.
type workKind int

const (
	workLoad workKind = iota
	workSave
	workScan
	workSearch
	workSort
	workModifySelection
	workGetItemInfo
	workBarrier
	workQuit
)

// work is one item of the engine's FIFO. Fields are populated per kind.
type work struct {
	kind workKind

	// scan
	includes *config.IncludeManager
	excludes *config.ExcludeManager
	flags    types.PropertyFlags
	force    bool

	// search / sort
	query     query.Query
	viewID    uint32
	sortKey   types.SortKey
	direction types.Direction

	// selection / item info
	selection SelectionKind
	startIdx  int
	endIdx    int
	entryIdx  int

	// barrier
	done chan struct{}
}

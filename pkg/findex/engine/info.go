package engine

import (
	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// DatabaseInfo is a point-in-time summary of the store.
type DatabaseInfo struct {
	NumFiles   uint32
	NumFolders uint32
}

// SearchInfo summarizes one search view.
type SearchInfo struct {
	ViewID             uint32
	NumFiles           uint32
	NumFolders         uint32
	NumSelectedFiles   uint32
	NumSelectedFolders uint32
	SortKey            types.SortKey
	Direction          types.Direction
}

// EntryInfo is the detail payload for one entry of a view.
type EntryInfo struct {
	Index    uint32
	Name     string
	Path     string
	Size     uint64
	MTime    int64
	Folder   bool
	Selected bool
}

func entryInfo(e *entry.Entry, idx uint32, selected bool) *EntryInfo {
	return &EntryInfo{
		Index:    idx,
		Name:     e.Name,
		Path:     e.Path(),
		Size:     e.Size,
		MTime:    e.MTime,
		Folder:   e.IsFolder(),
		Selected: selected,
	}
}

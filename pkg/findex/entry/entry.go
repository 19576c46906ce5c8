// Package entry defines the in-memory record for one indexed file or folder
// and the comparison functions the sorted containers are built on.
//
// Entries form a tree through parent pointers: every non-root entry points at
// the folder entry that contains it, and a folder's size is the recursive sum
// of its children's sizes. Entries are created by the per-root index that owns
// them and must not outlive it.
package entry

import (
	"strings"
	"sync/atomic"

	"github.com/jamesainslie/findex/pkg/findex/types"
)

// Kind discriminates files from folders.
type Kind uint8

// Entry kinds.
const (
	KindFile Kind = iota + 1
	KindFolder
)

// seqCounter hands out the identity tiebreak used by the containers. It is
// global so entries from different roots still have a total order.
var seqCounter atomic.Uint64

// Entry is one file or folder in the index.
type Entry struct {
	// Name is the basename of the entry. Root folders carry their full
	// configured path instead, so path reconstruction terminates there.
	Name string

	// Parent is the containing folder, or nil for configured roots.
	Parent *Entry

	// Size is the size in bytes. For folders it is the recursive sum of
	// the direct children's sizes.
	Size uint64

	// MTime is the modification time in Unix seconds.
	MTime int64

	// Idx is the entry's position in the name-sorted container of its
	// kind. It is only refreshed right before a snapshot is written and
	// serves as the entry's wire identity; treat it as scratch otherwise.
	Idx uint32

	// DBIndex is the id of the per-root index the entry belongs to.
	// Only meaningful for folders; files inherit it from their parent.
	DBIndex uint16

	kind Kind
	seq  uint64
}

// New creates an entry of the given kind. The sequence number assigned here
// is the stable identity tiebreak for container ordering.
func New(kind Kind, name string, parent *Entry) *Entry {
	return &Entry{
		Name:   name,
		Parent: parent,
		kind:   kind,
		seq:    seqCounter.Add(1),
	}
}

// Kind returns the entry kind.
func (e *Entry) Kind() Kind { return e.kind }

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool { return e.kind == KindFolder }

// IsFile reports whether the entry is a file.
func (e *Entry) IsFile() bool { return e.kind == KindFile }

// Seq returns the identity tiebreak value.
func (e *Entry) Seq() uint64 { return e.seq }

// Root reports whether the entry is a configured root folder.
func (e *Entry) Root() bool { return e.Parent == nil }

// OwnerID returns the id of the per-root index the entry belongs to.
func (e *Entry) OwnerID() uint16 {
	if e.IsFolder() || e.Parent == nil {
		return e.DBIndex
	}
	return e.Parent.DBIndex
}

// Depth returns the number of ancestors above the entry.
func (e *Entry) Depth() uint32 {
	var depth uint32
	for p := e.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// IsDescendantOf reports whether folder is an ancestor of the entry.
func (e *Entry) IsDescendantOf(folder *Entry) bool {
	for p := e.Parent; p != nil; p = p.Parent {
		if p == folder {
			return true
		}
	}
	return false
}

// AppendPath writes the entry's full path to sb by walking the parent chain.
func (e *Entry) AppendPath(sb *strings.Builder) {
	if e.Parent != nil {
		e.Parent.AppendPath(sb)
		sb.WriteByte('/')
	}
	sb.WriteString(e.Name)
}

// Path returns the entry's full path.
func (e *Entry) Path() string {
	var sb strings.Builder
	e.AppendPath(&sb)
	return sb.String()
}

// Extension returns the suffix after the last dot of the basename, without
// the dot. Folders and names without a dot have no extension.
func (e *Entry) Extension() string {
	if e.IsFolder() {
		return ""
	}
	if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
		return e.Name[i+1:]
	}
	return ""
}

// AddSizeToAncestors adds delta to the size of every folder above the entry.
// Called with the entry's own size on create and its negation on delete so
// folder sizes stay the recursive sum of their children.
func (e *Entry) AddSizeToAncestors(delta int64) {
	for p := e.Parent; p != nil; p = p.Parent {
		p.Size = uint64(int64(p.Size) + delta)
	}
}

// foldCompare compares two names case-insensitively (ASCII fold) and breaks
// ties case-sensitively, so "a.txt" and "A.txt" have a deterministic order.
func foldCompare(a, b string) int {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if c := strings.Compare(la, lb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// compareAncestors compares the ancestor chains of two entries of equal
// depth, top-down, without materializing either path.
func compareAncestors(a, b *Entry) int {
	if a == nil || b == nil || a == b {
		return 0
	}
	if c := compareAncestors(a.Parent, b.Parent); c != 0 {
		return c
	}
	return foldCompare(a.Name, b.Name)
}

func nthParent(e *Entry, n uint32) *Entry {
	for e != nil && n > 0 {
		e = e.Parent
		n--
	}
	return e
}

// comparePath orders entries by their full path, component-wise along the
// parent chains. Shallower entries sort before their descendants.
func comparePath(a, b *Entry) int {
	da, db := a.Depth(), b.Depth()
	switch {
	case da == db:
		if c := compareAncestors(a.Parent, b.Parent); c != 0 {
			return c
		}
		return foldCompare(a.Name, b.Name)
	case da > db:
		if c := compareAncestors(nthParent(a.Parent, da-db), b.Parent); c != 0 {
			return c
		}
		return 1
	default:
		if c := compareAncestors(a.Parent, nthParent(b.Parent, db-da)); c != 0 {
			return c
		}
		return -1
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare orders two entries under a single sort key. SortByNone always
// reports equality; callers fall through to the identity tiebreak.
func Compare(a, b *Entry, key types.SortKey) int {
	switch key {
	case types.SortByName:
		return foldCompare(a.Name, b.Name)
	case types.SortByPath:
		return comparePath(a, b)
	case types.SortBySize:
		return compareUint64(a.Size, b.Size)
	case types.SortByModificationTime:
		return compareInt64(a.MTime, b.MTime)
	case types.SortByExtension:
		return strings.Compare(a.Extension(), b.Extension())
	default:
		return 0
	}
}

// CompareKeyed orders two entries under a (primary, secondary) key pair with
// a final identity tiebreak, yielding a total, deterministic order.
func CompareKeyed(a, b *Entry, primary, secondary types.SortKey) int {
	if c := Compare(a, b, primary); c != 0 {
		return c
	}
	if secondary != types.SortByNone {
		if c := Compare(a, b, secondary); c != 0 {
			return c
		}
	}
	return compareUint64(a.seq, b.seq)
}

// Package types provides the core enumerations and result errors shared by
// the findex engine: sort keys, sort directions, indexed property flags and
// the error taxonomy surfaced to embedders.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// SortKey identifies one of the orderings an entries container can maintain.
type SortKey uint32

// Sort keys. Name is the primary on-disk order; the remaining keys up to
// NumSortKeys can be persisted as fast-sort permutations.
const (
	SortByName SortKey = iota
	SortByPath
	SortBySize
	SortByModificationTime
	SortByExtension
	SortByNone

	// NumSortKeys is the number of persistable sort keys (None excluded).
	NumSortKeys = int(SortByNone)
)

// String returns the lowercase name of the sort key.
func (k SortKey) String() string {
	switch k {
	case SortByName:
		return "name"
	case SortByPath:
		return "path"
	case SortBySize:
		return "size"
	case SortByModificationTime:
		return "mtime"
	case SortByExtension:
		return "extension"
	case SortByNone:
		return "none"
	default:
		return "unknown"
	}
}

// ErrInvalidSortKey is returned when a sort key string is not recognized.
var ErrInvalidSortKey = errors.New("invalid sort key")

// ParseSortKey parses a string into a SortKey.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(s) {
	case "name":
		return SortByName, nil
	case "path":
		return SortByPath, nil
	case "size":
		return SortBySize, nil
	case "mtime", "modification-time":
		return SortByModificationTime, nil
	case "extension", "ext":
		return SortByExtension, nil
	default:
		return SortByName, fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
}

// Direction is the direction a view presents its results in.
type Direction uint8

// Sort directions.
const (
	Ascending Direction = iota
	Descending
)

// String returns the lowercase name of the direction.
func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// PropertyFlags is a bitset of the optional per-entry properties an index
// maintains. Name and parent are always indexed; size and modification time
// are opt-in and control which fields the snapshot codec persists.
type PropertyFlags uint64

// Property flags.
const (
	FlagSize PropertyFlags = 1 << iota
	FlagModificationTime
)

// DefaultPropertyFlags indexes everything the engine knows how to sort by.
const DefaultPropertyFlags = FlagSize | FlagModificationTime

// Has reports whether all bits of other are set.
func (f PropertyFlags) Has(other PropertyFlags) bool {
	return f&other == other
}

// Result errors. Everything else surfaced by the engine wraps an underlying
// I/O or decode error and maps to the generic "failed" outcome.
var (
	// ErrBusy is returned by the non-blocking try-calls when the engine
	// mutex is held by a queued work item.
	ErrBusy = errors.New("database busy")

	// ErrUnknownSearchView is returned when a view id is not registered.
	ErrUnknownSearchView = errors.New("unknown search view")

	// ErrEntryNotFound is returned when a positional index is out of range.
	ErrEntryNotFound = errors.New("entry not found")
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that a size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ParseSize parses a human-readable size string ("100M", "2GiB", "512") and
// returns the size in bytes. Decimal values are truncated to the nearest byte.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units.
func FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

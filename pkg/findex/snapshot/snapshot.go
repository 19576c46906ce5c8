// Package snapshot implements the binary on-disk format the index store is
// persisted in.
//
// The format is a fixed header followed by a folder block, a file block and
// a block of pre-sorted permutations. Entry names are delta-encoded against
// the preceding record of the same block, which compresses well because both
// blocks are written in name order. All integers are little-endian.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/findex/pkg/findex/entry"
	"github.com/jamesainslie/findex/pkg/findex/store"
	"github.com/jamesainslie/findex/pkg/findex/types"
)

// FileName is the snapshot file name inside the database directory.
const FileName = "findex.db"

const (
	// MajorVersion must match exactly between writer and reader.
	MajorVersion uint8 = 1

	// MinorVersion of the writer. Readers accept files with a minor
	// version up to their own.
	MinorVersion uint8 = 1
)

var magic = [4]byte{'F', 'S', 'D', 'B'}

// blockSizesOffset is where the two block-size fields live in the header:
// magic[4] + major + minor + flags u64 + num_folders u32 + num_files u32.
const blockSizesOffset = 4 + 1 + 1 + 8 + 4 + 4

// Codec errors.
var (
	ErrLocked        = errors.New("database file is locked")
	ErrBadMagic      = errors.New("not a database file")
	ErrBadVersion    = errors.New("unsupported database version")
	ErrCorrupt       = errors.New("corrupt database file")
	ErrNameTooLong   = errors.New("entry name too long for encoding")
	ErrStoreNotReady = errors.New("store has no name containers")
)

// Result is a decoded snapshot. Entries are owned by the returned pools;
// SortedFolders and SortedFiles hold the persisted fast-sort permutations,
// keyed by sort key, as entry sequences in that key's order.
type Result struct {
	Flags      types.PropertyFlags
	FolderPool *entry.Pool
	FilePool   *entry.Pool

	SortedFolders map[types.SortKey][]*entry.Entry
	SortedFiles   map[types.SortKey][]*entry.Entry
}

// Save serializes the store into dir atomically: the snapshot is written to
// a temporary file which replaces the previous database only after a fully
// successful write. An exclusive advisory lock is held for the duration.
func Save(s *store.Store, dir string) error {
	folders := s.Folders(types.SortByName)
	files := s.Files(types.SortByName)
	if folders == nil || files == nil {
		return ErrStoreNotReady
	}

	// The folder block persists roots alongside regular folders, in one
	// name-sorted sequence, so parent references stay block-local.
	allFolders := append(s.RootFolders(), folders.Joined()...)
	sort.Slice(allFolders, func(i, j int) bool {
		return entry.CompareKeyed(allFolders[i], allFolders[j], types.SortByName, types.SortByNone) < 0
	})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"

	// The lock lives on the installed database path, so concurrent savers
	// and loaders all contend for the same file.
	lock, created, err := lockDatabase(path)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := writeSnapshot(tmp, s, allFolders, files.Joined()); err != nil {
		if created {
			_ = os.Remove(path)
		}
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to remove previous database: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to install database: %w", err)
	}
	return nil
}

// lockDatabase opens path, creating it if needed, and takes the exclusive
// advisory lock. It reports whether the file had to be created, so a failed
// save can remove the empty placeholder again.
func lockDatabase(path string) (*os.File, bool, error) {
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open database file: %w", err)
	}
	if err := flock(f); err != nil {
		_ = f.Close()
		return nil, false, err
	}
	return f, created, nil
}

// writeSnapshot encodes the snapshot into tmp and syncs it to disk.
func writeSnapshot(tmp string, s *store.Store, folders, files []*entry.Entry) error {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temporary database file: %w", err)
	}
	if err := encode(f, s, folders, files); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync database file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close database file: %w", err)
	}
	return nil
}

// Load decodes the snapshot in dir. The decode is all-or-nothing: any short
// read or invalid reference fails the whole load and returns no state.
func Load(dir string) (*Result, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database file: %w", err)
	}
	defer f.Close()

	if err := flock(f); err != nil {
		return nil, err
	}
	return decode(bufio.NewReader(f))
}

func flock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrLocked, f.Name())
		}
		return fmt.Errorf("failed to lock database file: %w", err)
	}
	return nil
}

// countingWriter tracks the number of bytes written so the block-size header
// fields can be patched after the blocks are done.
type countingWriter struct {
	w *bufio.Writer
	n uint64
}

func (cw *countingWriter) write(p []byte) error {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return err
}

func (cw *countingWriter) u8(v uint8) error   { return cw.write([]byte{v}) }
func (cw *countingWriter) u16(v uint16) error { return cw.write(binary.LittleEndian.AppendUint16(nil, v)) }
func (cw *countingWriter) u32(v uint32) error { return cw.write(binary.LittleEndian.AppendUint32(nil, v)) }
func (cw *countingWriter) u64(v uint64) error { return cw.write(binary.LittleEndian.AppendUint64(nil, v)) }

// nameOffset returns the length of the common prefix of the previous and
// current name, capped at 255.
func nameOffset(prev, cur string) uint8 {
	max := len(prev)
	if len(cur) < max {
		max = len(cur)
	}
	if max > 255 {
		max = 255
	}
	var off int
	for off < max && prev[off] == cur[off] {
		off++
	}
	return uint8(off)
}

func encode(f *os.File, s *store.Store, folders, files []*entry.Entry) error {
	// The wire identity of every entry is its position in the name-sorted
	// block of its kind; parent references point into the folder block.
	for i, e := range folders {
		e.Idx = uint32(i)
	}
	for i, e := range files {
		e.Idx = uint32(i)
	}

	cw := &countingWriter{w: bufio.NewWriter(f)}

	if err := cw.write(magic[:]); err != nil {
		return err
	}
	if err := cw.u8(MajorVersion); err != nil {
		return err
	}
	if err := cw.u8(MinorVersion); err != nil {
		return err
	}
	if err := cw.u64(uint64(s.Flags())); err != nil {
		return err
	}
	if err := cw.u32(uint32(len(folders))); err != nil {
		return err
	}
	if err := cw.u32(uint32(len(files))); err != nil {
		return err
	}
	// Block sizes are patched in after the blocks are written.
	if err := cw.u64(0); err != nil {
		return err
	}
	if err := cw.u64(0); err != nil {
		return err
	}
	if err := cw.u32(0); err != nil { // num_indexes
		return err
	}
	if err := cw.u32(0); err != nil { // num_excludes
		return err
	}

	folderBlockStart := cw.n
	prev := ""
	for _, e := range folders {
		if err := cw.u16(e.DBIndex); err != nil {
			return err
		}
		if err := encodeSuper(cw, s.Flags(), e, &prev); err != nil {
			return err
		}
	}
	folderBlockSize := cw.n - folderBlockStart

	fileBlockStart := cw.n
	prev = ""
	for _, e := range files {
		if err := encodeSuper(cw, s.Flags(), e, &prev); err != nil {
			return err
		}
	}
	fileBlockSize := cw.n - fileBlockStart

	var rootIdxs []uint32
	for _, e := range folders {
		if e.Root() {
			rootIdxs = append(rootIdxs, e.Idx)
		}
	}
	if err := encodeSortedArrays(cw, s, rootIdxs); err != nil {
		return err
	}

	if err := cw.w.Flush(); err != nil {
		return err
	}

	var sizes [16]byte
	binary.LittleEndian.PutUint64(sizes[0:], folderBlockSize)
	binary.LittleEndian.PutUint64(sizes[8:], fileBlockSize)
	if _, err := f.WriteAt(sizes[:], blockSizesOffset); err != nil {
		return fmt.Errorf("failed to patch block sizes: %w", err)
	}
	return nil
}

func encodeSuper(cw *countingWriter, flags types.PropertyFlags, e *entry.Entry, prev *string) error {
	off := nameOffset(*prev, e.Name)
	suffix := e.Name[off:]
	if len(suffix) > 255 {
		return fmt.Errorf("%w: %q", ErrNameTooLong, e.Name)
	}
	if err := cw.u8(off); err != nil {
		return err
	}
	if err := cw.u8(uint8(len(suffix))); err != nil {
		return err
	}
	if err := cw.write([]byte(suffix)); err != nil {
		return err
	}
	*prev = e.Name

	if flags.Has(types.FlagSize) {
		if err := cw.u64(e.Size); err != nil {
			return err
		}
	}
	if flags.Has(types.FlagModificationTime) {
		if err := cw.u64(uint64(e.MTime)); err != nil {
			return err
		}
	}

	parentIdx := e.Idx
	if e.Parent != nil {
		parentIdx = e.Parent.Idx
	}
	return cw.u32(parentIdx)
}

// encodeSortedArrays writes one permutation per maintained non-name sort
// key. Each permutation maps positions in that key's order to positions in
// the name-sorted blocks. Roots are not container members, so each folder
// permutation carries them first, in block order.
func encodeSortedArrays(cw *countingWriter, s *store.Store, rootIdxs []uint32) error {
	var keys []types.SortKey
	for k := 1; k < types.NumSortKeys; k++ {
		key := types.SortKey(k)
		if s.Folders(key) != nil && s.Files(key) != nil {
			keys = append(keys, key)
		}
	}

	if err := cw.u32(uint32(len(keys))); err != nil {
		return err
	}
	for _, key := range keys {
		if err := cw.u32(uint32(key)); err != nil {
			return err
		}
		for _, idx := range rootIdxs {
			if err := cw.u32(idx); err != nil {
				return err
			}
		}
		var werr error
		s.Folders(key).Ascend(func(e *entry.Entry) bool {
			werr = cw.u32(e.Idx)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
		s.Files(key).Ascend(func(e *entry.Entry) bool {
			werr = cw.u32(e.Idx)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
	}
	return nil
}

type reader struct {
	r   *bufio.Reader
	buf [8]byte
}

func (rd *reader) read(n int) ([]byte, error) {
	b := rd.buf[:n]
	if _, err := io.ReadFull(rd.r, b); err != nil {
		return nil, fmt.Errorf("%w: short read: %v", ErrCorrupt, err)
	}
	return b, nil
}

func (rd *reader) u8() (uint8, error) {
	b, err := rd.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (rd *reader) u16() (uint16, error) {
	b, err := rd.read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (rd *reader) u32() (uint32, error) {
	b, err := rd.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (rd *reader) u64() (uint64, error) {
	b, err := rd.read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func decode(br *bufio.Reader) (*Result, error) {
	rd := &reader{r: br}

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if m != magic {
		return nil, ErrBadMagic
	}

	major, err := rd.u8()
	if err != nil {
		return nil, err
	}
	minor, err := rd.u8()
	if err != nil {
		return nil, err
	}
	if major != MajorVersion || minor > MinorVersion {
		return nil, fmt.Errorf("%w: %d.%d", ErrBadVersion, major, minor)
	}

	rawFlags, err := rd.u64()
	if err != nil {
		return nil, err
	}
	flags := types.PropertyFlags(rawFlags)

	numFolders, err := rd.u32()
	if err != nil {
		return nil, err
	}
	numFiles, err := rd.u32()
	if err != nil {
		return nil, err
	}
	// Block sizes and the reserved index/exclude counts are not needed for
	// a sequential decode.
	for i := 0; i < 2; i++ {
		if _, err := rd.u64(); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := rd.u32(); err != nil {
			return nil, err
		}
	}

	// Folders can reference later folders as parents, so all entry objects
	// exist before any record is decoded.
	folders := make([]*entry.Entry, numFolders)
	for i := range folders {
		folders[i] = entry.New(entry.KindFolder, "", nil)
	}

	prev := ""
	for i := uint32(0); i < numFolders; i++ {
		e := folders[i]
		dbIndex, err := rd.u16()
		if err != nil {
			return nil, err
		}
		e.DBIndex = dbIndex

		parentIdx, err := decodeSuper(rd, flags, e, &prev)
		if err != nil {
			return nil, err
		}
		e.Idx = i
		switch {
		case parentIdx == i:
			// Self-reference marks a root; Parent stays nil.
		case parentIdx < numFolders:
			e.Parent = folders[parentIdx]
		default:
			return nil, fmt.Errorf("%w: folder parent %d out of range", ErrCorrupt, parentIdx)
		}
	}

	// Parents may legally point forward in the name-sorted block, so chain
	// termination can only be checked once the whole block is decoded. A
	// cycle would make every parent-chain walk spin.
	if err := verifyFolderChains(folders); err != nil {
		return nil, err
	}

	files := make([]*entry.Entry, numFiles)
	prev = ""
	for i := uint32(0); i < numFiles; i++ {
		e := entry.New(entry.KindFile, "", nil)
		parentIdx, err := decodeSuper(rd, flags, e, &prev)
		if err != nil {
			return nil, err
		}
		if parentIdx >= numFolders {
			return nil, fmt.Errorf("%w: file parent %d out of range", ErrCorrupt, parentIdx)
		}
		e.Parent = folders[parentIdx]
		e.Idx = i
		files[i] = e
	}

	res := &Result{
		Flags:         flags,
		FolderPool:    entry.NewPool(entry.KindFolder),
		FilePool:      entry.NewPool(entry.KindFile),
		SortedFolders: make(map[types.SortKey][]*entry.Entry),
		SortedFiles:   make(map[types.SortKey][]*entry.Entry),
	}
	for _, e := range folders {
		res.FolderPool.Adopt(e)
	}
	for _, e := range files {
		res.FilePool.Adopt(e)
	}

	if err := decodeSortedArrays(rd, res, folders, files); err != nil {
		return nil, err
	}
	return res, nil
}

// verifyFolderChains checks that every folder's parent chain ends at a root.
// Each folder is walked at most once: chains are followed until they hit a
// root or a folder already proven good, and meeting a folder from the chain
// currently being walked means the file encodes a cycle.
func verifyFolderChains(folders []*entry.Entry) error {
	const (
		chainUnknown uint8 = iota
		chainOpen
		chainGood
	)
	state := make([]uint8, len(folders))
	for i := range folders {
		var open []uint32
		j := uint32(i)
		for state[j] != chainGood {
			if state[j] == chainOpen {
				return fmt.Errorf("%w: folder parent cycle at %d", ErrCorrupt, j)
			}
			state[j] = chainOpen
			open = append(open, j)
			p := folders[j].Parent
			if p == nil {
				break
			}
			j = p.Idx
		}
		for _, k := range open {
			state[k] = chainGood
		}
	}
	return nil
}

func decodeSuper(rd *reader, flags types.PropertyFlags, e *entry.Entry, prev *string) (uint32, error) {
	off, err := rd.u8()
	if err != nil {
		return 0, err
	}
	nameLen, err := rd.u8()
	if err != nil {
		return 0, err
	}
	if int(off) > len(*prev) {
		return 0, fmt.Errorf("%w: name offset %d beyond previous name", ErrCorrupt, off)
	}

	name := (*prev)[:off]
	if nameLen > 0 {
		suffix := make([]byte, nameLen)
		if _, err := io.ReadFull(rd.r, suffix); err != nil {
			return 0, fmt.Errorf("%w: short read: %v", ErrCorrupt, err)
		}
		name += string(suffix)
	}
	e.Name = name
	*prev = name

	if flags.Has(types.FlagSize) {
		size, err := rd.u64()
		if err != nil {
			return 0, err
		}
		e.Size = size
	}
	if flags.Has(types.FlagModificationTime) {
		mtime, err := rd.u64()
		if err != nil {
			return 0, err
		}
		e.MTime = int64(mtime)
	}
	return rd.u32()
}

func decodeSortedArrays(rd *reader, res *Result, folders, files []*entry.Entry) error {
	num, err := rd.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		rawKey, err := rd.u32()
		if err != nil {
			return err
		}
		if rawKey == 0 || rawKey >= uint32(types.NumSortKeys) {
			return fmt.Errorf("%w: invalid sort id %d", ErrCorrupt, rawKey)
		}
		key := types.SortKey(rawKey)

		sortedFolders, err := decodePermutation(rd, folders)
		if err != nil {
			return err
		}
		sortedFiles, err := decodePermutation(rd, files)
		if err != nil {
			return err
		}
		res.SortedFolders[key] = sortedFolders
		res.SortedFiles[key] = sortedFiles
	}
	return nil
}

func decodePermutation(rd *reader, entries []*entry.Entry) ([]*entry.Entry, error) {
	out := make([]*entry.Entry, len(entries))
	for i := range out {
		pos, err := rd.u32()
		if err != nil {
			return nil, err
		}
		if int(pos) >= len(entries) {
			return nil, fmt.Errorf("%w: permutation value %d out of range", ErrCorrupt, pos)
		}
		out[i] = entries[pos]
	}
	return out, nil
}

// Package snapshot memory-maps a captured process address space and
// exposes bounds-checked reads over it. A Store never mutates the
// backing files and never panics on bad input; out-of-range reads are
// reported through ordinary error returns so that a scan over corrupt
// or partially-written memory can keep going.
package snapshot

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/nielstron/python-memtools/types"
)

// ErrOutOfRange is returned by Read/ReadToEnd when the requested bytes are
// not wholly contained in a single region.
var ErrOutOfRange = errors.New("snapshot: address range is out of bounds")

var memFilePattern = regexp.MustCompile(`^mem\.([0-9a-fA-F]{16})\.([0-9a-fA-F]{16})\.bin$`)

type mapping struct {
	region types.Region
	data   []byte
}

// Store is a read-only, memory-mapped view of a snapshot's regions. It is
// safe to share across goroutines without synchronization: the mappings
// it holds are immutable for the Store's lifetime.
type Store struct {
	mappings    []mapping
	totalBytes  uint64
	closeFuncs  []func() error
}

// Open loads a snapshot from path. If path is a directory, it is expected
// to hold one file per region named mem.<start:16 hex>.<end:16 hex>.bin.
// Otherwise path is treated as a single file framed as a sequence of
// (start u64le, end u64le, bytes[end-start]) records until EOF.
func Open(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if info.IsDir() {
		return openDirectory(path)
	}
	return openSingleFile(path)
}

func openDirectory(path string) (*Store, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	s := &Store{}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := memFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		start, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			continue
		}

		fullPath := filepath.Join(path, entry.Name())
		data, closeFn, err := mmapFile(fullPath)
		if err != nil {
			return nil, errors.Wrapf(err, "mapping %s", fullPath)
		}
		s.closeFuncs = append(s.closeFuncs, closeFn)
		if len(data) == 0 {
			continue
		}

		s.mappings = append(s.mappings, mapping{
			region: types.Region{Start: types.Addr[byte](start), Size: uint64(len(data))},
			data:   data,
		})
		s.totalBytes += uint64(len(data))
	}

	sort.Slice(s.mappings, func(i, j int) bool { return s.mappings[i].region.Start < s.mappings[j].region.Start })
	ok = true
	return s, nil
}

func openSingleFile(path string) (*Store, error) {
	data, closeFn, err := mmapFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	s := &Store{closeFuncs: []func() error{closeFn}}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	offset := 0
	for offset < len(data) {
		if offset+16 > len(data) {
			return nil, errors.Wrap(ErrOutOfRange, "truncated region header")
		}
		start := binary.LittleEndian.Uint64(data[offset : offset+8])
		end := binary.LittleEndian.Uint64(data[offset+8 : offset+16])
		if end < start {
			return nil, errors.New("snapshot: region end precedes start")
		}
		size := end - start
		offset += 16
		if offset+int(size) > len(data) {
			return nil, errors.Wrap(ErrOutOfRange, "truncated region body")
		}
		body := data[offset : offset+int(size)]
		offset += int(size)

		if size > 0 {
			s.mappings = append(s.mappings, mapping{
				region: types.Region{Start: types.Addr[byte](start), Size: size},
				data:   body,
			})
			s.totalBytes += size
		}
	}

	sort.Slice(s.mappings, func(i, j int) bool { return s.mappings[i].region.Start < s.mappings[j].region.Start })
	ok = true
	return s, nil
}

func mmapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if info.Size() == 0 {
		return nil, func() error { return nil }, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mmap %s", path)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}

// Close unmaps every region backing this store.
func (s *Store) Close() error {
	var firstErr error
	for _, fn := range s.closeFuncs {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closeFuncs = nil
	return firstErr
}

// TotalBytes returns the sum of all region sizes.
func (s *Store) TotalBytes() uint64 {
	return s.totalBytes
}

// RegionCount returns the number of regions in the snapshot.
func (s *Store) RegionCount() int {
	return len(s.mappings)
}

// AllRegions returns every region, ordered by start address.
func (s *Store) AllRegions() []types.Region {
	out := make([]types.Region, len(s.mappings))
	for i, m := range s.mappings {
		out[i] = m.region
	}
	return out
}

func (s *Store) findMapping(addr types.Addr[byte]) (*mapping, bool) {
	i := sort.Search(len(s.mappings), func(i int) bool { return s.mappings[i].region.Start > addr })
	if i == 0 {
		return nil, false
	}
	m := &s.mappings[i-1]
	if addr >= m.region.End() {
		return nil, false
	}
	return m, true
}

// Exists reports whether addr names a byte inside some region.
func (s *Store) Exists(addr types.Addr[byte]) bool {
	_, ok := s.findMapping(addr)
	return ok
}

// ExistsRange reports whether [addr, addr+size) lies entirely inside a
// single region. A zero-size range at a region's exclusive end does not
// exist, matching RegionForAddress's boundary (the one-byte-past-end read
// fails per the snapshot store invariants).
func (s *Store) ExistsRange(addr types.Addr[byte], size uint64) bool {
	m, ok := s.findMapping(addr)
	if !ok {
		return false
	}
	return m.region.Contains(addr, size)
}

// RegionForAddress returns the region enclosing addr.
func (s *Store) RegionForAddress(addr types.Addr[byte]) (types.Region, error) {
	m, ok := s.findMapping(addr)
	if !ok {
		return types.Region{}, errors.Wrapf(ErrOutOfRange, "address %s", addr)
	}
	return m.region, nil
}

// Read returns the size bytes at addr. It fails if the range crosses or
// leaves the enclosing region.
func (s *Store) Read(addr types.Addr[byte], size uint64) ([]byte, error) {
	m, ok := s.findMapping(addr)
	if !ok {
		return nil, errors.Wrapf(ErrOutOfRange, "address %s not mapped", addr)
	}
	offset := m.region.Start.BytesUntil(addr)
	if offset+size > m.region.Size || offset+size < offset {
		return nil, errors.Wrapf(ErrOutOfRange, "read of %d bytes at %s extends beyond region", size, addr)
	}
	return m.data[offset : offset+size], nil
}

// ReadToEnd returns the bytes from addr to the end of its enclosing
// region.
func (s *Store) ReadToEnd(addr types.Addr[byte]) ([]byte, error) {
	m, ok := s.findMapping(addr)
	if !ok {
		return nil, errors.Wrapf(ErrOutOfRange, "address %s not mapped", addr)
	}
	offset := m.region.Start.BytesUntil(addr)
	if offset > m.region.Size {
		return nil, errors.Wrapf(ErrOutOfRange, "address %s begins beyond region end", addr)
	}
	return m.data[offset:], nil
}

// HostToMapped reverses a pointer into this store's mmap'd memory back
// into the mapped address it represents. Decoders need this to name
// trailing variable-length arrays, whose snapshot address is only known
// via the struct they trail.
func HostToMapped(s *Store, host []byte) (types.Addr[byte], error) {
	if len(host) == 0 {
		return 0, errors.New("snapshot: empty host slice has no address")
	}
	for _, m := range s.mappings {
		if sliceWithin(m.data, host) {
			offset := sliceOffset(m.data, host)
			return m.region.Start.OffsetBytes(int64(offset)), nil
		}
	}
	return 0, errors.New("snapshot: host pointer is not within any mapped region")
}

func sliceWithin(outer, inner []byte) bool {
	if len(outer) == 0 || len(inner) == 0 {
		return false
	}
	off := sliceOffset(outer, inner)
	return off >= 0 && off+len(inner) <= len(outer)
}

// sliceOffset returns inner's byte offset within outer, assuming they
// share the same backing array (as mmap'd region slices and their
// sub-slices always do). It returns a negative number when inner starts
// before outer or the two slices are unrelated.
func sliceOffset(outer, inner []byte) int {
	if len(outer) == 0 || len(inner) == 0 {
		return -1
	}
	outerStart := uintptr(unsafe.Pointer(unsafe.SliceData(outer)))
	innerStart := uintptr(unsafe.Pointer(unsafe.SliceData(inner)))
	outerEnd := outerStart + uintptr(len(outer))
	if innerStart < outerStart || innerStart >= outerEnd {
		return -1
	}
	return int(innerStart - outerStart)
}

// Package test provides the snapshot fixture used by the analyzer's
// tests: a bump-allocated heap image laid out at a chosen mapped base
// address, constructors that fabricate runtime objects inside it, and
// writers that emit the image in both on-disk snapshot forms.
package test

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/outofforest/photon"

	"github.com/nielstron/python-memtools/types"
)

// HeapConfig stores configuration of the fixture heap.
type HeapConfig struct {
	// Base is the mapped address the heap's single region starts at.
	Base uint64
	// Size is the region size; it is rounded up to a whole page so scans
	// tile the region exactly.
	Size uint64
}

// NewHeap creates the heap image used in tests.
func NewHeap(config HeapConfig) *Heap {
	config.Size = (config.Size + 0xfff) &^ uint64(0xfff)
	return &Heap{
		config: config,
		data:   make([]byte, config.Size),
	}
}

// Heap is a bump allocator over one contiguous region of fabricated
// target memory. Unused bytes stay zero, which no decoder accepts as a
// valid object, so scans over the slack find nothing.
type Heap struct {
	config HeapConfig
	data   []byte
	used   uint64
}

// Base returns the region's start address.
func (h *Heap) Base() types.Addr[byte] {
	return types.Addr[byte](h.config.Base)
}

// End returns the address one past the region.
func (h *Heap) End() types.Addr[byte] {
	return h.Base().OffsetBytes(int64(len(h.data)))
}

// Alloc reserves size bytes at a 16-aligned address and returns it.
func (h *Heap) Alloc(size uint64) types.Addr[byte] {
	h.used = (h.used + 15) &^ uint64(15)
	if h.used+size > uint64(len(h.data)) {
		panic(fmt.Sprintf("fixture heap exhausted: want %d bytes, %d free", size, uint64(len(h.data))-h.used))
	}
	addr := h.Base().OffsetBytes(int64(h.used))
	h.used += size
	return addr
}

// Window returns the backing bytes for [addr, addr+size).
func (h *Heap) Window(addr types.Addr[byte], size uint64) []byte {
	offset := h.Base().BytesUntil(addr)
	return h.data[offset : offset+size]
}

// PutBytes allocates a copy of b and returns its address.
func (h *Heap) PutBytes(b []byte) types.Addr[byte] {
	addr := h.Alloc(uint64(len(b)))
	copy(h.Window(addr, uint64(len(b))), b)
	return addr
}

// CString allocates a NUL-terminated copy of s.
func (h *Heap) CString(s string) types.Addr[byte] {
	return h.PutBytes(append([]byte(s), 0))
}

// Put allocates sizeof(T) bytes, writes v there, and returns the typed
// address.
func Put[T any](h *Heap, v T) types.Addr[T] {
	raw := photon.NewFromValue(&v).B
	return types.Cast[T](h.PutBytes(raw))
}

// SetAt overwrites the T at addr, used to patch self-referential
// objects after their address is known.
func SetAt[T any](h *Heap, addr types.Addr[T], v T) {
	raw := photon.NewFromValue(&v).B
	copy(h.Window(types.Cast[byte](addr), uint64(len(raw))), raw)
}

// PutSlice allocates a contiguous array of vs and returns the address of
// its first element.
func PutSlice[T any](h *Heap, vs []T) types.Addr[T] {
	var zero T
	elemSize := uint64(len(photon.NewFromValue(&zero).B))
	addr := types.Cast[T](h.Alloc(elemSize * uint64(len(vs))))
	SetSliceAt(h, addr, vs)
	return addr
}

// SetSliceAt writes vs contiguously starting at addr.
func SetSliceAt[T any](h *Heap, addr types.Addr[T], vs []T) {
	offset := h.Base().BytesUntil(types.Cast[byte](addr))
	for i := range vs {
		raw := photon.NewFromValue(&vs[i]).B
		copy(h.data[offset:], raw)
		offset += uint64(len(raw))
	}
}

// WriteDir writes the heap as a directory-form snapshot: one
// mem.<start>.<end>.bin file per region.
func (h *Heap) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("mem.%016x.%016x.bin", h.Base().Uint64(), h.End().Uint64())
	return os.WriteFile(filepath.Join(dir, name), h.data, 0o644)
}

// WriteSingle writes the heap as a single-file snapshot: a stream of
// (start u64le, end u64le, bytes) records.
func (h *Heap) WriteSingle(path string) error {
	framed := binary.LittleEndian.AppendUint64(nil, h.Base().Uint64())
	framed = binary.LittleEndian.AppendUint64(framed, h.End().Uint64())
	framed = append(framed, h.data...)
	return os.WriteFile(path, framed, 0o644)
}

// Package types holds the address and region types shared across the
// analyzer: the mapped-address abstraction and the snapshot's region
// descriptor.
package types

import (
	"fmt"
	"unsafe"
)

// Addr is an address in the *target* process' address space, tagged with
// the Go type it points at. It is never dereferenced directly; code must
// go through a snapshot store to read the bytes it names.
type Addr[T any] uint64

// Null is the zero address, used as the "no pointer" sentinel everywhere
// a runtime object field can be absent.
func Null[T any]() Addr[T] {
	return Addr[T](0)
}

// IsNull reports whether this is the null address.
func (a Addr[T]) IsNull() bool {
	return a == 0
}

// Uint64 returns the raw integer address.
func (a Addr[T]) Uint64() uint64 {
	return uint64(a)
}

// OffsetBytes returns the address delta bytes further into the target
// process' address space. delta may be negative.
func (a Addr[T]) OffsetBytes(delta int64) Addr[T] {
	return Addr[T](int64(a) + delta)
}

// Offset returns the address count elements of T further along, i.e. the
// byte delta is count*sizeof(T).
func (a Addr[T]) Offset(count int64) Addr[T] {
	var zero T
	return a.OffsetBytes(count * int64(unsafe.Sizeof(zero)))
}

// BytesUntil returns the number of bytes from a to end (end is assumed to
// be at or after a; the result is meaningless otherwise).
func (a Addr[T]) BytesUntil(end Addr[T]) uint64 {
	return uint64(end) - uint64(a)
}

// String formats the address as exactly 16 uppercase hex digits, the
// format every object line and diagnostic in this analyzer uses.
func (a Addr[T]) String() string {
	return fmt.Sprintf("%016X", uint64(a))
}

// Cast reinterprets an address as pointing at a different element type,
// the "phantom cast" operation: the integer value is unchanged, only the
// compile-time tag changes.
func Cast[U, T any](a Addr[T]) Addr[U] {
	return Addr[U](a)
}

// Region is a contiguous range of the snapshot's address space, backed by
// a byte-identical slice of a host file.
type Region struct {
	Start Addr[byte]
	Size  uint64
}

// End returns the address one past the last byte of the region.
func (r Region) End() Addr[byte] {
	return r.Start.OffsetBytes(int64(r.Size))
}

// Contains reports whether [addr, addr+size) lies entirely inside the
// region.
func (r Region) Contains(addr Addr[byte], size uint64) bool {
	if addr < r.Start {
		return false
	}
	offset := r.Start.BytesUntil(addr)
	return offset <= r.Size && size <= r.Size-offset
}

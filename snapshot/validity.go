package snapshot

import (
	"unsafe"

	"github.com/outofforest/photon"

	"github.com/nielstron/python-memtools/types"
)

// ObjValid reports whether addr is non-null, aligned to alignment bytes,
// and the first byte of a T-sized object at addr lies inside a region.
func ObjValid[T any](s *Store, addr types.Addr[T], alignment uint64) bool {
	if addr.IsNull() {
		return false
	}
	if addr.Uint64()&(alignment-1) != 0 {
		return false
	}
	return s.Exists(types.Cast[byte](addr))
}

// ObjValidOrNull reports whether addr is null, or is ObjValid.
//
// The original C++ implementation this analyzer is modeled on had an
// operator-precedence bug in this helper (the null-or-aligned check did
// not parenthesize as intended). This is the semantically clean reading:
// null, OR (aligned AND in-range).
func ObjValidOrNull[T any](s *Store, addr types.Addr[T], alignment uint64) bool {
	return addr.IsNull() || ObjValid(s, addr, alignment)
}

// ExistsArray reports whether count contiguous T values starting at addr
// are entirely within a single region.
func ExistsArray[T any](s *Store, addr types.Addr[T], count uint64) bool {
	var zero T
	size := unsafe.Sizeof(zero)
	return s.ExistsRange(types.Cast[byte](addr), count*uint64(size))
}

// Get reads sizeof(T) bytes at addr and reinterprets them as *T, a
// zero-copy view into the mmap'd snapshot bytes. The returned pointer
// is only valid as long as the Store is open.
func Get[T any](s *Store, addr types.Addr[T]) (*T, error) {
	var zero T
	raw, err := s.Read(types.Cast[byte](addr), uint64(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return photon.FromBytes[T](raw), nil
}

// SliceOf reinterprets raw bytes as a []T view without copying. The
// caller must ensure len(raw) is a multiple of sizeof(T).
func SliceOf[T any](raw []byte) []T {
	var zero T
	elemSize := unsafe.Sizeof(zero)
	if len(raw) == 0 || elemSize == 0 {
		return nil
	}
	return photon.SliceFromPointer[T](unsafe.Pointer(unsafe.SliceData(raw)), len(raw)/int(elemSize))
}

// GetArray reads count contiguous T values starting at addr and
// reinterprets them as a []T zero-copy view.
func GetArray[T any](s *Store, addr types.Addr[T], count uint64) ([]T, error) {
	if count == 0 {
		return nil, nil
	}
	var zero T
	elemSize := unsafe.Sizeof(zero)
	raw, err := s.Read(types.Cast[byte](addr), count*uint64(elemSize))
	if err != nil {
		return nil, err
	}
	return photon.SliceFromPointer[T](unsafe.Pointer(unsafe.SliceData(raw)), int(count)), nil
}

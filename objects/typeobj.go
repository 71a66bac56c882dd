package objects

import (
	"fmt"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// maxTypeNameLen bounds the tp_name cstring walk so a pointer into a huge
// region of non-NUL garbage is rejected instead of copied wholesale.
const maxTypeNameLen = 256

// RawType mirrors the head of the runtime's type object: a var-object
// header, the tp_name cstring pointer, and the instance size fields. The
// runtime's type struct continues past this point, but nothing the
// analyzer does needs the slot tables.
type RawType struct {
	RawVarObject
	Name      types.Addr[byte]
	BasicSize int64
	ItemSize  int64
}

// Type decodes a runtime type object.
type Type struct {
	Addr types.Addr[RawType]
}

// Name returns the type's tp_name string, or false if the pointer is bad
// or the bytes do not form a printable NUL-terminated string.
func (ty Type) Name(s *snapshot.Store) (string, bool) {
	raw, err := snapshot.Get(s, ty.Addr)
	if err != nil {
		return "", false
	}
	return readCString(s, raw.Name)
}

func readCString(s *snapshot.Store, addr types.Addr[byte]) (string, bool) {
	if addr.IsNull() {
		return "", false
	}
	data, err := s.ReadToEnd(addr)
	if err != nil {
		return "", false
	}
	limit := len(data)
	if limit > maxTypeNameLen {
		limit = maxTypeNameLen
	}
	for i := 0; i < limit; i++ {
		c := data[i]
		if c == 0 {
			if i == 0 {
				return "", false
			}
			return string(data[:i]), true
		}
		if c < 0x20 || c > 0x7e {
			return "", false
		}
	}
	return "", false
}

// InvalidReason implements Decoder.
func (ty Type) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), ty.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if !snapshot.ObjValid(env.Store(), raw.Name, 1) {
		return "invalid_tp_name"
	}
	if _, ok := readCString(env.Store(), raw.Name); !ok {
		return "invalid_tp_name"
	}
	if raw.BasicSize < 0 || raw.ItemSize < 0 {
		return "invalid_tp_size"
	}
	return ""
}

// DirectReferents implements Decoder.
func (ty Type) DirectReferents(env Env) []ObjAddr {
	raw, err := snapshot.Get(env.Store(), ty.Addr)
	if err != nil {
		return nil
	}
	return nonNull(nil, types.Cast[RawObject](raw.Name))
}

// Repr implements Decoder.
func (ty Type) Repr(t Ctx) string {
	if ir := ty.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<type !%s>", ir)
	}
	name, _ := ty.Name(t.Env().Store())
	return fmt.Sprintf("<type %s>@%s", name, ty.Addr)
}

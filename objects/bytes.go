package objects

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// RawBytes mirrors the runtime's bytes object header: var-object header
// plus the cached hash. The data follows inline, NUL-terminated.
type RawBytes struct {
	RawVarObject
	Hash int64
}

// Bytes decodes a runtime bytes object.
type Bytes struct {
	Addr types.Addr[RawBytes]
}

// InvalidReason implements Decoder.
func (b Bytes) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), b.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.Size < 0 {
		return "invalid_ob_size"
	}
	dataAddr := types.Cast[byte](b.Addr).OffsetBytes(int64(unsafe.Sizeof(RawBytes{})))
	if !env.Store().ExistsRange(dataAddr, uint64(raw.Size)) {
		return "invalid_bytes_data"
	}
	return ""
}

// DataSize returns ob_size, the byte length of the payload.
func (b Bytes) DataSize(env Env) (uint64, bool) {
	raw, err := snapshot.Get(env.Store(), b.Addr)
	if err != nil || raw.Size < 0 {
		return 0, false
	}
	return uint64(raw.Size), true
}

// Data returns up to maxBytes of the payload; maxBytes < 0 means
// unlimited. The second return value is true when truncated.
func (b Bytes) Data(env Env, maxBytes int) ([]byte, bool, bool) {
	raw, err := snapshot.Get(env.Store(), b.Addr)
	if err != nil || raw.Size < 0 {
		return nil, false, false
	}
	size := uint64(raw.Size)
	truncated := false
	if maxBytes >= 0 && size > uint64(maxBytes) {
		size = uint64(maxBytes)
		truncated = true
	}
	dataAddr := types.Cast[byte](b.Addr).OffsetBytes(int64(unsafe.Sizeof(RawBytes{})))
	data, err := env.Store().Read(dataAddr, size)
	if err != nil {
		return nil, false, false
	}
	return data, truncated, true
}

// DirectReferents implements Decoder.
func (b Bytes) DirectReferents(Env) []ObjAddr { return nil }

// Repr implements Decoder.
func (b Bytes) Repr(t Ctx) string {
	if ir := b.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<bytes !%s>", ir)
	}
	data, truncated, ok := b.Data(t.Env(), t.MaxStringBytes())
	if !ok {
		t.MarkInvalid()
		return "<bytes !invalid_bytes_data>"
	}

	asHex := t.BytesAsHex()
	if !asHex {
		for _, c := range data {
			if (c < 0x20 || c > 0x7e) && c != '\n' && c != '\r' && c != '\t' {
				asHex = true
				break
			}
		}
	}

	var ret string
	if asHex {
		var sb strings.Builder
		sb.WriteString("<bytes ")
		for _, c := range data {
			fmt.Fprintf(&sb, "%02X", c)
		}
		if truncated {
			sb.WriteString("...")
		}
		sb.WriteString(">")
		ret = sb.String()
	} else {
		ret = "b" + quotePythonString(string(data))
		if truncated {
			ret += "..."
		}
	}
	if t.ShowAllAddresses() {
		ret += "@" + b.Addr.String()
	}
	return ret
}

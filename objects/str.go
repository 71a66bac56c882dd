package objects

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// Compact-string kinds, matching the width in bytes of each code point.
const (
	strKind1Byte = 1
	strKind2Byte = 2
	strKind4Byte = 4
)

// Offsets of the character data behind a compact string header. ASCII
// strings pack data immediately after the short header; other compact
// strings carry the UTF-8 cache fields first.
const (
	strASCIIDataOffset   = 48
	strCompactDataOffset = 72
)

// RawStr mirrors the fixed header shared by every compact string: length
// in code points, cached hash, and a state word whose bits encode the
// interning status, kind, and the compact/ascii/ready flags.
type RawStr struct {
	RawObject
	Length int64
	Hash   int64
	State  uint32
	WStr   uint64
}

func (r *RawStr) kind() uint32    { return (r.State >> 2) & 7 }
func (r *RawStr) compact() bool   { return (r.State>>5)&1 != 0 }
func (r *RawStr) ascii() bool     { return (r.State>>6)&1 != 0 }
func (r *RawStr) ready() bool     { return (r.State>>7)&1 != 0 }
func (r *RawStr) dataOffset() int64 {
	if r.ascii() {
		return strASCIIDataOffset
	}
	return strCompactDataOffset
}

// Str decodes a runtime compact string object.
type Str struct {
	Addr types.Addr[RawStr]
}

// InvalidReason implements Decoder.
func (s Str) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), s.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.Length < 0 {
		return "invalid_ob_size"
	}
	if !raw.ready() || !raw.compact() {
		return "invalid_str_state"
	}
	kind := raw.kind()
	if kind != strKind1Byte && kind != strKind2Byte && kind != strKind4Byte {
		return "invalid_str_kind"
	}
	if raw.ascii() && kind != strKind1Byte {
		return "invalid_str_state"
	}
	dataAddr := types.Cast[byte](s.Addr).OffsetBytes(raw.dataOffset())
	if !env.Store().ExistsRange(dataAddr, uint64(raw.Length)*uint64(kind)) {
		return "invalid_str_data"
	}
	return ""
}

// DataSize returns the decoded byte length without copying any character
// data, the fast path the string histogram depends on.
func (s Str) DataSize(env Env) (uint64, bool) {
	raw, err := snapshot.Get(env.Store(), s.Addr)
	if err != nil {
		return 0, false
	}
	if s.InvalidReason(env) != "" {
		return 0, false
	}
	return uint64(raw.Length) * uint64(raw.kind()), true
}

// Decode returns the string's text. maxBytes limits how much character
// data is read; maxBytes < 0 means unlimited. The second return value is
// true when the text was truncated.
func (s Str) Decode(env Env, maxBytes int) (string, bool, bool) {
	raw, err := snapshot.Get(env.Store(), s.Addr)
	if err != nil || s.InvalidReason(env) != "" {
		return "", false, false
	}

	kind := raw.kind()
	length := uint64(raw.Length)
	truncated := false
	if maxBytes >= 0 && length*uint64(kind) > uint64(maxBytes) {
		length = uint64(maxBytes) / uint64(kind)
		truncated = true
	}

	dataAddr := types.Cast[byte](s.Addr).OffsetBytes(raw.dataOffset())
	data, err := env.Store().Read(dataAddr, length*uint64(kind))
	if err != nil {
		return "", false, false
	}

	switch kind {
	case strKind1Byte:
		if raw.ascii() {
			return string(data), truncated, true
		}
		var b strings.Builder
		for _, c := range data {
			b.WriteRune(rune(c))
		}
		return b.String(), truncated, true
	case strKind2Byte:
		units := snapshot.SliceOf[uint16](data)
		var b strings.Builder
		for _, u := range units {
			b.WriteRune(rune(u))
		}
		return b.String(), truncated, true
	default:
		units := snapshot.SliceOf[uint32](data)
		var b strings.Builder
		for _, u := range units {
			if utf8.ValidRune(rune(u)) {
				b.WriteRune(rune(u))
			} else {
				b.WriteRune(utf8.RuneError)
			}
		}
		return b.String(), truncated, true
	}
}

// DirectReferents implements Decoder.
func (s Str) DirectReferents(Env) []ObjAddr { return nil }

// Repr implements Decoder.
func (s Str) Repr(t Ctx) string {
	if ir := s.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<str !%s>", ir)
	}
	text, truncated, ok := s.Decode(t.Env(), t.MaxStringBytes())
	if !ok {
		t.MarkInvalid()
		return "<str !invalid_str_data>"
	}
	ret := quotePythonString(text)
	if truncated {
		ret += "..."
	}
	if t.ShowAllAddresses() {
		ret += "@" + s.Addr.String()
	}
	return ret
}

// quotePythonString renders text the way the runtime's own repr would:
// single quotes unless the text contains one and no double quote.
func quotePythonString(text string) string {
	quote := byte('\'')
	if strings.ContainsRune(text, '\'') && !strings.ContainsRune(text, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range text {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

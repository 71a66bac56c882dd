package objects

import (
	"fmt"
	"math/big"
	"unsafe"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// longShift is the number of value bits per digit in the runtime's
// multi-precision integer representation.
const longShift = 30

// maxLongDigits rejects absurd digit counts before attempting to read
// the trailing array; a genuine integer this large would occupy gigabytes.
const maxLongDigits = 1 << 28

// RawLong mirrors the runtime's integer object: the signed ob_size field
// holds the digit count and the sign, and the 30-bit digits trail the
// header as uint32 words, least significant first.
type RawLong struct {
	RawVarObject
}

// Int decodes a runtime integer object.
type Int struct {
	Addr types.Addr[RawLong]
}

// InvalidReason implements Decoder.
func (n Int) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), n.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	digits := raw.Size
	if digits < 0 {
		digits = -digits
	}
	if digits > maxLongDigits {
		return "invalid_ob_size"
	}
	digitsAddr := types.Cast[uint32](n.Addr).OffsetBytes(int64(unsafe.Sizeof(RawLong{})))
	if !snapshot.ExistsArray(env.Store(), digitsAddr, uint64(digits)) {
		return "invalid_digits_range"
	}
	return ""
}

// Value reconstructs the integer: sign(ob_size) * sum(digit[i] << (30*i)).
func (n Int) Value(env Env) (*big.Int, bool) {
	raw, err := snapshot.Get(env.Store(), n.Addr)
	if err != nil || n.InvalidReason(env) != "" {
		return nil, false
	}
	negative := raw.Size < 0
	count := raw.Size
	if negative {
		count = -count
	}

	digitsAddr := types.Cast[uint32](n.Addr).OffsetBytes(int64(unsafe.Sizeof(RawLong{})))
	digits, err := snapshot.GetArray(env.Store(), digitsAddr, uint64(count))
	if err != nil {
		return nil, false
	}

	value := new(big.Int)
	for i := len(digits) - 1; i >= 0; i-- {
		value.Lsh(value, longShift)
		value.Or(value, big.NewInt(int64(digits[i]&(1<<longShift-1))))
	}
	if negative {
		value.Neg(value)
	}
	return value, true
}

// DirectReferents implements Decoder.
func (n Int) DirectReferents(Env) []ObjAddr { return nil }

// Repr implements Decoder.
func (n Int) Repr(t Ctx) string {
	if ir := n.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<int !%s>", ir)
	}
	value, ok := n.Value(t.Env())
	if !ok {
		t.MarkInvalid()
		return "<int !invalid_digits_range>"
	}
	ret := value.String()
	if t.ShowAllAddresses() {
		ret += "@" + n.Addr.String()
	}
	return ret
}

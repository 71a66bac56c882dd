package objects

import (
	"fmt"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// codeUnitSize is the width of one bytecode instruction; f_lasti counts
// instructions, the line table counts bytes.
const codeUnitSize = 2

// RawCode mirrors the runtime's code object. The seven int32 counters
// pack after the header; the pointer fields follow 8-aligned.
type RawCode struct {
	RawObject
	ArgCount        int32
	PosOnlyArgCount int32
	KwOnlyArgCount  int32
	NLocals         int32
	StackSize       int32
	Flags           int32
	FirstLineno     int32
	_               uint32
	Code            types.Addr[RawBytes]
	Consts          types.Addr[RawVarObjectItems]
	Names           types.Addr[RawVarObjectItems]
	Varnames        types.Addr[RawVarObjectItems]
	Freevars        types.Addr[RawVarObjectItems]
	Cellvars        types.Addr[RawVarObjectItems]
	Cell2Arg        uint64
	Filename        types.Addr[RawStr]
	Name            types.Addr[RawStr]
	Linetable       types.Addr[RawBytes]
}

// Code decodes a runtime code object.
type Code struct {
	Addr types.Addr[RawCode]
}

func (c Code) raw(env Env) (*RawCode, bool) {
	raw, err := snapshot.Get(env.Store(), c.Addr)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// FilenameText returns co_filename as text.
func (c Code) FilenameText(env Env) (string, bool) {
	raw, ok := c.raw(env)
	if !ok {
		return "", false
	}
	return DecodeStringTypes(env, types.Cast[RawObject](raw.Filename))
}

// NameText returns co_name as text.
func (c Code) NameText(env Env) (string, bool) {
	raw, ok := c.raw(env)
	if !ok {
		return "", false
	}
	return DecodeStringTypes(env, types.Cast[RawObject](raw.Name))
}

// VarnameCount returns the length of co_varnames, the number of slots in
// a frame's trailing locals array.
func (c Code) VarnameCount(env Env) (int64, bool) {
	raw, ok := c.raw(env)
	if !ok || raw.Varnames.IsNull() {
		return 0, false
	}
	names, err := snapshot.Get(env.Store(), raw.Varnames)
	if err != nil || names.Size < 0 || names.Size > maxTupleItems {
		return 0, false
	}
	return names.Size, true
}

// Varnames returns the co_varnames entries as text, in slot order.
func (c Code) Varnames(env Env) ([]string, bool) {
	raw, ok := c.raw(env)
	if !ok || raw.Varnames.IsNull() {
		return nil, false
	}
	items, ok := Tuple{Addr: raw.Varnames}.Items(env)
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := DecodeStringTypes(env, item)
		if !ok {
			name = "<unknown>"
		}
		names = append(names, name)
	}
	return names, true
}

// LineForOffset maps an instruction index (f_lasti) to a source line by
// walking the line table's (bytecode delta, line delta) byte pairs. A
// line delta of -128 marks a range with no line.
func (c Code) LineForOffset(env Env, lasti int64) (int32, bool) {
	raw, ok := c.raw(env)
	if !ok || raw.Linetable.IsNull() {
		return 0, false
	}
	table, _, ok := Bytes{Addr: raw.Linetable}.Data(env, -1)
	if !ok {
		return 0, false
	}

	target := lasti * codeUnitSize
	line := raw.FirstLineno
	var start int64
	for i := 0; i+1 < len(table); i += 2 {
		end := start + int64(table[i])
		delta := int8(table[i+1])
		hasLine := delta != -128
		if hasLine {
			line += int32(delta)
		}
		if target < end {
			if !hasLine {
				return 0, false
			}
			return line, true
		}
		start = end
	}
	return line, true
}

// InvalidReason implements Decoder.
func (c Code) InvalidReason(env Env) string {
	raw, ok := c.raw(env)
	if !ok {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.ArgCount < 0 || raw.NLocals < 0 || raw.StackSize < 0 {
		return "invalid_co_counts"
	}
	for _, field := range []struct {
		addr   ObjAddr
		reason string
	}{
		{types.Cast[RawObject](raw.Code), "invalid_co_code"},
		{types.Cast[RawObject](raw.Consts), "invalid_co_consts"},
		{types.Cast[RawObject](raw.Names), "invalid_co_names"},
		{types.Cast[RawObject](raw.Varnames), "invalid_co_varnames"},
		{types.Cast[RawObject](raw.Filename), "invalid_co_filename"},
		{types.Cast[RawObject](raw.Name), "invalid_co_name"},
	} {
		if !snapshot.ObjValidOrNull(env.Store(), field.addr, 8) {
			return field.reason
		}
	}
	if strType, ok := env.GetType("str"); ok && !raw.Filename.IsNull() {
		if env.InvalidReason(types.Cast[RawObject](raw.Filename), strType) != "" {
			return "invalid_co_filename"
		}
	}
	if tupleType, ok := env.GetType("tuple"); ok && !raw.Varnames.IsNull() {
		if env.InvalidReason(types.Cast[RawObject](raw.Varnames), tupleType) != "" {
			return "invalid_co_varnames"
		}
	}
	return ""
}

// DirectReferents implements Decoder.
func (c Code) DirectReferents(env Env) []ObjAddr {
	raw, ok := c.raw(env)
	if !ok {
		return nil
	}
	ret := nonNull(nil, types.Cast[RawObject](raw.Code))
	ret = nonNull(ret, types.Cast[RawObject](raw.Consts))
	ret = nonNull(ret, types.Cast[RawObject](raw.Names))
	ret = nonNull(ret, types.Cast[RawObject](raw.Varnames))
	ret = nonNull(ret, types.Cast[RawObject](raw.Freevars))
	ret = nonNull(ret, types.Cast[RawObject](raw.Cellvars))
	ret = nonNull(ret, types.Cast[RawObject](raw.Filename))
	ret = nonNull(ret, types.Cast[RawObject](raw.Name))
	ret = nonNull(ret, types.Cast[RawObject](raw.Linetable))
	return ret
}

// Repr implements Decoder.
func (c Code) Repr(t Ctx) string {
	if ir := c.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<code !%s>", ir)
	}
	raw, _ := c.raw(t.Env())
	name, ok := c.NameText(t.Env())
	if !ok {
		name = "<unknown>"
	}
	file, ok := c.FilenameText(t.Env())
	if !ok {
		file = "<unknown>"
	}
	ret := fmt.Sprintf("<code %s (%s:%d)>", name, file, raw.FirstLineno)
	if t.ShowAllAddresses() {
		ret += "@" + c.Addr.String()
	}
	return ret
}

package objects

import (
	"fmt"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// RawGenerator mirrors the shared layout of generator, coroutine, and
// async-generator objects. The frame pointer is null once the generator
// has finished.
type RawGenerator struct {
	RawObject
	Frame       types.Addr[RawFrame]
	Running     int8
	_           [7]byte
	Code        types.Addr[RawCode]
	WeakrefList ObjAddr
	Name        types.Addr[RawStr]
	Qualname    types.Addr[RawStr]
}

// Generator decodes a generator, coroutine, or async_generator object;
// kind records which of the three the dispatcher saw.
type Generator struct {
	Addr types.Addr[RawGenerator]
	kind string
}

func (g Generator) raw(env Env) (*RawGenerator, bool) {
	raw, err := snapshot.Get(env.Store(), g.Addr)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Frame returns the generator's suspended or executing frame, or false
// once it has finished.
func (g Generator) Frame(env Env) (Frame, bool) {
	raw, ok := g.raw(env)
	if !ok || raw.Frame.IsNull() {
		return Frame{}, false
	}
	return Frame{Addr: raw.Frame}, true
}

// QualnameText returns the generator's qualified name.
func (g Generator) QualnameText(env Env) (string, bool) {
	raw, ok := g.raw(env)
	if !ok || raw.Qualname.IsNull() {
		return "", false
	}
	return DecodeStringTypes(env, types.Cast[RawObject](raw.Qualname))
}

// InvalidReason implements Decoder.
func (g Generator) InvalidReason(env Env) string {
	raw, ok := g.raw(env)
	if !ok {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Frame, 8) {
		return "invalid_gi_frame"
	}
	if frameType, ok := env.GetType("frame"); ok && !raw.Frame.IsNull() {
		if env.InvalidReason(types.Cast[RawObject](raw.Frame), frameType) != "" {
			return "invalid_gi_frame"
		}
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Code, 8) {
		return "invalid_gi_code"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Name, 8) {
		return "invalid_gi_name"
	}
	return ""
}

// DirectReferents implements Decoder.
func (g Generator) DirectReferents(env Env) []ObjAddr {
	raw, ok := g.raw(env)
	if !ok {
		return nil
	}
	ret := nonNull(nil, types.Cast[RawObject](raw.Frame))
	ret = nonNull(ret, types.Cast[RawObject](raw.Code))
	ret = nonNull(ret, types.Cast[RawObject](raw.Name))
	ret = nonNull(ret, types.Cast[RawObject](raw.Qualname))
	return ret
}

// Repr implements Decoder. Finished generators render their name only;
// live ones add the suspended position.
func (g Generator) Repr(t Ctx) string {
	if ir := g.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<%s !%s>", g.kind, ir)
	}
	name, ok := g.QualnameText(t.Env())
	if !ok {
		name = "<unknown>"
	}
	var ret string
	if frame, ok := g.Frame(t.Env()); ok {
		ret = fmt.Sprintf("<%s %s (%s)>", g.kind, name, frame.Where(t.Env()))
	} else {
		ret = fmt.Sprintf("<%s %s finished>", g.kind, name)
	}
	if t.ShowAllAddresses() {
		ret += "@" + g.Addr.String()
	}
	return ret
}

package objects

import (
	"fmt"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// RawModule mirrors the runtime's module object: the generic header
// followed by the md_dict pointer. The trailing state fields are not
// needed for analysis.
type RawModule struct {
	RawObject
	MdDict types.Addr[RawDict]
}

// Module decodes a runtime module object.
type Module struct {
	Addr types.Addr[RawModule]
}

// Dict returns the module's attribute dict.
func (m Module) Dict(env Env) (Dict, bool) {
	raw, err := snapshot.Get(env.Store(), m.Addr)
	if err != nil || raw.MdDict.IsNull() {
		return Dict{}, false
	}
	return Dict{Addr: raw.MdDict}, true
}

// Name returns the module's __name__ attribute.
func (m Module) Name(env Env) (string, bool) {
	dict, ok := m.Dict(env)
	if !ok {
		return "", false
	}
	value, ok := dict.ValueForKey(env, "__name__")
	if !ok {
		return "", false
	}
	return DecodeStringTypes(env, value)
}

// InvalidReason implements Decoder.
func (m Module) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), m.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if !snapshot.ObjValid(env.Store(), raw.MdDict, 8) {
		return "invalid_md_dict"
	}
	if dictType, ok := env.GetType("dict"); ok {
		if env.InvalidReason(types.Cast[RawObject](raw.MdDict), dictType) != "" {
			return "invalid_md_dict"
		}
	}
	return ""
}

// DirectReferents implements Decoder.
func (m Module) DirectReferents(env Env) []ObjAddr {
	raw, err := snapshot.Get(env.Store(), m.Addr)
	if err != nil {
		return nil
	}
	return nonNull(nil, types.Cast[RawObject](raw.MdDict))
}

// Repr implements Decoder.
func (m Module) Repr(t Ctx) string {
	if ir := m.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<module !%s>", ir)
	}
	name, ok := m.Name(t.Env())
	if !ok {
		name = "<unknown>"
	}
	ret := fmt.Sprintf("<module %s>", name)
	if t.ShowAllAddresses() {
		ret += "@" + m.Addr.String()
	}
	return ret
}

package objects

import (
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// DecodeStringTypes decodes addr as str or bytes, whichever its dynamic
// type says it is. Used where the runtime accepts either kind of name,
// such as dict keys and code object fields.
func DecodeStringTypes(env Env, addr ObjAddr) (string, bool) {
	obj, err := snapshot.Get(env.Store(), addr)
	if err != nil {
		return "", false
	}
	if strType, ok := env.GetType("str"); ok && obj.TypeAddr == strType {
		text, _, ok := Str{Addr: types.Cast[RawStr](addr)}.Decode(env, -1)
		return text, ok
	}
	if bytesType, ok := env.GetType("bytes"); ok && obj.TypeAddr == bytesType {
		data, _, ok := Bytes{Addr: types.Cast[RawBytes](addr)}.Data(env, -1)
		return string(data), ok
	}
	return "", false
}

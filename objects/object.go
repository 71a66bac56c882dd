// Package objects implements the typed-object layer (§4.5): decoders for
// every runtime object kind the analyzer understands, each validating its
// own bytes before exposing structure, and a central dispatcher that
// picks the right decoder by following an object's type pointer.
package objects

import (
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// RawObject mirrors the runtime's PyObject header: a reference count
// followed by a pointer to the object's type.
type RawObject struct {
	RefCount int64
	TypeAddr types.Addr[RawType]
}

// RawVarObject mirrors PyVarObject: a RawObject header plus a signed
// element count, used by every variable-length container (tuple, list,
// bytes, ints, compact strings).
type RawVarObject struct {
	RawObject
	Size int64
}

// ObjAddr addresses any runtime object through its generic PyObject
// header; type-specific decoders cast it to their own header type once
// they've confirmed the dynamic type matches.
type ObjAddr = types.Addr[RawObject]

// Env is the subset of catalog.Environment the object-model layer
// depends on. It exists so this package never imports the catalog
// package, which itself must import objects to describe the types it
// catalogs — see DESIGN.md for the dependency-cycle rationale.
type Env interface {
	// Store returns the snapshot store backing every read.
	Store() *snapshot.Store
	// GetType returns the address of the named runtime type, if the
	// catalog has bootstrapped it.
	GetType(name string) (types.Addr[RawType], bool)
	// TypeName returns the catalog name for a type address, if known.
	TypeName(addr types.Addr[RawType]) (string, bool)
	// InvalidReason checks that addr is a valid object whose ob_type is
	// exactly expected, then recurses into that type's own validity
	// check. Returns "" (ok) or a stable reason keyword.
	InvalidReason(addr ObjAddr, expected types.Addr[RawType]) string
}

// Ctx is the repr-traversal context every decoder's Repr method
// receives. Concrete behavior (cycle guard, depth/entry caps, formatting
// flags) lives in the traversal package; Decoder implementations only
// see this interface, breaking the otherwise-circular import between
// "traversal needs to dispatch into objects" and "objects needs to
// recurse back into traversal".
type Ctx interface {
	Env() Env
	// Repr renders the object at addr, honoring all traversal options,
	// including the validity short-circuit and cycle/depth guards.
	Repr(addr ObjAddr) string
	// RecursionAllowed reports whether the current depth is within the
	// traversal's configured maximum.
	RecursionAllowed() bool
	// Depth returns the number of Enter calls currently active (0 at the
	// top-level call, 1 inside the outermost container's entries).
	Depth() int
	// Enter increments the recursion depth for the duration of a nested
	// composite repr and returns a function that restores it.
	Enter() func()
	// CycleGuard acquires a scoped claim on addr for the duration of a
	// container repr; release() must be called on every exit path.
	// isRecursive is true if addr was already open.
	CycleGuard(addr uint64) (release func(), isRecursive bool)
	MaxEntries() int
	MaxStringBytes() int
	BytesAsHex() bool
	IsShort() bool
	FrameOmitBack() bool
	ShowAllAddresses() bool
	// MarkInvalid records that some part of the overall repr hit an
	// unreadable/invalid object, used by callers (query operations) that
	// must skip emitting a line built from a partially-failed repr.
	MarkInvalid()
}

// Decoder is the contract every runtime type implements (§4.5).
type Decoder interface {
	// InvalidReason returns "" if the decoded object is structurally
	// plausible, or a short stable reason keyword otherwise. It must
	// never panic on arbitrary bytes.
	InvalidReason(env Env) string
	// DirectReferents returns every mapped address this object directly
	// points at (null-stripped).
	DirectReferents(env Env) []ObjAddr
	// Repr renders the object, honoring the traversal context's options.
	Repr(t Ctx) string
}

// knownTypeNames lists every runtime type this analyzer has a dedicated
// decoder for, in dispatch-check order. Names not in this list (or not
// yet present in the catalog) fall back to the opaque decoder.
var knownTypeNames = []string{
	"type",
	"dict",
	"set",
	"frozenset",
	"tuple",
	"list",
	"str",
	"bytes",
	"int",
	"code",
	"frame",
	"module",
	"_asyncio.Task",
	"_asyncio.Future",
	"_GatheringFuture",
	"generator",
	"coroutine",
	"async_generator",
}

// Decode inspects addr's ob_type pointer and returns the decoder for its
// dynamic type, or an Opaque decoder if the type is unrecognized or the
// object itself can't even be read. Decode never fails: every byte
// sequence in the snapshot decodes to *some* Decoder, and validity is
// reported later through InvalidReason.
func Decode(env Env, addr ObjAddr) Decoder {
	obj, err := snapshot.Get(env.Store(), addr)
	if err != nil {
		return Opaque{Addr: addr}
	}

	for _, name := range knownTypeNames {
		typeAddr, ok := env.GetType(name)
		if !ok || obj.TypeAddr != typeAddr {
			continue
		}
		if d, ok := decodeByName(name, addr); ok {
			return d
		}
	}
	return Opaque{Addr: addr}
}

func decodeByName(name string, addr ObjAddr) (Decoder, bool) {
	switch name {
	case "type":
		return Type{Addr: types.Cast[RawType](addr)}, true
	case "dict":
		return Dict{Addr: types.Cast[RawDict](addr)}, true
	case "set", "frozenset":
		return Set{Addr: types.Cast[RawSet](addr)}, true
	case "tuple":
		return Tuple{Addr: types.Cast[RawVarObjectItems](addr)}, true
	case "list":
		return List{Addr: types.Cast[RawList](addr)}, true
	case "str":
		return Str{Addr: types.Cast[RawStr](addr)}, true
	case "bytes":
		return Bytes{Addr: types.Cast[RawBytes](addr)}, true
	case "int":
		return Int{Addr: types.Cast[RawLong](addr)}, true
	case "code":
		return Code{Addr: types.Cast[RawCode](addr)}, true
	case "frame":
		return Frame{Addr: types.Cast[RawFrame](addr)}, true
	case "module":
		return Module{Addr: types.Cast[RawModule](addr)}, true
	case "_asyncio.Task":
		return Task{Addr: types.Cast[RawTask](addr)}, true
	case "_asyncio.Future":
		return Future{Addr: types.Cast[RawFuture](addr)}, true
	case "_GatheringFuture":
		return GatheringFuture{Addr: types.Cast[RawGatheringFuture](addr)}, true
	case "generator", "coroutine", "async_generator":
		return Generator{Addr: types.Cast[RawGenerator](addr), kind: name}, true
	default:
		return nil, false
	}
}

// Opaque is the fallback decoder for objects whose type the catalog
// doesn't recognize: it renders only a bare address, per §9 Design
// Notes ("Unknown type pointers map to a generic 'opaque object'
// decoder").
type Opaque struct {
	Addr ObjAddr
}

// InvalidReason implements Decoder.
func (o Opaque) InvalidReason(Env) string { return "" }

// DirectReferents implements Decoder.
func (o Opaque) DirectReferents(Env) []ObjAddr { return nil }

// Repr implements Decoder.
func (o Opaque) Repr(Ctx) string {
	return "<? @" + o.Addr.String() + ">"
}

// nonNull filters a null address out of a referent set.
func nonNull(addrs []ObjAddr, a ObjAddr) []ObjAddr {
	if a.IsNull() {
		return addrs
	}
	return append(addrs, a)
}

// BaseInvalidReason checks only the generic object header at addr: the
// address itself, the refcount, and that ob_type points at a plausible
// type object (one typed by the base type, once the catalog knows it).
// Container validity checks apply this to their elements instead of the
// full per-type check so that validating one object stays shallow.
func BaseInvalidReason(env Env, addr ObjAddr) string {
	if !snapshot.ObjValid(env.Store(), addr, 8) {
		return "invalid_address"
	}
	obj, err := snapshot.Get(env.Store(), addr)
	if err != nil {
		return "invalid_address"
	}
	if obj.RefCount <= 0 {
		return "invalid_refcount"
	}
	if !snapshot.ObjValid(env.Store(), obj.TypeAddr, 8) {
		return "invalid_ob_type"
	}
	if base, ok := env.GetType("type"); ok {
		tyHdr, err := snapshot.Get(env.Store(), types.Cast[RawObject](obj.TypeAddr))
		if err != nil || tyHdr.TypeAddr != base {
			return "invalid_ob_type"
		}
	}
	return ""
}

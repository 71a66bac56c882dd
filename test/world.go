package test

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/nielstron/python-memtools/catalog"
	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// StandardTypes lists every runtime type the world can fabricate
// instances of. Tests that only need a few types pass those instead to
// keep type-census expectations small.
var StandardTypes = []string{
	"dict", "set", "frozenset", "tuple", "list", "str", "bytes", "int",
	"code", "frame", "module", "generator", "coroutine", "async_generator",
	"_asyncio.Task", "_asyncio.Future", "_GatheringFuture",
}

// World is a heap plus the fabricated type objects living in it. The
// base metatype is always created self-typed with tp_name "type", so
// discovery scans over the heap find it the same way they would in a
// real snapshot.
type World struct {
	Heap  *Heap
	Types map[string]types.Addr[objects.RawType]
}

// NewWorld creates a heap with the base metatype and one type object
// per given name.
func NewWorld(config HeapConfig, typeNames ...string) *World {
	w := &World{
		Heap:  NewHeap(config),
		Types: map[string]types.Addr[objects.RawType]{},
	}

	nameAddr := w.Heap.CString("type")
	base := types.Cast[objects.RawType](w.Heap.Alloc(uint64(unsafe.Sizeof(objects.RawType{}))))
	SetAt(w.Heap, base, objects.RawType{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: base},
		},
		Name:      nameAddr,
		BasicSize: int64(unsafe.Sizeof(objects.RawObject{})),
	})
	w.Types["type"] = base

	for _, name := range typeNames {
		w.NewType(name)
	}
	return w
}

// NewType fabricates a type object typed by the base metatype.
func (w *World) NewType(name string) types.Addr[objects.RawType] {
	addr := Put(w.Heap, objects.RawType{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.Types["type"]},
		},
		Name:      w.Heap.CString(name),
		BasicSize: int64(unsafe.Sizeof(objects.RawObject{})),
	})
	w.Types[name] = addr
	return addr
}

func (w *World) typeAddr(name string) types.Addr[objects.RawType] {
	addr, ok := w.Types[name]
	if !ok {
		panic(fmt.Sprintf("fixture world has no %q type", name))
	}
	return addr
}

// Env writes the heap as a directory-form snapshot under a test temp
// dir, opens a store over it, and returns a catalog environment with
// every fabricated type pre-registered.
func (w *World) Env(t testing.TB) *catalog.Environment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot")
	if err := w.Heap.WriteDir(path); err != nil {
		t.Fatalf("writing fixture snapshot: %v", err)
	}
	store, err := snapshot.Open(path)
	if err != nil {
		t.Fatalf("opening fixture snapshot: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := catalog.NewEnvironment(store, path)
	env.SetBaseType(w.Types["type"])
	for name, addr := range w.Types {
		if name != "type" {
			env.AddType(name, addr)
		}
	}
	return env
}

// Str fabricates a compact string. The narrowest representation that
// fits the text is chosen, like the runtime's allocator would.
func (w *World) Str(text string) objects.ObjAddr {
	runes := []rune(text)
	var maxRune rune
	for _, r := range runes {
		if r > maxRune {
			maxRune = r
		}
	}
	kind, ascii := uint32(1), true
	switch {
	case maxRune >= 0x10000:
		kind, ascii = 4, false
	case maxRune >= 0x100:
		kind, ascii = 2, false
	case maxRune >= 0x80:
		ascii = false
	}

	headerSize := uint64(unsafe.Sizeof(objects.RawStr{}))
	dataOffset := headerSize
	if !ascii {
		dataOffset = headerSize + 24
	}
	dataLen := uint64(len(runes)) * uint64(kind)
	addr := w.Heap.Alloc(dataOffset + dataLen + uint64(kind))

	state := kind<<2 | 1<<5 | 1<<7
	if ascii {
		state |= 1 << 6
	}
	SetAt(w.Heap, types.Cast[objects.RawStr](addr), objects.RawStr{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("str")},
		Length:    int64(len(runes)),
		Hash:      -1,
		State:     state,
	})

	window := w.Heap.Window(addr.OffsetBytes(int64(dataOffset)), dataLen)
	for i, r := range runes {
		switch kind {
		case 1:
			window[i] = byte(r)
		case 2:
			binary.LittleEndian.PutUint16(window[i*2:], uint16(r))
		default:
			binary.LittleEndian.PutUint32(window[i*4:], uint32(r))
		}
	}
	return types.Cast[objects.RawObject](addr)
}

// Bytes fabricates a bytes object with a trailing NUL, like the runtime
// stores them.
func (w *World) Bytes(data []byte) objects.ObjAddr {
	headerSize := uint64(unsafe.Sizeof(objects.RawBytes{}))
	addr := w.Heap.Alloc(headerSize + uint64(len(data)) + 1)
	SetAt(w.Heap, types.Cast[objects.RawBytes](addr), objects.RawBytes{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("bytes")},
			Size:      int64(len(data)),
		},
		Hash: -1,
	})
	copy(w.Heap.Window(addr.OffsetBytes(int64(headerSize)), uint64(len(data))), data)
	return types.Cast[objects.RawObject](addr)
}

// Int fabricates a multi-precision integer from v, 30 value bits per
// digit.
func (w *World) Int(v int64) objects.ObjAddr {
	negative := v < 0
	magnitude := uint64(v)
	if negative {
		magnitude = uint64(-v)
	}
	var digits []uint32
	for magnitude > 0 {
		digits = append(digits, uint32(magnitude&(1<<30-1)))
		magnitude >>= 30
	}
	size := int64(len(digits))
	if negative {
		size = -size
	}

	headerSize := uint64(unsafe.Sizeof(objects.RawLong{}))
	addr := w.Heap.Alloc(headerSize + 4*uint64(len(digits)))
	SetAt(w.Heap, types.Cast[objects.RawLong](addr), objects.RawLong{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("int")},
			Size:      size,
		},
	})
	SetSliceAt(w.Heap, types.Cast[uint32](addr.OffsetBytes(int64(headerSize))), digits)
	return types.Cast[objects.RawObject](addr)
}

// Tuple fabricates a tuple with the items trailing the header.
func (w *World) Tuple(items ...objects.ObjAddr) objects.ObjAddr {
	headerSize := uint64(unsafe.Sizeof(objects.RawVarObjectItems{}))
	addr := w.Heap.Alloc(headerSize + 8*uint64(len(items)))
	SetAt(w.Heap, types.Cast[objects.RawVarObjectItems](addr), objects.RawVarObjectItems{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("tuple")},
			Size:      int64(len(items)),
		},
	})
	SetSliceAt(w.Heap, types.Cast[objects.ObjAddr](addr.OffsetBytes(int64(headerSize))), items)
	return types.Cast[objects.RawObject](addr)
}

// List fabricates a list with an out-of-line item array. The array is
// allocated even for an empty list so ob_item never dangles.
func (w *World) List(items ...objects.ObjAddr) objects.ObjAddr {
	capacity := len(items)
	if capacity == 0 {
		capacity = 1
	}
	buf := make([]objects.ObjAddr, capacity)
	copy(buf, items)
	itemsAddr := PutSlice(w.Heap, buf)
	addr := Put(w.Heap, objects.RawList{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("list")},
			Size:      int64(len(items)),
		},
		Items:     itemsAddr,
		Allocated: int64(capacity),
	})
	return types.Cast[objects.RawObject](addr)
}

// SetOf fabricates a set whose open-addressing table holds the items in
// its first slots.
func (w *World) SetOf(items ...objects.ObjAddr) objects.ObjAddr {
	return w.setLike("set", items)
}

// FrozenSetOf fabricates a frozenset.
func (w *World) FrozenSetOf(items ...objects.ObjAddr) objects.ObjAddr {
	return w.setLike("frozenset", items)
}

func (w *World) setLike(typeName string, items []objects.ObjAddr) objects.ObjAddr {
	tableLen := 8
	for tableLen <= len(items) {
		tableLen *= 2
	}
	entries := make([]objects.SetEntry, tableLen)
	for i, item := range items {
		entries[i] = objects.SetEntry{Key: item, Hash: int64(i)}
	}
	tableAddr := PutSlice(w.Heap, entries)
	addr := Put(w.Heap, objects.RawSet{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr(typeName)},
		Fill:      int64(len(items)),
		Used:      int64(len(items)),
		Mask:      int64(tableLen - 1),
		Table:     tableAddr,
	})
	return types.Cast[objects.RawObject](addr)
}

// KV is one dict entry.
type KV struct {
	Key   objects.ObjAddr
	Value objects.ObjAddr
}

// Dict fabricates a combined-table dict with the default table size.
func (w *World) Dict(items ...KV) types.Addr[objects.RawDict] {
	size := int64(8)
	for size < int64(len(items)) {
		size *= 2
	}
	return w.DictWithTableSize(size, items...)
}

// DictWithTableSize fabricates a combined-table dict with dk_size
// slots, which determines the lookup table's slot width.
func (w *World) DictWithTableSize(size int64, items ...KV) types.Addr[objects.RawDict] {
	keysAddr := w.dictKeys(size, items, false)
	return Put(w.Heap, objects.RawDict{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("dict")},
		Used:      int64(len(items)),
		Keys:      keysAddr,
	})
}

// SplitDict fabricates a split-table dict: the packed entries carry
// only keys, the values live in a parallel vector.
func (w *World) SplitDict(items ...KV) types.Addr[objects.RawDict] {
	size := int64(8)
	for size < int64(len(items)) {
		size *= 2
	}
	keysAddr := w.dictKeys(size, items, true)
	values := make([]objects.ObjAddr, len(items))
	for i, item := range items {
		values[i] = item.Value
	}
	valuesAddr := PutSlice(w.Heap, values)
	return Put(w.Heap, objects.RawDict{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("dict")},
		Used:      int64(len(items)),
		Keys:      keysAddr,
		Values:    valuesAddr,
	})
}

// dictKeys lays out a keys object: header, lookup table, packed
// entries, all contiguous. Entry i lives in table slot i.
func (w *World) dictKeys(size int64, items []KV, split bool) types.Addr[objects.RawDictKeys] {
	if int64(len(items)) > size {
		panic("fixture dict table too small for its entries")
	}
	width := uint64(1)
	switch {
	case size > 0x7fffffff:
		width = 8
	case size > 0x7fff:
		width = 4
	case size > 0x7f:
		width = 2
	}

	headerSize := uint64(unsafe.Sizeof(objects.RawDictKeys{}))
	entrySize := uint64(unsafe.Sizeof(objects.DictKeyEntry{}))
	tableSize := width * uint64(size)
	addr := w.Heap.Alloc(headerSize + tableSize + entrySize*uint64(len(items)))
	keysAddr := types.Cast[objects.RawDictKeys](addr)

	SetAt(w.Heap, keysAddr, objects.RawDictKeys{
		RefCount: 1,
		Size:     size,
		NEntries: int64(len(items)),
	})

	table := w.Heap.Window(addr.OffsetBytes(int64(headerSize)), tableSize)
	for slot := int64(0); slot < size; slot++ {
		value := int64(-1)
		if slot < int64(len(items)) {
			value = slot
		}
		switch width {
		case 1:
			table[slot] = byte(int8(value))
		case 2:
			binary.LittleEndian.PutUint16(table[slot*2:], uint16(int16(value)))
		case 4:
			binary.LittleEndian.PutUint32(table[slot*4:], uint32(int32(value)))
		default:
			binary.LittleEndian.PutUint64(table[slot*8:], uint64(value))
		}
	}

	entries := make([]objects.DictKeyEntry, len(items))
	for i, item := range items {
		entries[i] = objects.DictKeyEntry{Hash: int64(i), Key: item.Key}
		if !split {
			entries[i].Value = item.Value
		}
	}
	SetSliceAt(w.Heap, types.Cast[objects.DictKeyEntry](addr.OffsetBytes(int64(headerSize+tableSize))), entries)
	return keysAddr
}

// CodeSpec describes a fabricated code object.
type CodeSpec struct {
	Name        string
	Filename    string
	FirstLineno int32
	Varnames    []string
	// Linetable holds (bytecode delta, line delta) byte pairs.
	Linetable []byte
}

// Code fabricates a code object along with its name, filename, and
// varnames constituents.
func (w *World) Code(spec CodeSpec) types.Addr[objects.RawCode] {
	varnames := make([]objects.ObjAddr, len(spec.Varnames))
	for i, name := range spec.Varnames {
		varnames[i] = w.Str(name)
	}
	raw := objects.RawCode{
		RawObject:   objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("code")},
		NLocals:     int32(len(spec.Varnames)),
		FirstLineno: spec.FirstLineno,
		Varnames:    types.Cast[objects.RawVarObjectItems](w.Tuple(varnames...)),
		Filename:    types.Cast[objects.RawStr](w.Str(spec.Filename)),
		Name:        types.Cast[objects.RawStr](w.Str(spec.Name)),
	}
	if len(spec.Linetable) > 0 {
		raw.Linetable = types.Cast[objects.RawBytes](w.Bytes(spec.Linetable))
	}
	return Put(w.Heap, raw)
}

// FrameSpec describes a fabricated frame object.
type FrameSpec struct {
	Code    types.Addr[objects.RawCode]
	Back    types.Addr[objects.RawFrame]
	Globals types.Addr[objects.RawDict]
	State   int8
	Lasti   int32
	Lineno  int32
	// Locals fills f_localsplus; its length must cover the code
	// object's varnames.
	Locals []objects.ObjAddr
}

// Frame fabricates a frame with the locals trailing the header.
func (w *World) Frame(spec FrameSpec) types.Addr[objects.RawFrame] {
	headerSize := uint64(unsafe.Sizeof(objects.RawFrame{}))
	addr := w.Heap.Alloc(headerSize + 8*uint64(len(spec.Locals)))
	frameAddr := types.Cast[objects.RawFrame](addr)
	SetAt(w.Heap, frameAddr, objects.RawFrame{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("frame")},
			Size:      int64(len(spec.Locals)),
		},
		FBack:    spec.Back,
		FCode:    spec.Code,
		FGlobals: spec.Globals,
		FLasti:   spec.Lasti,
		FLineno:  spec.Lineno,
		FState:   spec.State,
	})
	SetSliceAt(w.Heap, types.Cast[objects.ObjAddr](addr.OffsetBytes(int64(headerSize))), spec.Locals)
	return frameAddr
}

// Module fabricates a module whose dict has __name__ plus any extra
// entries.
func (w *World) Module(name string, extra ...KV) objects.ObjAddr {
	items := append([]KV{{Key: w.Str("__name__"), Value: w.Str(name)}}, extra...)
	dict := w.Dict(items...)
	addr := Put(w.Heap, objects.RawModule{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("module")},
		MdDict:    dict,
	})
	return types.Cast[objects.RawObject](addr)
}

// SplitModule fabricates a module backed by a split-table dict, the
// layout instance attribute dicts share.
func (w *World) SplitModule(name string, extra ...KV) objects.ObjAddr {
	items := append([]KV{{Key: w.Str("__name__"), Value: w.Str(name)}}, extra...)
	dict := w.SplitDict(items...)
	addr := Put(w.Heap, objects.RawModule{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("module")},
		MdDict:    dict,
	})
	return types.Cast[objects.RawObject](addr)
}

// ThreadState fabricates a thread-state record pointing at frame.
func (w *World) ThreadState(frame types.Addr[objects.RawFrame], threadID uint64) types.Addr[objects.RawThreadState] {
	return Put(w.Heap, objects.RawThreadState{
		Frame:    frame,
		ThreadID: threadID,
	})
}

// GeneratorSpec describes a fabricated generator-like object.
type GeneratorSpec struct {
	// Kind is "generator", "coroutine", or "async_generator".
	Kind     string
	Frame    types.Addr[objects.RawFrame]
	Code     types.Addr[objects.RawCode]
	Qualname string
}

// Generator fabricates a generator, coroutine, or async generator.
func (w *World) Generator(spec GeneratorSpec) objects.ObjAddr {
	addr := Put(w.Heap, objects.RawGenerator{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr(spec.Kind)},
		Frame:     spec.Frame,
		Code:      spec.Code,
		Name:      types.Cast[objects.RawStr](w.Str(spec.Qualname)),
		Qualname:  types.Cast[objects.RawStr](w.Str(spec.Qualname)),
	})
	return types.Cast[objects.RawObject](addr)
}

// Future fabricates an event-loop future in the given state.
func (w *World) Future(state int32) objects.ObjAddr {
	addr := Put(w.Heap, objects.RawFuture{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("_asyncio.Future")},
		State:     state,
	})
	return types.Cast[objects.RawObject](addr)
}

// TaskSpec describes a fabricated task.
type TaskSpec struct {
	Coro      objects.ObjAddr
	FutWaiter objects.ObjAddr
	State     int32
}

// Task fabricates an event-loop task.
func (w *World) Task(spec TaskSpec) objects.ObjAddr {
	addr := Put(w.Heap, objects.RawTask{
		RawFuture: objects.RawFuture{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("_asyncio.Task")},
			State:     spec.State,
		},
		FutWaiter: spec.FutWaiter,
		Coro:      spec.Coro,
	})
	return types.Cast[objects.RawObject](addr)
}

// Gather fabricates a gathering future over children.
func (w *World) Gather(children ...objects.ObjAddr) objects.ObjAddr {
	list := w.List(children...)
	addr := Put(w.Heap, objects.RawGatheringFuture{
		RawFuture: objects.RawFuture{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.typeAddr("_GatheringFuture")},
			State:     objects.FuturePending,
		},
		Children: types.Cast[objects.RawList](list),
	})
	return types.Cast[objects.RawObject](addr)
}

package objects

import (
	"fmt"
	"unsafe"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// maxTupleItems caps the item counts the analyzer will follow. Counts
// past this point only appear when garbage bytes land in ob_size.
const maxTupleItems = 1 << 32

// RawVarObjectItems is a var-object header whose item pointers trail the
// header inline, the layout shared by tuples.
type RawVarObjectItems struct {
	RawVarObject
}

// itemsAddr returns the snapshot address of the trailing item array.
func (r RawVarObjectItems) itemsAddr(addr types.Addr[RawVarObjectItems]) types.Addr[ObjAddr] {
	return types.Cast[ObjAddr](addr).OffsetBytes(int64(unsafe.Sizeof(RawVarObjectItems{})))
}

// Tuple decodes a runtime tuple object.
type Tuple struct {
	Addr types.Addr[RawVarObjectItems]
}

// Items returns the element addresses in declaration order.
func (tp Tuple) Items(env Env) ([]ObjAddr, bool) {
	raw, err := snapshot.Get(env.Store(), tp.Addr)
	if err != nil || raw.Size < 0 || raw.Size > maxTupleItems {
		return nil, false
	}
	items, err := snapshot.GetArray(env.Store(), raw.itemsAddr(tp.Addr), uint64(raw.Size))
	if err != nil {
		return nil, false
	}
	return items, true
}

// InvalidReason implements Decoder.
func (tp Tuple) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), tp.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.Size < 0 || raw.Size > maxTupleItems {
		return "invalid_ob_size"
	}
	if !snapshot.ExistsArray(env.Store(), raw.itemsAddr(tp.Addr), uint64(raw.Size)) {
		return "invalid_items_range"
	}
	items, _ := tp.Items(env)
	for _, item := range items {
		if ir := BaseInvalidReason(env, item); ir != "" {
			return "invalid_item"
		}
	}
	return ""
}

// DirectReferents implements Decoder.
func (tp Tuple) DirectReferents(env Env) []ObjAddr {
	items, ok := tp.Items(env)
	if !ok {
		return nil
	}
	var ret []ObjAddr
	for _, item := range items {
		ret = nonNull(ret, item)
	}
	return ret
}

// Repr implements Decoder. Tuple order is preserved; entries are never
// sorted.
func (tp Tuple) Repr(t Ctx) string {
	if ir := tp.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<tuple !%s>", ir)
	}

	release, recursive := t.CycleGuard(tp.Addr.Uint64())
	defer release()
	if recursive {
		return "<tuple !recursive_repr>"
	}

	items, _ := tp.Items(t.Env())
	if !t.RecursionAllowed() {
		return fmt.Sprintf("<tuple !recursion_depth len=%d>", len(items))
	}

	exit := t.Enter()
	defer exit()

	entries := make([]string, 0, len(items))
	hasExtra := false
	for _, item := range items {
		if t.MaxEntries() >= 0 && len(entries) >= t.MaxEntries() {
			hasExtra = true
			break
		}
		entries = append(entries, t.Repr(item))
	}

	layout := containerLayout{open: "(", close: ")", empty: "()"}
	if len(entries) == 1 && !hasExtra {
		layout.close = ",)"
	}
	return layout.render(t, entries, hasExtra)
}

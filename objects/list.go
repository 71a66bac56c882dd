package objects

import (
	"fmt"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// RawList mirrors the runtime's list object: var-object header, a pointer
// to the out-of-line item array, and the allocation capacity.
type RawList struct {
	RawVarObject
	Items     types.Addr[ObjAddr]
	Allocated int64
}

// List decodes a runtime list object.
type List struct {
	Addr types.Addr[RawList]
}

// Items returns the element addresses in list order.
func (l List) Items(env Env) ([]ObjAddr, bool) {
	raw, err := snapshot.Get(env.Store(), l.Addr)
	if err != nil || raw.Size < 0 || raw.Size > maxTupleItems {
		return nil, false
	}
	if raw.Size == 0 {
		return nil, true
	}
	items, err := snapshot.GetArray(env.Store(), raw.Items, uint64(raw.Size))
	if err != nil {
		return nil, false
	}
	return items, true
}

// InvalidReason implements Decoder.
func (l List) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), l.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.Size < 0 || raw.Size > maxTupleItems {
		return "invalid_ob_size"
	}
	if raw.Allocated < raw.Size {
		return "invalid_allocated"
	}
	if raw.Size > 0 {
		if !snapshot.ObjValid(env.Store(), raw.Items, 8) {
			return "invalid_ob_item"
		}
		if !snapshot.ExistsArray(env.Store(), raw.Items, uint64(raw.Size)) {
			return "invalid_items_range"
		}
		items, _ := l.Items(env)
		for _, item := range items {
			if ir := BaseInvalidReason(env, item); ir != "" {
				return "invalid_item"
			}
		}
	}
	return ""
}

// DirectReferents implements Decoder.
func (l List) DirectReferents(env Env) []ObjAddr {
	raw, err := snapshot.Get(env.Store(), l.Addr)
	if err != nil {
		return nil
	}
	ret := nonNull(nil, types.Cast[RawObject](raw.Items))
	items, ok := l.Items(env)
	if !ok {
		return ret
	}
	for _, item := range items {
		ret = nonNull(ret, item)
	}
	return ret
}

// Repr implements Decoder. List order is preserved; entries are never
// sorted.
func (l List) Repr(t Ctx) string {
	if ir := l.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<list !%s>", ir)
	}

	release, recursive := t.CycleGuard(l.Addr.Uint64())
	defer release()
	if recursive {
		return "<list !recursive_repr>"
	}

	items, _ := l.Items(t.Env())
	if !t.RecursionAllowed() {
		return fmt.Sprintf("<list !recursion_depth len=%d>", len(items))
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

	return containerLayout{open: "[", close: "]", empty: "[]"}.render(t, entries, hasExtra)
}

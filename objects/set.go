package objects

import (
	"fmt"
	"sort"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// maxSetMask bounds the open-addressing table size; larger masks are
// always scan garbage.
const maxSetMask = 1 << 32

// SetEntry is one slot of the set's open-addressing table.
type SetEntry struct {
	Key  ObjAddr
	Hash int64
}

// RawSet mirrors the runtime's set object. The table pointer addresses
// mask+1 entries; small sets point it at the inline smalltable.
type RawSet struct {
	RawObject
	Fill       int64
	Used       int64
	Mask       int64
	Table      types.Addr[SetEntry]
	Hash       int64
	Finger     uint64
	SmallTable [8]SetEntry
	WeakrefList ObjAddr
}

// Set decodes a runtime set or frozenset object.
type Set struct {
	Addr types.Addr[RawSet]
}

func (st Set) entries(env Env) ([]SetEntry, bool) {
	raw, err := snapshot.Get(env.Store(), st.Addr)
	if err != nil || raw.Mask < 0 || raw.Mask >= maxSetMask {
		return nil, false
	}
	entries, err := snapshot.GetArray(env.Store(), raw.Table, uint64(raw.Mask)+1)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// Items returns the non-null keys of the table.
func (st Set) Items(env Env) ([]ObjAddr, bool) {
	entries, ok := st.entries(env)
	if !ok {
		return nil, false
	}
	var ret []ObjAddr
	for _, e := range entries {
		if !e.Key.IsNull() {
			ret = append(ret, e.Key)
		}
	}
	return ret, true
}

// InvalidReason implements Decoder.
func (st Set) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), st.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.Mask < 0 || raw.Mask >= maxSetMask {
		return "invalid_mask"
	}
	if raw.Fill > raw.Mask+1 {
		return "invalid_fill"
	}
	if raw.Used > raw.Fill {
		return "invalid_used"
	}
	if !snapshot.ObjValid(env.Store(), raw.Table, 8) {
		return "invalid_table"
	}
	if !snapshot.ExistsArray(env.Store(), raw.Table, uint64(raw.Mask)+1) {
		return "invalid_table_range"
	}
	entries, _ := st.entries(env)
	for _, e := range entries {
		if !snapshot.ObjValidOrNull(env.Store(), e.Key, 8) {
			return "invalid_entry"
		}
	}
	return ""
}

// DirectReferents implements Decoder.
func (st Set) DirectReferents(env Env) []ObjAddr {
	items, ok := st.Items(env)
	if !ok {
		return nil
	}
	var ret []ObjAddr
	for _, item := range items {
		ret = nonNull(ret, item)
	}
	return ret
}

// Repr implements Decoder. Entries are sorted by their rendered reprs so
// the output is stable across runs.
func (st Set) Repr(t Ctx) string {
	if ir := st.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<set !%s>", ir)
	}
	if !t.RecursionAllowed() {
		items, _ := st.Items(t.Env())
		return fmt.Sprintf("<set !recursion_depth len=%d>", len(items))
	}

	release, recursive := t.CycleGuard(st.Addr.Uint64())
	defer release()
	if recursive {
		return "<set !recursive_repr>"
	}

	exit := t.Enter()
	defer exit()

	items, _ := st.Items(t.Env())
	entries := make([]string, 0, len(items))
	hasExtra := false
	for _, item := range items {
		if t.MaxEntries() >= 0 && len(entries) >= t.MaxEntries() {
			hasExtra = true
			break
		}
		entries = append(entries, t.Repr(item))
	}
	sort.Strings(entries)

	return containerLayout{open: "{", close: "}", empty: "set()"}.render(t, entries, hasExtra)
}

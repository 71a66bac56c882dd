package objects

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// maxDictSize bounds dk_size; larger tables are always scan garbage.
const maxDictSize = 1 << 32

// RawDict mirrors the runtime's dict object. ma_values is null for a
// combined table and points at a parallel value vector for a split table.
type RawDict struct {
	RawObject
	Used       int64
	VersionTag uint64
	Keys       types.Addr[RawDictKeys]
	Values     types.Addr[ObjAddr]
}

// RawDictKeys is the shared keys object: dk_size slots in the lookup
// table, then dk_usable+dk_nentries packed entry records. The width of
// each lookup-table slot depends on dk_size.
type RawDictKeys struct {
	RefCount int64
	Size     int64
	Lookup   uint64
	Usable   int64
	NEntries int64
}

// bytesPerTableValue returns the width of one lookup-table slot.
func (k *RawDictKeys) bytesPerTableValue() uint64 {
	switch {
	case k.Size <= 0x7f:
		return 1
	case k.Size <= 0x7fff:
		return 2
	case k.Size <= 0x7fffffff:
		return 4
	default:
		return 8
	}
}

// DictKeyEntry is one packed (hash, key, value) record.
type DictKeyEntry struct {
	Hash  int64
	Key   ObjAddr
	Value ObjAddr
}

// DictItem is a decoded key/value pair.
type DictItem struct {
	Key   ObjAddr
	Value ObjAddr
}

// Dict decodes a runtime dict object.
type Dict struct {
	Addr types.Addr[RawDict]
}

func (d Dict) keys(env Env) (*RawDict, *RawDictKeys, bool) {
	raw, err := snapshot.Get(env.Store(), d.Addr)
	if err != nil {
		return nil, nil, false
	}
	keys, err := snapshot.Get(env.Store(), raw.Keys)
	if err != nil {
		return nil, nil, false
	}
	return raw, keys, true
}

func (d Dict) tableAddr(raw *RawDict) types.Addr[byte] {
	return types.Cast[byte](raw.Keys).OffsetBytes(int64(unsafe.Sizeof(RawDictKeys{})))
}

func (d Dict) entriesAddr(raw *RawDict, keys *RawDictKeys) types.Addr[DictKeyEntry] {
	return types.Cast[DictKeyEntry](d.tableAddr(raw).OffsetBytes(int64(keys.bytesPerTableValue() * uint64(keys.Size))))
}

// table returns the lookup-table slots widened to int64. Negative slots
// are empty.
func (d Dict) table(env Env) ([]int64, bool) {
	raw, keys, ok := d.keys(env)
	if !ok || keys.Size < 0 || keys.Size > maxDictSize {
		return nil, false
	}
	width := keys.bytesPerTableValue()
	data, err := env.Store().Read(d.tableAddr(raw), width*uint64(keys.Size))
	if err != nil {
		return nil, false
	}
	table := make([]int64, keys.Size)
	switch width {
	case 1:
		for i := range table {
			table[i] = int64(int8(data[i]))
		}
	case 2:
		for i, v := range snapshot.SliceOf[int16](data) {
			table[i] = int64(v)
		}
	case 4:
		for i, v := range snapshot.SliceOf[int32](data) {
			table[i] = int64(v)
		}
	default:
		copy(table, snapshot.SliceOf[int64](data))
	}
	return table, true
}

// Items walks the lookup table and extracts the live key/value pairs.
// For split tables the effective value is values[slot]; otherwise it is
// the packed entry's value field.
func (d Dict) Items(env Env) ([]DictItem, bool) {
	raw, keys, ok := d.keys(env)
	if !ok {
		return nil, false
	}
	table, ok := d.table(env)
	if !ok {
		return nil, false
	}
	numEntries := uint64(keys.Usable + keys.NEntries)
	entries, err := snapshot.GetArray(env.Store(), d.entriesAddr(raw, keys), numEntries)
	if err != nil {
		return nil, false
	}
	var values []ObjAddr
	if !raw.Values.IsNull() {
		values, err = snapshot.GetArray(env.Store(), raw.Values, numEntries)
		if err != nil {
			return nil, false
		}
	}

	var ret []DictItem
	for _, slot := range table {
		if slot < 0 || uint64(slot) >= numEntries {
			continue
		}
		entry := entries[slot]
		value := entry.Value
		if values != nil {
			value = values[slot]
		}
		ret = append(ret, DictItem{Key: entry.Key, Value: value})
	}
	return ret, true
}

// ValueForKey looks up a string-keyed entry by decoding each key.
func (d Dict) ValueForKey(env Env, key string) (ObjAddr, bool) {
	items, ok := d.Items(env)
	if !ok {
		return 0, false
	}
	for _, item := range items {
		if text, ok := DecodeStringTypes(env, item.Key); ok && text == key {
			return item.Value, true
		}
	}
	return 0, false
}

// InvalidReason implements Decoder. Checks run in dependency order: the
// keys object, the table range, the entries range, the split-values
// range, then every live entry.
func (d Dict) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), d.Addr)
	if err != nil {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if !snapshot.ObjValid(env.Store(), raw.Keys, 8) {
		return "invalid_ma_keys"
	}
	keys, err := snapshot.Get(env.Store(), raw.Keys)
	if err != nil {
		return "invalid_ma_keys"
	}
	if keys.Size <= 0 || keys.Size > maxDictSize || keys.Usable < 0 || keys.NEntries < 0 {
		return "invalid_ma_keys"
	}
	if !env.Store().ExistsRange(d.tableAddr(raw), keys.bytesPerTableValue()*uint64(keys.Size)) {
		return "invalid_ma_keys_table"
	}
	numEntries := uint64(keys.Usable + keys.NEntries)
	if !snapshot.ExistsArray(env.Store(), d.entriesAddr(raw, keys), numEntries) {
		return "invalid_ma_keys_entries"
	}
	if !raw.Values.IsNull() {
		if !snapshot.ObjValid(env.Store(), raw.Values, 8) {
			return "invalid_ma_values"
		}
		if !snapshot.ExistsArray(env.Store(), raw.Values, numEntries) {
			return "invalid_ma_values_range"
		}
	}

	items, ok := d.Items(env)
	if !ok {
		return "invalid_ma_keys_entries"
	}
	for _, item := range items {
		if !snapshot.ObjValid(env.Store(), item.Key, 8) || !snapshot.ObjValid(env.Store(), item.Value, 8) {
			return "invalid_entry"
		}
		if ir := BaseInvalidReason(env, item.Key); ir != "" {
			return ir
		}
		if ir := BaseInvalidReason(env, item.Value); ir != "" {
			return ir
		}
	}
	return ""
}

// DirectReferents implements Decoder. Includes the keys and values
// buffers themselves so reverse-reference searches can find the dict
// from its backing allocations.
func (d Dict) DirectReferents(env Env) []ObjAddr {
	raw, err := snapshot.Get(env.Store(), d.Addr)
	if err != nil {
		return nil
	}
	ret := nonNull(nil, types.Cast[RawObject](raw.Keys))
	ret = nonNull(ret, types.Cast[RawObject](raw.Values))
	items, ok := d.Items(env)
	if !ok {
		return ret
	}
	for _, item := range items {
		ret = nonNull(ret, item.Key)
		ret = nonNull(ret, item.Value)
	}
	return ret
}

// Repr implements Decoder. Entries are sorted by rendered key repr so
// the output is stable across runs.
func (d Dict) Repr(t Ctx) string {
	if ir := d.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<dict !%s>", ir)
	}

	release, recursive := t.CycleGuard(d.Addr.Uint64())
	defer release()
	if recursive {
		return "<dict !recursive_repr>"
	}

	raw, _, ok := d.keys(t.Env())
	if !ok {
		t.MarkInvalid()
		return "<dict keys:!table_unreadable>"
	}
	if !t.RecursionAllowed() {
		return fmt.Sprintf("<dict !recursion_depth len=%d>", raw.Used)
	}

	exit := t.Enter()
	defer exit()

	items, ok := d.Items(t.Env())
	if !ok {
		t.MarkInvalid()
		return "<dict keys:!entries_unreadable>"
	}

	type reprEntry struct {
		key   string
		value string
	}
	entries := make([]reprEntry, 0, len(items))
	hasExtra := false
	for _, item := range items {
		if t.MaxEntries() >= 0 && len(entries) >= t.MaxEntries() {
			hasExtra = true
			break
		}
		entries = append(entries, reprEntry{key: t.Repr(item.Key), value: t.Repr(item.Value)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key != entries[j].key {
			return entries[i].key < entries[j].key
		}
		return entries[i].value < entries[j].value
	})

	rendered := make([]string, 0, len(entries))
	for _, e := range entries {
		rendered = append(rendered, e.key+": "+e.value)
	}
	return containerLayout{open: "{", close: "}", empty: "{}"}.render(t, rendered, hasExtra)
}

package objects_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/test"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

func TestTupleRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("tuple", "str", "int")
	empty := w.Tuple()
	single := w.Tuple(w.Str("a"))
	double := w.Tuple(w.Int(1), w.Int(2))
	env := w.Env(t)

	requireT.Equal("()", reprDefault(t, env, empty))
	requireT.Equal("('a',)", reprDefault(t, env, single))
	requireT.Equal("(\n  1,\n  2,\n)", reprDefault(t, env, double))
}

func TestListRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("list", "str", "int")
	empty := w.List()
	single := w.List(w.Str("a"))
	double := w.List(w.Int(1), w.Int(2))
	env := w.Env(t)

	requireT.Equal("[]", reprDefault(t, env, empty))
	requireT.Equal("['a']", reprDefault(t, env, single))
	requireT.Equal("[\n  1,\n  2,\n]", reprDefault(t, env, double))
}

func TestNestedContainerIndent(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("list", "int")
	addr := w.List(w.List(w.Int(1), w.Int(2)))
	env := w.Env(t)

	requireT.Equal("[[\n    1,\n    2,\n  ]]", reprDefault(t, env, addr))
}

func TestListReprMaxEntries(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("list", "int")
	addr := w.List(w.Int(1), w.Int(2), w.Int(3))
	env := w.Env(t)

	ret, valid := reprWith(env, addr, func(opts *traversal.Options) {
		opts.MaxEntries = 2
	})
	requireT.True(valid)
	requireT.Equal("[\n  1,\n  2,\n  ...\n]", ret)
}

func TestListReprRecursive(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("list")
	itemsAddr := test.PutSlice(w.Heap, []objects.ObjAddr{0})
	listAddr := test.Put(w.Heap, objects.RawList{
		RawVarObject: objects.RawVarObject{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.Types["list"]},
			Size:      1,
		},
		Items:     itemsAddr,
		Allocated: 1,
	})
	test.SetAt(w.Heap, itemsAddr, types.Cast[objects.RawObject](listAddr))
	env := w.Env(t)

	requireT.Equal("[<list !recursive_repr>]", reprDefault(t, env, types.Cast[objects.RawObject](listAddr)))
}

func TestListReprRecursionDepth(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("list")
	addr := w.List()
	for i := 0; i < 4; i++ {
		addr = w.List(addr)
	}
	env := w.Env(t)

	requireT.Equal("[[[[<list !recursion_depth len=0>]]]]", reprDefault(t, env, addr))
}

func TestSetRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("set", "frozenset", "str", "int")
	empty := w.SetOf()
	single := w.SetOf(w.Int(5))
	double := w.SetOf(w.Str("b"), w.Str("a"))
	frozen := w.FrozenSetOf(w.Int(1))
	env := w.Env(t)

	requireT.Equal("set()", reprDefault(t, env, empty))
	requireT.Equal("{5}", reprDefault(t, env, single))
	requireT.Equal("{\n  'a',\n  'b',\n}", reprDefault(t, env, double))
	requireT.Equal("{1}", reprDefault(t, env, frozen))
}

func TestDictRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("dict", "str", "int")
	empty := w.Dict()
	single := w.Dict(test.KV{Key: w.Str("k"), Value: w.Int(7)})
	double := w.Dict(
		test.KV{Key: w.Str("b"), Value: w.Int(2)},
		test.KV{Key: w.Str("a"), Value: w.Int(1)},
	)
	env := w.Env(t)

	requireT.Equal("{}", reprDefault(t, env, types.Cast[objects.RawObject](empty)))
	requireT.Equal("{'k': 7}", reprDefault(t, env, types.Cast[objects.RawObject](single)))
	requireT.Equal("{\n  'a': 1,\n  'b': 2,\n}", reprDefault(t, env, types.Cast[objects.RawObject](double)))
}

func TestSplitDictRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("dict", "str", "int")
	addr := w.SplitDict(
		test.KV{Key: w.Str("x"), Value: w.Int(10)},
		test.KV{Key: w.Str("y"), Value: w.Int(20)},
	)
	env := w.Env(t)

	requireT.Equal("{\n  'x': 10,\n  'y': 20,\n}", reprDefault(t, env, types.Cast[objects.RawObject](addr)))
}

func TestDictValueForKey(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("dict", "str", "int")
	value := w.Int(42)
	addr := w.Dict(
		test.KV{Key: w.Str("answer"), Value: value},
		test.KV{Key: w.Str("other"), Value: w.Int(0)},
	)
	env := w.Env(t)

	got, ok := objects.Dict{Addr: addr}.ValueForKey(env, "answer")
	requireT.True(ok)
	requireT.Equal(value, got)

	_, ok = objects.Dict{Addr: addr}.ValueForKey(env, "missing")
	requireT.False(ok)
}

func TestDictWiderTableSlots(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(test.HeapConfig{Base: worldBase, Size: 0x100000}, "dict", "str", "int")
	twoByte := w.DictWithTableSize(256, test.KV{Key: w.Str("a"), Value: w.Int(1)})
	fourByte := w.DictWithTableSize(65536, test.KV{Key: w.Str("b"), Value: w.Int(2)})
	env := w.Env(t)

	requireT.Equal("{'a': 1}", reprDefault(t, env, types.Cast[objects.RawObject](twoByte)))
	requireT.Equal("{'b': 2}", reprDefault(t, env, types.Cast[objects.RawObject](fourByte)))
}

func TestIntRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("int")
	zero := w.Int(0)
	small := w.Int(5)
	negative := w.Int(-5)
	big := w.Int(1 << 40)
	negativeBig := w.Int(-(1 << 35))
	env := w.Env(t)

	requireT.Equal("0", reprDefault(t, env, zero))
	requireT.Equal("5", reprDefault(t, env, small))
	requireT.Equal("-5", reprDefault(t, env, negative))
	requireT.Equal("1099511627776", reprDefault(t, env, big))
	requireT.Equal("-34359738368", reprDefault(t, env, negativeBig))
}

func TestBytesRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("bytes")
	printable := w.Bytes([]byte("hi"))
	withEscapes := w.Bytes([]byte("a\nb"))
	binary := w.Bytes([]byte{0x00, 0xff})
	env := w.Env(t)

	requireT.Equal("b'hi'", reprDefault(t, env, printable))
	requireT.Equal(`b'a\nb'`, reprDefault(t, env, withEscapes))
	requireT.Equal("<bytes 00FF>", reprDefault(t, env, binary))
}

func TestBytesReprAsHex(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("bytes")
	addr := w.Bytes([]byte("hi"))
	env := w.Env(t)

	ret, valid := reprWith(env, addr, func(opts *traversal.Options) {
		opts.BytesAsHex = true
	})
	requireT.True(valid)
	requireT.Equal("<bytes 6869>", ret)
}

func TestBytesReprTruncation(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("bytes")
	printable := w.Bytes([]byte("abcd"))
	binary := w.Bytes([]byte{0x61, 0x62, 0x00, 0x00})
	env := w.Env(t)

	ret, valid := reprWith(env, printable, func(opts *traversal.Options) {
		opts.MaxStringBytes = 2
	})
	requireT.True(valid)
	requireT.Equal("b'ab'...", ret)

	ret, valid = reprWith(env, binary, func(opts *traversal.Options) {
		opts.BytesAsHex = true
		opts.MaxStringBytes = 2
	})
	requireT.True(valid)
	requireT.Equal("<bytes 6162...>", ret)
}

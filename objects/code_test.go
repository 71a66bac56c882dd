package objects_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/test"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

func TestCodeRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("code", "str", "tuple", "bytes")
	addr := w.Code(test.CodeSpec{Name: "f", Filename: "file.py", FirstLineno: 10})
	env := w.Env(t)

	requireT.Equal("<code f (file.py:10)>", reprDefault(t, env, types.Cast[objects.RawObject](addr)))
}

func TestCodeVarnames(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("code", "str", "tuple", "bytes")
	addr := w.Code(test.CodeSpec{Name: "f", Filename: "file.py", Varnames: []string{"x", "y"}})
	env := w.Env(t)

	code := objects.Code{Addr: addr}
	count, ok := code.VarnameCount(env)
	requireT.True(ok)
	requireT.Equal(int64(2), count)

	names, ok := code.Varnames(env)
	requireT.True(ok)
	requireT.Equal([]string{"x", "y"}, names)
}

func TestCodeLineForOffset(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("code", "str", "tuple", "bytes")
	addr := w.Code(test.CodeSpec{
		Name:        "f",
		Filename:    "file.py",
		FirstLineno: 10,
		Linetable:   []byte{2, 1, 2, 2},
	})
	env := w.Env(t)
	code := objects.Code{Addr: addr}

	line, ok := code.LineForOffset(env, 0)
	requireT.True(ok)
	requireT.Equal(int32(11), line)

	line, ok = code.LineForOffset(env, 1)
	requireT.True(ok)
	requireT.Equal(int32(13), line)

	line, ok = code.LineForOffset(env, 5)
	requireT.True(ok)
	requireT.Equal(int32(13), line)
}

func TestCodeLineForOffsetNoLineMarker(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("code", "str", "tuple", "bytes")
	addr := w.Code(test.CodeSpec{
		Name:        "f",
		Filename:    "file.py",
		FirstLineno: 10,
		Linetable:   []byte{4, 0x80},
	})
	env := w.Env(t)

	_, ok := objects.Code{Addr: addr}.LineForOffset(env, 0)
	requireT.False(ok)
}

func prepFrame(w *test.World, state int8, back types.Addr[objects.RawFrame]) types.Addr[objects.RawFrame] {
	code := w.Code(test.CodeSpec{
		Name:        "f",
		Filename:    "file.py",
		FirstLineno: 10,
		Varnames:    []string{"x", "y"},
		Linetable:   []byte{2, 1, 2, 2},
	})
	return w.Frame(test.FrameSpec{
		Code:   code,
		Back:   back,
		State:  state,
		Lasti:  0,
		Lineno: 99,
		Locals: []objects.ObjAddr{w.Str("a"), 0},
	})
}

func TestFrameReprShort(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("frame", "code", "str", "tuple", "bytes", "dict")
	addr := prepFrame(w, objects.FrameExecuting, 0)
	env := w.Env(t)

	ret, valid := reprWith(env, types.Cast[objects.RawObject](addr), func(opts *traversal.Options) {
		opts.Short = true
	})
	requireT.True(valid)
	requireT.Equal("<frame f (file.py:11)>", ret)
}

func TestFrameReprFull(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("frame", "code", "str", "tuple", "bytes", "dict")
	addr := prepFrame(w, objects.FrameExecuting, 0)
	env := w.Env(t)

	requireT.Equal(
		"<frame f (file.py:11) state=executing locals={x='a'}>",
		reprDefault(t, env, types.Cast[objects.RawObject](addr)))
}

func TestFrameReprBackChain(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("frame", "code", "str", "tuple", "bytes", "dict")
	outer := prepFrame(w, objects.FrameExecuting, 0)
	inner := prepFrame(w, objects.FrameExecuting, outer)
	env := w.Env(t)

	requireT.Equal(
		"<frame f (file.py:11) state=executing locals={x='a'}"+
			" from <frame f (file.py:11) state=executing locals={x='a'}>>",
		reprDefault(t, env, types.Cast[objects.RawObject](inner)))

	ret, valid := reprWith(env, types.Cast[objects.RawObject](inner), func(opts *traversal.Options) {
		opts.FrameOmitBack = true
	})
	requireT.True(valid)
	requireT.Equal("<frame f (file.py:11) state=executing locals={x='a'}>", ret)
}

func TestFrameLineFallback(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("frame", "code", "str", "tuple", "bytes", "dict")
	code := w.Code(test.CodeSpec{Name: "g", Filename: "other.py", FirstLineno: 1})
	addr := w.Frame(test.FrameSpec{Code: code, State: objects.FrameSuspended, Lineno: 42})
	env := w.Env(t)

	frame := objects.Frame{Addr: addr}
	requireT.Equal(int32(42), frame.Line(env))
	requireT.Equal("other.py:42", frame.Where(env))
	requireT.False(frame.IsExecuting(env))
	requireT.True(frame.IsRunnableOrRunning(env))
}

func TestFrameLocals(t *testing.T) {
	requireT := require.New(t)
	w := newWorld("frame", "code", "str", "tuple", "bytes", "dict")
	addr := prepFrame(w, objects.FrameExecuting, 0)
	env := w.Env(t)

	locals, ok := objects.Frame{Addr: addr}.Locals(env)
	requireT.True(ok)
	requireT.Len(locals, 2)
	requireT.Equal("x", locals[0].Name)
	requireT.False(locals[0].Value.IsNull())
	requireT.Equal("y", locals[1].Name)
	requireT.True(locals[1].Value.IsNull())
}

package objects_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/test"
	"github.com/nielstron/python-memtools/types"
)

func TestGeneratorRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld()
	frame := prepFrame(w, objects.FrameSuspended, 0)
	live := w.Generator(test.GeneratorSpec{Kind: "generator", Frame: frame, Qualname: "gen"})
	finished := w.Generator(test.GeneratorSpec{Kind: "coroutine", Qualname: "work"})
	asyncGen := w.Generator(test.GeneratorSpec{Kind: "async_generator", Frame: frame, Qualname: "agen"})
	env := w.Env(t)

	requireT.Equal("<generator gen (file.py:11)>", reprDefault(t, env, live))
	requireT.Equal("<coroutine work finished>", reprDefault(t, env, finished))
	requireT.Equal("<async_generator agen (file.py:11)>", reprDefault(t, env, asyncGen))
}

func TestModule(t *testing.T) {
	requireT := require.New(t)
	w := newWorld()
	combined := w.Module("sys")
	split := w.SplitModule("os", test.KV{Key: w.Str("sep"), Value: w.Str("/")})
	env := w.Env(t)

	requireT.Equal("<module sys>", reprDefault(t, env, combined))
	requireT.Equal("<module os>", reprDefault(t, env, split))

	name, ok := objects.Module{Addr: types.Cast[objects.RawModule](split)}.Name(env)
	requireT.True(ok)
	requireT.Equal("os", name)
}

func TestFutureRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld()
	pending := w.Future(objects.FuturePending)
	cancelled := w.Future(objects.FutureCancelled)
	withResult := test.Put(w.Heap, objects.RawFuture{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.Types["_asyncio.Future"]},
		Result:    w.Int(5),
		State:     objects.FutureFinished,
	})
	withException := test.Put(w.Heap, objects.RawFuture{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.Types["_asyncio.Future"]},
		Exception: w.Str("boom"),
		State:     objects.FutureFinished,
	})
	env := w.Env(t)

	requireT.Equal("<Future pending>", reprDefault(t, env, pending))
	requireT.Equal("<Future cancelled>", reprDefault(t, env, cancelled))
	requireT.Equal("<Future finished result=5>", reprDefault(t, env, types.Cast[objects.RawObject](withResult)))
	requireT.Equal("<Future finished exception='boom'>", reprDefault(t, env, types.Cast[objects.RawObject](withException)))
}

func TestTaskRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld()
	frame := prepFrame(w, objects.FrameSuspended, 0)
	coro := w.Generator(test.GeneratorSpec{Kind: "coroutine", Frame: frame, Qualname: "work"})
	awaited := w.Future(objects.FuturePending)
	pending := w.Task(test.TaskSpec{Coro: coro, FutWaiter: awaited, State: objects.FuturePending})
	finished := w.Task(test.TaskSpec{Coro: coro, State: objects.FutureFinished})
	env := w.Env(t)

	requireT.Equal("<Task work pending (file.py:11)>", reprDefault(t, env, pending))
	requireT.Equal("<Task work finished>", reprDefault(t, env, finished))

	task := objects.Task{Addr: types.Cast[objects.RawTask](pending)}
	name, ok := task.Name(env)
	requireT.True(ok)
	requireT.Equal("work", name)

	got, ok := task.AwaitedFuture(env)
	requireT.True(ok)
	requireT.Equal(awaited, got)

	_, ok = objects.Task{Addr: types.Cast[objects.RawTask](finished)}.AwaitedFuture(env)
	requireT.False(ok)
}

func TestGatheringFutureRepr(t *testing.T) {
	requireT := require.New(t)
	w := newWorld()
	first := w.Future(objects.FuturePending)
	second := w.Future(objects.FuturePending)
	gather := w.Gather(first, second)
	env := w.Env(t)

	requireT.Equal("<GatheringFuture pending children=2>", reprDefault(t, env, gather))

	children, ok := objects.GatheringFuture{Addr: types.Cast[objects.RawGatheringFuture](gather)}.Children(env)
	requireT.True(ok)
	requireT.Equal([]objects.ObjAddr{first, second}, children)
}

func TestThreadState(t *testing.T) {
	requireT := require.New(t)
	w := newWorld()
	frame := prepFrame(w, objects.FrameExecuting, 0)
	withFrame := w.ThreadState(frame, 1234)
	frameless := w.ThreadState(0, 5678)
	env := w.Env(t)

	ts := objects.ThreadState{Addr: withFrame}
	requireT.Equal("", ts.InvalidReason(env))
	top, ok := ts.TopFrame(env)
	requireT.True(ok)
	requireT.Equal(frame, top.Addr)

	requireT.Equal("no_frame", objects.ThreadState{Addr: frameless}.InvalidReason(env))
}

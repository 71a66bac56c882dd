package query_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/outofforest/logger"
	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/catalog"
	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/query"
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/test"
	"github.com/nielstron/python-memtools/types"
)

var worldConfig = test.HeapConfig{Base: 0x100000000, Size: 0x40000}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)
	return ctx
}

func newSession(env *catalog.Environment) (*query.Session, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	sess := query.NewSession(env, out, errOut)
	sess.NumThreads = 2
	return sess, out, errOut
}

func dispatch(t *testing.T, sess *query.Session, line string) {
	t.Helper()
	require.NoError(t, query.Dispatch(testCtx(t), query.DefaultRegistry(), sess, line))
}

func TestDispatchUnknownCommand(t *testing.T) {
	w := test.NewWorld(worldConfig)
	sess, _, _ := newSession(w.Env(t))

	err := query.Dispatch(testCtx(t), query.DefaultRegistry(), sess, "frobnicate")
	require.EqualError(t, err, `unknown command "frobnicate" (try "help")`)

	require.NoError(t, query.Dispatch(testCtx(t), query.DefaultRegistry(), sess, "   "))
}

func TestHelpListsEveryCommand(t *testing.T) {
	w := test.NewWorld(worldConfig)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "help")

	for _, name := range []string{
		"regions", "show-analysis-data", "find-base-type", "find-all-types",
		"count-by-type", "find-all-objects", "find-references", "find-module",
		"find-all-threads", "find-all-stacks", "aggregate-strings",
		"async-task-graph", "context", "repr", "find",
	} {
		require.Contains(t, out.String(), name)
	}
}

func TestRegions(t *testing.T) {
	w := test.NewWorld(worldConfig)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "regions")

	require.Contains(t, out.String(), "0000000100000000-0000000100040000 (262144 bytes)")
	require.Contains(t, out.String(), "1 regions, 262144 bytes total")
}

func TestCountByTypeAscendingOrder(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str", "int")
	w.Str("one")
	w.Str("two")
	w.Str("three")
	w.Int(42)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "count-by-type")

	intLine := fmt.Sprintf("(1 objects) int @ %s", w.Types["int"])
	strLine := fmt.Sprintf("(3 objects) str @ %s", w.Types["str"])
	requireT.Contains(out.String(), intLine)
	requireT.Contains(out.String(), strLine)
	requireT.Less(strings.Index(out.String(), intLine), strings.Index(out.String(), strLine))
}

func TestFindModuleByName(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "module", "dict", "str")
	combined := w.Module("sys")
	split := w.SplitModule("sys")
	w.Module("os")
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "find-module sys")

	requireT.Contains(out.String(), fmt.Sprintf("<module sys> @ %s", combined))
	requireT.Contains(out.String(), fmt.Sprintf("<module sys> @ %s", split))
	requireT.Equal(2, strings.Count(out.String(), "<module sys>"))
	requireT.NotContains(out.String(), "<module os>")
}

func TestFindModuleMissing(t *testing.T) {
	w := test.NewWorld(worldConfig, "module", "dict", "str")
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "find-module nosuch")

	require.Contains(t, out.String(), `module "nosuch" not found`)
}

func stackWorld(t *testing.T) (*test.World, [3]types.Addr[objects.RawFrame], types.Addr[objects.RawFrame]) {
	t.Helper()
	w := test.NewWorld(worldConfig, "frame", "code", "str", "tuple")
	f1 := w.Frame(test.FrameSpec{
		Code:  w.Code(test.CodeSpec{Name: "f1", Filename: "app.py", FirstLineno: 10}),
		State: objects.FrameExecuting,
	})
	f2 := w.Frame(test.FrameSpec{
		Code:  w.Code(test.CodeSpec{Name: "f2", Filename: "app.py", FirstLineno: 20}),
		Back:  f1,
		State: objects.FrameExecuting,
	})
	f3 := w.Frame(test.FrameSpec{
		Code:  w.Code(test.CodeSpec{Name: "f3", Filename: "app.py", FirstLineno: 30}),
		Back:  f2,
		State: objects.FrameExecuting,
	})
	suspended := w.Frame(test.FrameSpec{
		Code:  w.Code(test.CodeSpec{Name: "s1", Filename: "app.py", FirstLineno: 40}),
		State: objects.FrameSuspended,
	})
	return w, [3]types.Addr[objects.RawFrame]{f1, f2, f3}, suspended
}

func TestFindAllStacksMostRecentFirst(t *testing.T) {
	requireT := require.New(t)
	w, frames, _ := stackWorld(t)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "find-all-stacks")

	text := out.String()
	requireT.Contains(text, fmt.Sprintf("stack rooted at %s:", frames[2]))
	requireT.Less(strings.Index(text, "<frame f3"), strings.Index(text, "<frame f2"))
	requireT.Less(strings.Index(text, "<frame f2"), strings.Index(text, "<frame f1"))
	requireT.NotContains(text, "<frame s1")
	requireT.Contains(text, "1 stacks from 3 frames")
}

func TestFindAllStacksIncludeRunnable(t *testing.T) {
	requireT := require.New(t)
	w, _, _ := stackWorld(t)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "find-all-stacks --include-runnable")

	requireT.Contains(out.String(), "<frame s1")
	requireT.Contains(out.String(), "2 stacks from 4 frames")
}

func TestAsyncTaskGraphCycle(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "_asyncio.Task", "_GatheringFuture", "list", "str")

	// A pure await cycle: T1 awaits G1, whose child T2 awaits G2, whose
	// child T3 awaits G3, whose child is T1 again. T1's waiter is patched
	// in once G1 exists.
	t1 := w.Task(test.TaskSpec{})
	g3 := w.Gather(t1)
	t3 := w.Task(test.TaskSpec{FutWaiter: g3})
	g2 := w.Gather(t3)
	t2 := w.Task(test.TaskSpec{FutWaiter: g2})
	g1 := w.Gather(t2)
	test.SetAt(w.Heap, types.Cast[objects.RawTask](t1), objects.RawTask{
		RawFuture: objects.RawFuture{
			RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.Types["_asyncio.Task"]},
			State:     objects.FuturePending,
		},
		FutWaiter: g1,
	})

	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "async-task-graph")

	text := out.String()
	requireT.Contains(text, fmt.Sprintf("<!seen>@%s", t1))
	requireT.Contains(text, "6 await-graph nodes, 0 roots")
	for _, addr := range []objects.ObjAddr{t2, t3, g1, g2, g3} {
		requireT.NotContains(text, fmt.Sprintf("<!seen>@%s", addr))
	}
}

func TestAsyncTaskGraphRoots(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "_asyncio.Task", "_asyncio.Future", "_GatheringFuture", "list", "str")

	fut := w.Future(objects.FuturePending)
	w.Task(test.TaskSpec{FutWaiter: fut})

	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "async-task-graph")

	requireT.Contains(out.String(), "2 await-graph nodes, 1 roots")
	requireT.NotContains(out.String(), "<!seen>")
}

func TestAggregateStringsHistogram(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	for i := 0; i < 100; i++ {
		w.Str("short#" + string(rune('a'+i%26)))
	}
	long := strings.Repeat("x", 300)
	for i := 0; i < 10; i++ {
		w.Str(long)
	}
	env := w.Env(t)

	sess, out, _ := newSession(env)
	dispatch(t, sess, "aggregate-strings")
	requireT.Contains(out.String(), "(100 strings) size <= 10")
	requireT.Contains(out.String(), "(10 strings) size <= 500")

	sess2, out2, _ := newSession(env)
	dispatch(t, sess2, "aggregate-strings --print-larger-than=100")
	requireT.Equal(10, strings.Count(out2.String(), ": 300 bytes"))
}

func TestFindPtrAlignedFastPath(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig)
	value := uint64(0x1122334455667788)
	aligned := w.Heap.PutBytes(binary.LittleEndian.AppendUint64(nil, value))
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[1:], value)
	unalignedBase := w.Heap.PutBytes(buf)
	env := w.Env(t)

	sess, out, _ := newSession(env)
	dispatch(t, sess, "find --ptr 1122334455667788")
	requireT.Contains(out.String(), aligned.String())
	requireT.NotContains(out.String(), unalignedBase.OffsetBytes(1).String())

	sess2, out2, _ := newSession(env)
	dispatch(t, sess2, "find --ptr 1122334455667788 --count")
	requireT.Contains(out2.String(), "1 matches")
}

func TestFindUnalignedBytePath(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig)
	buf := append([]byte{0}, 0xde, 0xad, 0xbe, 0xef)
	base := w.Heap.PutBytes(buf)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "find deadbeef")

	requireT.Contains(out.String(), base.OffsetBytes(1).String())
}

func TestContextHexDump(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig)
	addr := w.Heap.PutBytes([]byte("CONTEXT!"))
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, fmt.Sprintf("context %X --size=16", addr.Uint64()))

	requireT.Contains(out.String(), "CONTEXT!")
	requireT.Contains(out.String(), fmt.Sprintf("*%016X", addr.Uint64()&^0xf))
}

func TestReprCommand(t *testing.T) {
	w := test.NewWorld(worldConfig, "str")
	s := w.Str("hello")
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, fmt.Sprintf("repr %X", s.Uint64()))

	require.Contains(t, out.String(), "hello")
}

func TestFindAllObjectsOfType(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str", "int")
	w.Int(42)
	w.Int(7)
	w.Str("not an int")
	env := w.Env(t)

	sess, out, _ := newSession(env)
	dispatch(t, sess, "find-all-objects int --count")
	requireT.Contains(out.String(), fmt.Sprintf("(2 objects) int @ %s", w.Types["int"]))

	sess2, out2, _ := newSession(env)
	dispatch(t, sess2, "find-all-objects int")
	requireT.Contains(out2.String(), ": 42")
	requireT.Contains(out2.String(), ": 7")
}

func TestFindReferences(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "tuple", "str")
	s := w.Str("needle")
	tup := w.Tuple(s)
	w.Tuple(w.Str("other"))
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, fmt.Sprintf("find-references %X", s.Uint64()))

	requireT.Contains(out.String(), tup.String()+": ")
	requireT.Contains(out.String(), fmt.Sprintf("1 references to %s", s))
}

func TestFindAllThreads(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "frame", "code", "str", "tuple")
	frame := w.Frame(test.FrameSpec{
		Code:  w.Code(test.CodeSpec{Name: "worker", Filename: "app.py", FirstLineno: 5}),
		State: objects.FrameExecuting,
	})
	ts := w.ThreadState(frame, 7)
	sess, out, _ := newSession(w.Env(t))
	dispatch(t, sess, "find-all-threads")

	requireT.Contains(out.String(), fmt.Sprintf("thread state @ %s id=7", ts))
	requireT.Contains(out.String(), "<frame worker")
	requireT.Contains(out.String(), "1 thread states found")
}

func TestDispatchAutoBootstrap(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	w.Str("payload")
	path := filepath.Join(t.TempDir(), "snapshot")
	requireT.NoError(w.Heap.WriteDir(path))

	store, err := snapshot.Open(path)
	requireT.NoError(err)
	t.Cleanup(func() { _ = store.Close() })

	sess, out, errOut := newSession(catalog.NewEnvironment(store, path))
	dispatch(t, sess, "count-by-type")
	requireT.Contains(errOut.String(), "discovered")
	requireT.Contains(out.String(), "str @")
	requireT.FileExists(catalog.CatalogPath(path))

	// A fresh session over the same snapshot loads the persisted catalog
	// instead of rescanning.
	sess2, out2, errOut2 := newSession(catalog.NewEnvironment(store, path))
	dispatch(t, sess2, "show-analysis-data")
	requireT.Contains(errOut2.String(), "loaded")
	requireT.Contains(out2.String(), "base type:")
}

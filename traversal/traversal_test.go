package traversal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/test"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

var worldConfig = test.HeapConfig{Base: 0x100000000, Size: 0x40000}

func TestReprNull(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	env := w.Env(t)

	ret, valid := traversal.Repr(env, types.Null[objects.RawObject](), traversal.DefaultOptions())
	requireT.True(valid)
	requireT.Equal("<null>", ret)
}

func TestReprReportsInvalid(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	addr := test.Put(w.Heap, objects.RawStr{
		RawObject: objects.RawObject{RefCount: 1, TypeAddr: w.Types["str"]},
	})
	env := w.Env(t)

	ret, valid := traversal.Repr(env, types.Cast[objects.RawObject](addr), traversal.DefaultOptions())
	requireT.False(valid)
	requireT.Equal("<str !invalid_str_state>", ret)
}

func TestTraversalDepth(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	env := w.Env(t)
	tr := traversal.New(env, traversal.Options{MaxDepth: 1})

	requireT.Equal(0, tr.Depth())
	requireT.True(tr.RecursionAllowed())

	exit := tr.Enter()
	requireT.Equal(1, tr.Depth())
	requireT.False(tr.RecursionAllowed())

	exit()
	requireT.Equal(0, tr.Depth())
}

func TestTraversalCycleGuard(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	env := w.Env(t)
	tr := traversal.New(env, traversal.DefaultOptions())

	release, recursive := tr.CycleGuard(0x1000)
	requireT.False(recursive)

	_, recursive = tr.CycleGuard(0x1000)
	requireT.True(recursive)

	release()
	release2, recursive := tr.CycleGuard(0x1000)
	requireT.False(recursive)
	release2()
}

func TestTraversalMarkInvalid(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(worldConfig, "str")
	env := w.Env(t)
	tr := traversal.New(env, traversal.DefaultOptions())

	requireT.False(tr.SawInvalid())
	tr.MarkInvalid()
	requireT.True(tr.SawInvalid())
}

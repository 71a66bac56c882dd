package objects_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/catalog"
	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/test"
	"github.com/nielstron/python-memtools/traversal"
)

const (
	worldBase = uint64(0x100000000)
	worldSize = uint64(0x40000)
)

func newWorld(typeNames ...string) *test.World {
	if len(typeNames) == 0 {
		typeNames = test.StandardTypes
	}
	return test.NewWorld(test.HeapConfig{Base: worldBase, Size: worldSize}, typeNames...)
}

func reprDefault(t *testing.T, env *catalog.Environment, addr objects.ObjAddr) string {
	t.Helper()
	ret, valid := traversal.Repr(env, addr, traversal.DefaultOptions())
	require.True(t, valid)
	return ret
}

func reprWith(env *catalog.Environment, addr objects.ObjAddr, mutate func(*traversal.Options)) (string, bool) {
	opts := traversal.DefaultOptions()
	mutate(&opts)
	return traversal.Repr(env, addr, opts)
}

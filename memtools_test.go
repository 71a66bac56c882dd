package memtools_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/outofforest/logger"
	"github.com/stretchr/testify/require"

	memtools "github.com/nielstron/python-memtools"
	"github.com/nielstron/python-memtools/test"
)

func TestAnalyzerLifecycle(t *testing.T) {
	requireT := require.New(t)
	w := test.NewWorld(test.HeapConfig{Base: 0x100000000, Size: 0x40000}, "str")
	w.Str("payload")
	path := filepath.Join(t.TempDir(), "snapshot")
	requireT.NoError(w.Heap.WriteDir(path))

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	a, err := memtools.New(memtools.Config{
		DataPath:   path,
		NumThreads: 2,
		Out:        out,
		Err:        errOut,
	})
	requireT.NoError(err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)

	requireT.NoError(a.Dispatch(ctx, "regions"))
	requireT.Contains(out.String(), "1 regions")

	requireT.NoError(a.Dispatch(ctx, "count-by-type"))
	requireT.True(a.Environment().Bootstrapped())
	requireT.Contains(out.String(), "str @")

	requireT.Error(a.Dispatch(ctx, "no-such-command"))
	requireT.NoError(a.Dispatch(ctx, "help"))
}

func TestNewRejectsMissingSnapshot(t *testing.T) {
	_, err := memtools.New(memtools.Config{DataPath: filepath.Join(t.TempDir(), "absent")})
	require.Error(t, err)
}

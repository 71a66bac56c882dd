package scan_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

const (
	regionABase = uint64(0x100000)
	regionASize = uint64(0x1000)
	regionBBase = uint64(0x200000)
	regionBSize = uint64(0x2000)
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)
	return ctx
}

func prepStore(t *testing.T, mutate func(regionA, regionB []byte)) *snapshot.Store {
	t.Helper()
	dir := t.TempDir()
	regionA := make([]byte, regionASize)
	regionB := make([]byte, regionBSize)
	if mutate != nil {
		mutate(regionA, regionB)
	}
	writeRegion(t, dir, regionABase, regionA)
	writeRegion(t, dir, regionBBase, regionB)

	store, err := snapshot.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeRegion(t *testing.T, dir string, start uint64, data []byte) {
	t.Helper()
	name := fmt.Sprintf("mem.%016x.%016x.bin", start, start+uint64(len(data)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestScanVisitsEveryAlignedAddress(t *testing.T) {
	requireT := require.New(t)
	store := prepStore(t, nil)

	const numThreads = 2
	shards := make([]map[uint64]int, numThreads)
	for i := range shards {
		shards[i] = map[uint64]int{}
	}

	err := scan.Scan[uint64](testCtx(t), store, func(_ *uint64, addr types.Addr[uint64], threadIndex int) {
		shards[threadIndex][addr.Uint64()]++
	}, scan.Options{Stride: 16, NumThreads: numThreads})
	requireT.NoError(err)

	visited := map[uint64]int{}
	for _, shard := range shards {
		for addr, count := range shard {
			visited[addr] += count
		}
	}

	requireT.Len(visited, int((regionASize+regionBSize)/16))
	for base, size := range map[uint64]uint64{regionABase: regionASize, regionBBase: regionBSize} {
		for offset := uint64(0); offset < size; offset += 16 {
			requireT.Equal(1, visited[base+offset])
		}
	}
}

func TestScanStrideValidation(t *testing.T) {
	requireT := require.New(t)
	store := prepStore(t, nil)
	predicate := func(*uint64, types.Addr[uint64], int) {}

	err := scan.Scan[uint64](testCtx(t), store, predicate, scan.Options{Stride: 0})
	requireT.EqualError(err, "scan: stride must be a power of 2")

	err = scan.Scan[uint64](testCtx(t), store, predicate, scan.Options{Stride: 3})
	requireT.EqualError(err, "scan: stride must be a power of 2")

	err = scan.Scan[uint64](testCtx(t), store, predicate, scan.Options{Stride: 0x2000})
	requireT.EqualError(err, "scan: stride must not exceed the block size")
}

func TestScanFindsNeedle(t *testing.T) {
	requireT := require.New(t)
	const needle = uint64(0xfeedfacecafebeef)
	store := prepStore(t, func(regionA, regionB []byte) {
		binary.LittleEndian.PutUint64(regionA[0x238:], needle)
		binary.LittleEndian.PutUint64(regionB[0x1ff8:], needle)
	})

	var mu sync.Mutex
	var matches []uint64
	err := scan.Scan[uint64](testCtx(t), store, func(obj *uint64, addr types.Addr[uint64], _ int) {
		if *obj == needle {
			mu.Lock()
			matches = append(matches, addr.Uint64())
			mu.Unlock()
		}
	}, scan.Options{Stride: 8, NumThreads: 2})
	requireT.NoError(err)
	requireT.ElementsMatch([]uint64{regionABase + 0x238, regionBBase + 0x1ff8}, matches)
}

func TestScanObjectSizeClipsTail(t *testing.T) {
	requireT := require.New(t)
	store := prepStore(t, nil)

	var mu sync.Mutex
	var visited []uint64
	err := scan.Scan[uint64](testCtx(t), store, func(_ *uint64, addr types.Addr[uint64], _ int) {
		mu.Lock()
		visited = append(visited, addr.Uint64())
		mu.Unlock()
	}, scan.Options{Stride: 8, NumThreads: 1, ObjectSize: 0x1000})
	requireT.NoError(err)
	expected := []uint64{regionABase}
	for off := uint64(0); off <= regionBSize-0x1000; off += 8 {
		expected = append(expected, regionBBase+off)
	}
	requireT.ElementsMatch(expected, visited)
}

func TestScanCancelledContext(t *testing.T) {
	requireT := require.New(t)
	store := prepStore(t, nil)

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	cancel()

	err := scan.Scan[uint64](ctx, store, func(*uint64, types.Addr[uint64], int) {}, scan.Options{Stride: 8, NumThreads: 1})
	requireT.Error(err)
	requireT.True(errors.Is(err, context.Canceled))
}

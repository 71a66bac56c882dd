// Package scan implements the parallel address-space scanner: it visits
// every suitably aligned address across all of a snapshot's regions and
// invokes a caller-provided predicate, concurrently and safely.
package scan

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/outofforest/parallel"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// blockSize is the unit of work threads atomically claim, matching the
// analyzer's on-disk ABI assumption that object headers live on 8-byte
// boundaries within 4096-byte pages.
const blockSize = 0x1000

// ClearLineToEnd is the ANSI sequence appended after a carriage return so
// a progress line can be overwritten in place without leftover trailing
// characters from a longer previous line.
const ClearLineToEnd = "\x1b[K"

// Predicate is invoked once per candidate address. It must be safe to
// call concurrently; threadIndex is stable for the lifetime of the scan
// and lets shard-local accumulators avoid contention.
type Predicate[T any] func(obj *T, addr types.Addr[T], threadIndex int)

// Options configures a scan.
type Options struct {
	// Stride is the address spacing between candidates; must be a power
	// of two no greater than blockSize. Use 8 for pointer-aligned object
	// headers, 1 for byte-substring search.
	Stride uint64
	// NumThreads is the number of worker goroutines; 0 selects
	// runtime.GOMAXPROCS(0).
	NumThreads int
	// ObjectSize overrides sizeof(T) for the bounds check, used when a
	// scan decodes into a type smaller than the full object it's probing
	// for (e.g. scanning for uint64 needles with a different true object
	// size).
	ObjectSize uint64
	// Progress, if non-nil, receives periodic single-line progress
	// reports terminated by "\r" + ClearLineToEnd (never "\n"); the
	// caller is responsible for a final summary line.
	Progress ProgressWriter
}

// ProgressWriter receives periodic progress text. It must be safe to call
// from the scan's dedicated progress goroutine; query operations
// typically wrap a shared output mutex around the underlying io.Writer.
type ProgressWriter interface {
	WriteProgress(line string)
}

// Scan tiles the union of all regions into fixed-size blocks, hands each
// block to a pool of goroutines via an atomically-incremented cursor, and
// invokes predicate at every offset%stride==0 address that still leaves
// room for a full object before the end of its region.
func Scan[T any](ctx context.Context, store *snapshot.Store, predicate Predicate[T], opts Options) error {
	if opts.Stride == 0 || (opts.Stride&(opts.Stride-1)) != 0 {
		return errors.New("scan: stride must be a power of 2")
	}
	if opts.Stride > blockSize {
		return errors.New("scan: stride must not exceed the block size")
	}

	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.GOMAXPROCS(0)
	}

	var zero T
	objectSize := opts.ObjectSize
	if objectSize == 0 {
		objectSize = uint64(unsafe.Sizeof(zero))
	}

	regions := store.AllRegions()
	if len(regions) == 0 {
		return nil
	}

	// Each region is padded up to a whole number of blocks so that a
	// claimed block never straddles two regions and offsets within a
	// region always start at a stride-aligned block boundary.
	regionStartOffsets := make([]uint64, len(regions)+1)
	for i, r := range regions {
		padded := (r.Size + blockSize - 1) / blockSize * blockSize
		regionStartOffsets[i+1] = regionStartOffsets[i] + padded
	}
	totalBytes := regionStartOffsets[len(regions)]

	var cursor atomic.Uint64

	worker := func(threadIndex int) func(context.Context) error {
		return func(ctx context.Context) error {
			for {
				offset := cursor.Add(blockSize) - blockSize
				if offset >= totalBytes {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return errors.WithStack(err)
				}

				regionIndex := sort.Search(len(regions), func(i int) bool {
					return regionStartOffsets[i+1] > offset
				})
				regionStart := regionStartOffsets[regionIndex]
				regionEnd := regionStart + regions[regionIndex].Size
				if offset+objectSize > regionEnd {
					continue
				}

				offsetWithinRegion := offset - regionStart
				baseAddr := types.Cast[T](regions[regionIndex].Start).OffsetBytes(int64(offsetWithinRegion))

				for z := uint64(0); z < blockSize; z += opts.Stride {
					if offset+z+objectSize > regionEnd {
						break
					}
					addr := baseAddr.OffsetBytes(int64(z))
					obj, err := snapshot.Get[T](store, addr)
					if err != nil {
						continue
					}
					predicate(obj, addr, threadIndex)
				}
			}
		}
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i := 0; i < numThreads; i++ {
			spawn(fmt.Sprintf("scan-worker-%02d", i), parallel.Fail, worker(i))
		}
		if opts.Progress != nil {
			spawn("scan-progress", parallel.Continue, func(ctx context.Context) error {
				return reportProgress(ctx, &cursor, totalBytes, len(regions), opts.Progress)
			})
		}
		return nil
	})
}

func reportProgress(ctx context.Context, cursor *atomic.Uint64, total uint64, numRegions int, w ProgressWriter) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := cursor.Load()
			if current > total {
				current = total
			}
			pct := float64(0)
			if total > 0 {
				pct = float64(current) / float64(total) * 100
			}
			w.WriteProgress(fmt.Sprintf("... %s/%s scanned across %d regions (%.1f%%)\r%s",
				formatSize(current), formatSize(total), numRegions, pct, ClearLineToEnd))
			if current >= total {
				return nil
			}
		}
	}
}

func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

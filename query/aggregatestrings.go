package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/types"
)

// stringSizeBuckets are the histogram boundaries; a string of size s is
// counted in the first bucket b with s <= b. Sizes past the last
// boundary land in an overflow bucket.
var stringSizeBuckets = []uint64{
	0, 1, 2, 5, 10, 20, 50, 100, 200, 500,
	1000, 2000, 5000, 10000, 20000, 50000, 100000, 200000, 500000,
	1000000, 2000000, 5000000, 10000000, 20000000, 50000000, 100000000, 200000000, 500000000,
	1000000000,
}

func bucketIndex(size uint64) int {
	return sort.Search(len(stringSizeBuckets), func(i int) bool {
		return size <= stringSizeBuckets[i]
	})
}

func aggregateStringsCommand() Command {
	return Command{
		Name:         "aggregate-strings",
		Usage:        "aggregate-strings [--print-larger-than=N] [--print-smaller-than=N]",
		Summary:      "histogram of str/bytes payload sizes",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			printLarger, err := args.GetUint("print-larger-than", 0)
			if err != nil {
				return err
			}
			printSmaller, err := args.GetUint("print-smaller-than", 0)
			if err != nil {
				return err
			}
			emitRange := args.Has("print-larger-than") || args.Has("print-smaller-than")
			if !args.Has("print-smaller-than") {
				printSmaller = ^uint64(0)
			}

			strType, haveStr := sess.Env.GetType("str")
			bytesType, haveBytes := sess.Env.GetType("bytes")

			type hit struct {
				addr objects.ObjAddr
				size uint64
			}
			numThreads := sess.threads()
			histograms := make([][]uint64, numThreads)
			for i := range histograms {
				histograms[i] = make([]uint64, len(stringSizeBuckets)+1)
			}
			hitShards := make([][]hit, numThreads)

			err = scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				var size uint64
				var ok bool
				switch {
				case haveStr && obj.TypeAddr == strType:
					s := objects.Str{Addr: types.Cast[objects.RawStr](addr)}
					size, ok = s.DataSize(sess.Env)
				case haveBytes && obj.TypeAddr == bytesType:
					b := objects.Bytes{Addr: types.Cast[objects.RawBytes](addr)}
					if b.InvalidReason(sess.Env) != "" {
						return
					}
					size, ok = b.DataSize(sess.Env)
				default:
					return
				}
				if !ok {
					return
				}
				histograms[threadIndex][bucketIndex(size)]++
				if emitRange && size >= printLarger && size < printSmaller {
					hitShards[threadIndex] = append(hitShards[threadIndex], hit{addr: addr, size: size})
				}
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			total := make([]uint64, len(stringSizeBuckets)+1)
			for _, h := range histograms {
				for i, n := range h {
					total[i] += n
				}
			}

			for i, n := range total {
				if n == 0 {
					continue
				}
				if i < len(stringSizeBuckets) {
					sess.Printf("(%d strings) size <= %s\n", n, formatCount(stringSizeBuckets[i]))
				} else {
					sess.Printf("(%d strings) size > %s\n", n, formatCount(stringSizeBuckets[len(stringSizeBuckets)-1]))
				}
			}

			if emitRange {
				var hits []hit
				for _, shard := range hitShards {
					hits = append(hits, shard...)
				}
				sort.Slice(hits, func(i, j int) bool {
					if hits[i].size != hits[j].size {
						return hits[i].size > hits[j].size
					}
					return hits[i].addr < hits[j].addr
				})
				for _, h := range hits {
					sess.Printf("%s: %d bytes\n", h.addr, h.size)
				}
			}
			return nil
		},
	}
}

func formatCount(n uint64) string {
	switch {
	case n >= 1000000000 && n%1000000000 == 0:
		return fmt.Sprintf("%dG", n/1000000000)
	case n >= 1000000 && n%1000000 == 0:
		return fmt.Sprintf("%dM", n/1000000)
	case n >= 1000 && n%1000 == 0:
		return fmt.Sprintf("%dk", n/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

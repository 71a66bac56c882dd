package query

import (
	"context"
	"sort"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/types"
)

func countByTypeCommand() Command {
	return Command{
		Name:         "count-by-type",
		Usage:        "count-by-type",
		Summary:      "census of object counts per cataloged type",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			known := map[types.Addr[objects.RawType]]string{}
			for _, entry := range sess.Env.AllTypes() {
				known[entry.Addr] = entry.Name
			}

			numThreads := sess.threads()
			shards := make([]map[types.Addr[objects.RawType]]uint64, numThreads)
			for i := range shards {
				shards[i] = map[types.Addr[objects.RawType]]uint64{}
			}

			err := scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				if obj.RefCount <= 0 {
					return
				}
				if _, ok := known[obj.TypeAddr]; !ok {
					return
				}
				shards[threadIndex][obj.TypeAddr]++
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			counts := map[types.Addr[objects.RawType]]uint64{}
			for _, shard := range shards {
				for typeAddr, n := range shard {
					counts[typeAddr] += n
				}
			}

			type row struct {
				typeAddr types.Addr[objects.RawType]
				count    uint64
			}
			rows := make([]row, 0, len(counts))
			for typeAddr, n := range counts {
				rows = append(rows, row{typeAddr: typeAddr, count: n})
			}
			sort.Slice(rows, func(i, j int) bool {
				if rows[i].count != rows[j].count {
					return rows[i].count < rows[j].count
				}
				return rows[i].typeAddr < rows[j].typeAddr
			})

			for _, r := range rows {
				sess.Printf("(%d objects) %s @ %s\n", r.count, known[r.typeAddr], r.typeAddr)
			}
			return nil
		},
	}
}

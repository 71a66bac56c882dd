package query

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/types"
)

func findModuleCommand() Command {
	return Command{
		Name:         "find-module",
		Usage:        "find-module NAME",
		Summary:      "locate module objects by their __name__",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			wanted, ok := args.Positional(0)
			if !ok {
				return errors.New("usage: find-module NAME")
			}
			moduleType, ok := sess.Env.GetType("module")
			if !ok {
				return errors.New("module type not in catalog")
			}

			numThreads := sess.threads()
			shards := make([][]types.Addr[objects.RawModule], numThreads)

			err := scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				if obj.TypeAddr != moduleType {
					return
				}
				mod := objects.Module{Addr: types.Cast[objects.RawModule](addr)}
				if mod.InvalidReason(sess.Env) != "" {
					return
				}
				if name, ok := mod.Name(sess.Env); !ok || name != wanted {
					return
				}
				shards[threadIndex] = append(shards[threadIndex], mod.Addr)
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			hits := mergeAddrShards(shards)
			for _, addr := range hits {
				sess.Printf("<module %s> @ %s\n", wanted, addr)
			}
			if len(hits) == 0 {
				sess.Printf("module %q not found\n", wanted)
			}
			return nil
		},
	}
}

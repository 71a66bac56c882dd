package query

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/types"
)

func findReferencesCommand() Command {
	return Command{
		Name:         "find-references",
		Usage:        "find-references ADDR [repr flags]",
		Summary:      "list objects that directly point at an address",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			targetArg, ok := args.Positional(0)
			if !ok {
				return errors.New("usage: find-references ADDR")
			}
			raw, err := parseAddr(targetArg)
			if err != nil {
				return err
			}
			target := objects.ObjAddr(raw)
			opts, err := reprOptions(args)
			if err != nil {
				return err
			}

			known := map[types.Addr[objects.RawType]]struct{}{}
			for _, entry := range sess.Env.AllTypes() {
				known[entry.Addr] = struct{}{}
			}

			numThreads := sess.threads()
			shards := make([][]objects.ObjAddr, numThreads)

			err = scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				if obj.RefCount <= 0 {
					return
				}
				if _, ok := known[obj.TypeAddr]; !ok {
					return
				}
				for _, ref := range objects.Decode(sess.Env, addr).DirectReferents(sess.Env) {
					if ref == target {
						shards[threadIndex] = append(shards[threadIndex], addr)
						return
					}
				}
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			emitted := 0
			for _, addr := range mergeAddrShards(shards) {
				if emitRepr(sess, addr, opts, true) {
					emitted++
				}
			}
			sess.Printf("%d references to %s\n", emitted, target)
			return nil
		},
	}
}

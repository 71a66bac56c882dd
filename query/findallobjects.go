package query

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
)

func findAllObjectsCommand() Command {
	return Command{
		Name:         "find-all-objects",
		Usage:        "find-all-objects TYPE [--count] [repr flags]",
		Summary:      "list every valid object of one type",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			selector, ok := args.Positional(0)
			if !ok {
				return errors.New("usage: find-all-objects TYPE")
			}
			target, name, err := resolveTypeArg(sess, selector)
			if err != nil {
				return err
			}
			opts, err := reprOptions(args)
			if err != nil {
				return err
			}

			numThreads := sess.threads()
			shards := make([][]objects.ObjAddr, numThreads)

			err = scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				if obj.TypeAddr != target {
					return
				}
				if sess.Env.InvalidReason(addr, target) != "" {
					return
				}
				shards[threadIndex] = append(shards[threadIndex], addr)
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			hits := mergeAddrShards(shards)
			if args.Has("count") {
				sess.Printf("(%d objects) %s @ %s\n", len(hits), name, target)
				return nil
			}
			for _, addr := range hits {
				emitRepr(sess, addr, opts, false)
			}
			return nil
		},
	}
}

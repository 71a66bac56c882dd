package query

import (
	"context"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

func findAllThreadsCommand() Command {
	return Command{
		Name:         "find-all-threads",
		Usage:        "find-all-threads",
		Summary:      "scan for interpreter thread states and print their stacks",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			numThreads := sess.threads()
			shards := make([][]types.Addr[objects.RawThreadState], numThreads)

			err := scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawThreadState, addr types.Addr[objects.RawThreadState], threadIndex int) {
				ts := objects.ThreadState{Addr: addr}
				if ts.InvalidReason(sess.Env) != "" {
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
			opts := traversal.DefaultOptions()
			opts.Short = true
			for _, addr := range hits {
				ts := objects.ThreadState{Addr: addr}
				raw, err := snapshot.Get(sess.Env.Store(), addr)
				if err != nil {
					continue
				}
				sess.Printf("thread state @ %s id=%d\n", addr, raw.ThreadID)
				frame, ok := ts.TopFrame(sess.Env)
				for ok {
					ret, _ := traversal.Repr(sess.Env, types.Cast[objects.RawObject](frame.Addr), opts)
					sess.Printf("  %s\n", ret)
					frame, ok = frame.Back(sess.Env)
				}
			}
			sess.Printf("%d thread states found\n", len(hits))
			return nil
		},
	}
}

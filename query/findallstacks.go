package query

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/mass"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

// stackEdge records one frame and its f_back link, collected during the
// frame scan.
type stackEdge struct {
	Frame types.Addr[objects.RawFrame]
	Back  types.Addr[objects.RawFrame]
}

func findAllStacksCommand() Command {
	return Command{
		Name:         "find-all-stacks",
		Usage:        "find-all-stacks [--include-runnable]",
		Summary:      "reconstruct call stacks from executing frames",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			frameType, ok := sess.Env.GetType("frame")
			if !ok {
				return errors.New("frame type not in catalog")
			}
			includeRunnable := args.Has("include-runnable")

			numThreads := sess.threads()
			shards := make([][]*stackEdge, numThreads)
			pools := make([]*mass.Mass[stackEdge], numThreads)
			for i := range pools {
				pools[i] = mass.New[stackEdge](1024)
			}

			err := scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				if obj.TypeAddr != frameType {
					return
				}
				frame := objects.Frame{Addr: types.Cast[objects.RawFrame](addr)}
				if includeRunnable {
					if !frame.IsRunnableOrRunning(sess.Env) {
						return
					}
				} else if !frame.IsExecuting(sess.Env) {
					return
				}
				if frame.InvalidReason(sess.Env) != "" {
					return
				}
				back, _ := frame.Back(sess.Env)
				edge := pools[threadIndex].New()
				edge.Frame = frame.Addr
				edge.Back = back.Addr
				shards[threadIndex] = append(shards[threadIndex], edge)
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			backOf := map[types.Addr[objects.RawFrame]]types.Addr[objects.RawFrame]{}
			isBack := map[types.Addr[objects.RawFrame]]struct{}{}
			for _, shard := range shards {
				for _, edge := range shard {
					backOf[edge.Frame] = edge.Back
					if !edge.Back.IsNull() {
						isBack[edge.Back] = struct{}{}
					}
				}
			}

			var roots []types.Addr[objects.RawFrame]
			for frame := range backOf {
				if _, ok := isBack[frame]; !ok {
					roots = append(roots, frame)
				}
			}
			sort.Slice(roots, func(i, j int) bool {
				return roots[i].Uint64() < roots[j].Uint64()
			})

			opts := traversal.DefaultOptions()
			opts.Short = true
			opts.FrameOmitBack = true
			for _, root := range roots {
				sess.Printf("stack rooted at %s:\n", root)
				current := root
				for {
					ret, _ := traversal.Repr(sess.Env, types.Cast[objects.RawObject](current), opts)
					sess.Printf("  %s\n", ret)
					back := backOf[current]
					if back.IsNull() {
						break
					}
					if _, ok := backOf[back]; !ok {
						sess.Errorf("warning: frame %s links to %s outside the collected set; stopping this chain\n", current, back)
						break
					}
					current = back
				}
			}
			sess.Printf("%d stacks from %d frames\n", len(roots), len(backOf))
			return nil
		},
	}
}

package query

import (
	"context"
	"sort"
	"strings"

	"github.com/outofforest/mass"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

// awaitNode is one vertex of the await graph: a task, a gathering
// future, or a plain future.
type awaitNode struct {
	Addr objects.ObjAddr
	Kind string
}

func asyncTaskGraphCommand() Command {
	return Command{
		Name:         "async-task-graph",
		Usage:        "async-task-graph",
		Summary:      "render who-awaits-whom trees; cycles surface as <!seen> leaves",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			taskType, haveTask := sess.Env.GetType("_asyncio.Task")
			futureType, haveFuture := sess.Env.GetType("_asyncio.Future")
			gatherType, haveGather := sess.Env.GetType("_GatheringFuture")

			numThreads := sess.threads()
			shards := make([][]*awaitNode, numThreads)
			pools := make([]*mass.Mass[awaitNode], numThreads)
			for i := range pools {
				pools[i] = mass.New[awaitNode](1024)
			}

			err := scan.Scan(ctx, sess.Env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
				var kind string
				switch {
				case haveTask && obj.TypeAddr == taskType:
					if (objects.Task{Addr: types.Cast[objects.RawTask](addr)}).InvalidReason(sess.Env) != "" {
						return
					}
					kind = "task"
				case haveGather && obj.TypeAddr == gatherType:
					if (objects.GatheringFuture{Addr: types.Cast[objects.RawGatheringFuture](addr)}).InvalidReason(sess.Env) != "" {
						return
					}
					kind = "gather"
				case haveFuture && obj.TypeAddr == futureType:
					if (objects.Future{Addr: types.Cast[objects.RawFuture](addr)}).InvalidReason(sess.Env) != "" {
						return
					}
					kind = "future"
				default:
					return
				}
				node := pools[threadIndex].New()
				node.Addr = addr
				node.Kind = kind
				shards[threadIndex] = append(shards[threadIndex], node)
			}, scan.Options{
				Stride:     8,
				NumThreads: numThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}

			nodes := map[objects.ObjAddr]*awaitNode{}
			for _, shard := range shards {
				for _, node := range shard {
					nodes[node.Addr] = node
				}
			}

			awaits := func(node *awaitNode) []objects.ObjAddr {
				switch node.Kind {
				case "task":
					task := objects.Task{Addr: types.Cast[objects.RawTask](node.Addr)}
					if waiter, ok := task.AwaitedFuture(sess.Env); ok {
						return []objects.ObjAddr{waiter}
					}
				case "gather":
					gather := objects.GatheringFuture{Addr: types.Cast[objects.RawGatheringFuture](node.Addr)}
					if children, ok := gather.Children(sess.Env); ok {
						return children
					}
				}
				return nil
			}

			hasIncoming := map[objects.ObjAddr]struct{}{}
			for _, node := range nodes {
				for _, target := range awaits(node) {
					hasIncoming[target] = struct{}{}
				}
			}

			var roots []objects.ObjAddr
			for addr := range nodes {
				if _, ok := hasIncoming[addr]; !ok {
					roots = append(roots, addr)
				}
			}
			sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

			opts := traversal.DefaultOptions()
			opts.Short = true
			opts.MaxDepth = 1

			visited := map[objects.ObjAddr]struct{}{}
			var walk func(addr objects.ObjAddr, depth int, seen map[objects.ObjAddr]struct{})
			walk = func(addr objects.ObjAddr, depth int, seen map[objects.ObjAddr]struct{}) {
				indent := strings.Repeat("  ", depth)
				if _, ok := seen[addr]; ok {
					sess.Printf("%s<!seen>@%s\n", indent, addr)
					return
				}
				seen[addr] = struct{}{}
				visited[addr] = struct{}{}
				ret, _ := traversal.Repr(sess.Env, addr, opts)
				sess.Printf("%s%s\n", indent, ret)
				if node, ok := nodes[addr]; ok {
					for _, target := range awaits(node) {
						walk(target, depth+1, seen)
					}
				}
			}

			for _, root := range roots {
				walk(root, 0, map[objects.ObjAddr]struct{}{})
			}

			// A pure await cycle has no incoming-edge-free vertex; start a
			// tree at its lowest address so it still renders.
			var remaining []objects.ObjAddr
			for addr := range nodes {
				if _, ok := visited[addr]; !ok {
					remaining = append(remaining, addr)
				}
			}
			sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
			for _, addr := range remaining {
				if _, ok := visited[addr]; ok {
					continue
				}
				walk(addr, 0, map[objects.ObjAddr]struct{}{})
			}

			sess.Printf("%d await-graph nodes, %d roots\n", len(nodes), len(roots))
			return nil
		},
	}
}

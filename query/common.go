package query

import (
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/traversal"
	"github.com/nielstron/python-memtools/types"
)

func (s *Session) threads() int {
	if s.NumThreads > 0 {
		return s.NumThreads
	}
	return runtime.GOMAXPROCS(0)
}

// resolveTypeArg resolves a user-supplied type selector: a catalog name
// first, a hex address otherwise.
func resolveTypeArg(sess *Session, arg string) (types.Addr[objects.RawType], string, error) {
	if addr, ok := sess.Env.GetType(arg); ok {
		return addr, arg, nil
	}
	raw, err := parseAddr(arg)
	if err != nil {
		return 0, "", errors.Errorf("no such type: %q", arg)
	}
	addr := types.Addr[objects.RawType](raw)
	name, ok := sess.Env.TypeName(addr)
	if !ok {
		return 0, "", errors.Errorf("address %016X is not a cataloged type", raw)
	}
	return addr, name, nil
}

// reprOptions builds traversal options from the shared formatting flags.
func reprOptions(args *Arguments) (traversal.Options, error) {
	opts := traversal.DefaultOptions()
	depth, err := args.GetUint("depth", uint64(opts.MaxDepth))
	if err != nil {
		return opts, err
	}
	opts.MaxDepth = int(depth)
	if args.Has("max-entries") {
		n, err := args.GetUint("max-entries", 0)
		if err != nil {
			return opts, err
		}
		opts.MaxEntries = int(n)
	}
	if args.Has("max-string-bytes") {
		n, err := args.GetUint("max-string-bytes", 0)
		if err != nil {
			return opts, err
		}
		opts.MaxStringBytes = int(n)
	}
	opts.BytesAsHex = args.Has("hex")
	opts.Short = args.Has("short")
	opts.ShowAllAddresses = args.Has("all-addresses")
	return opts, nil
}

// mergeAddrShards flattens per-thread hit lists into one sorted slice.
func mergeAddrShards[T any](shards [][]types.Addr[T]) []types.Addr[T] {
	merged := lo.Flatten(shards)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Uint64() < merged[j].Uint64()
	})
	return merged
}

// emitRepr renders addr and prints one "ADDR: repr" line. When
// skipInvalid is set, lines whose rendering touched an invalid object
// are suppressed and false is returned.
func emitRepr(sess *Session, addr objects.ObjAddr, opts traversal.Options, skipInvalid bool) bool {
	ret, valid := traversal.Repr(sess.Env, addr, opts)
	if skipInvalid && !valid {
		return false
	}
	sess.Printf("%s: %s\n", addr, ret)
	return true
}

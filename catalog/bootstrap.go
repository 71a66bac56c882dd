package catalog

import (
	"context"
	"runtime"
	"sort"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/types"
)

// BootstrapOptions configures the discovery scans.
type BootstrapOptions struct {
	// NumThreads is passed through to the scanner; 0 selects
	// runtime.GOMAXPROCS(0).
	NumThreads int
	// Progress, if non-nil, receives scan progress lines.
	Progress scan.ProgressWriter
}

func (o BootstrapOptions) threads() int {
	if o.NumThreads > 0 {
		return o.NumThreads
	}
	return runtime.GOMAXPROCS(0)
}

// FindBaseType scans the whole snapshot for the base metatype: the type
// object that is its own type and whose tp_name reads "type". All
// matches are returned sorted by address; a healthy snapshot has exactly
// one.
func FindBaseType(ctx context.Context, env *Environment, opts BootstrapOptions) ([]types.Addr[objects.RawType], error) {
	numThreads := opts.threads()
	shards := make([][]types.Addr[objects.RawType], numThreads)

	err := scan.Scan(ctx, env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
		if obj.TypeAddr.Uint64() != addr.Uint64() || obj.RefCount <= 0 {
			return
		}
		typeAddr := types.Cast[objects.RawType](addr)
		ty := objects.Type{Addr: typeAddr}
		name, ok := ty.Name(env.Store())
		if !ok || name != "type" {
			return
		}
		if ty.InvalidReason(env) != "" {
			return
		}
		shards[threadIndex] = append(shards[threadIndex], typeAddr)
	}, scan.Options{
		Stride:     8,
		NumThreads: numThreads,
		Progress:   opts.Progress,
	})
	if err != nil {
		return nil, errors.Wrap(err, "base type scan failed")
	}

	var found []types.Addr[objects.RawType]
	for _, shard := range shards {
		found = append(found, shard...)
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].Uint64() < found[j].Uint64()
	})
	return found, nil
}

// FindAllTypes scans for every object whose type is the base metatype
// and catalogs it under its tp_name. Returns how many types were found.
// The base type must already be set.
func FindAllTypes(ctx context.Context, env *Environment, opts BootstrapOptions) (int, error) {
	base := env.BaseType()
	if base.IsNull() {
		return 0, errors.New("base type not bootstrapped")
	}

	numThreads := opts.threads()
	shards := make([][]Entry, numThreads)

	err := scan.Scan(ctx, env.Store(), func(obj *objects.RawObject, addr objects.ObjAddr, threadIndex int) {
		if obj.TypeAddr != base || obj.RefCount <= 0 {
			return
		}
		typeAddr := types.Cast[objects.RawType](addr)
		ty := objects.Type{Addr: typeAddr}
		name, ok := ty.Name(env.Store())
		if !ok {
			return
		}
		if ty.InvalidReason(env) != "" {
			return
		}
		shards[threadIndex] = append(shards[threadIndex], Entry{Name: name, Addr: typeAddr})
	}, scan.Options{
		Stride:     8,
		NumThreads: numThreads,
		Progress:   opts.Progress,
	})
	if err != nil {
		return 0, errors.Wrap(err, "type scan failed")
	}

	var found []Entry
	for _, shard := range shards {
		found = append(found, shard...)
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].Addr.Uint64() < found[j].Addr.Uint64()
	})
	for _, entry := range found {
		env.AddType(entry.Name, entry.Addr)
	}
	return len(found), nil
}

// Bootstrap populates the catalog: from the persisted file next to the
// snapshot when one exists, otherwise by running both discovery scans
// and persisting the result. A catalog file that fails verification is
// returned as an error; no rediscovery is attempted. Returns true when
// the catalog was loaded from disk.
func Bootstrap(ctx context.Context, env *Environment, opts BootstrapOptions) (bool, error) {
	loaded, err := Load(env)
	if err != nil {
		return false, err
	}
	if loaded {
		return true, nil
	}

	bases, err := FindBaseType(ctx, env, opts)
	if err != nil {
		return false, err
	}
	if len(bases) == 0 {
		return false, errors.New("no base type found in snapshot")
	}
	if len(bases) != 1 {
		return false, errors.Errorf("expected exactly one base type in snapshot, found %d", len(bases))
	}
	env.SetBaseType(bases[0])

	if _, err := FindAllTypes(ctx, env, opts); err != nil {
		return false, err
	}
	if err := Save(env); err != nil {
		return false, err
	}
	return false, nil
}

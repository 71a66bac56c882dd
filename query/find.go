package query

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/scan"
	"github.com/nielstron/python-memtools/types"
)

func findCommand() Command {
	return Command{
		Name:    "find",
		Usage:   "find DATA [--ptr] [--bswap] [--align=N] [--count]",
		Summary: "raw byte search across all regions",
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			dataArg, ok := args.Positional(0)
			if !ok {
				return errors.New("usage: find DATA")
			}

			var needle []byte
			if args.Has("ptr") {
				value, err := parseAddr(dataArg)
				if err != nil {
					return err
				}
				needle = binary.LittleEndian.AppendUint64(nil, value)
			} else {
				decoded, err := hex.DecodeString(dataArg)
				if err != nil {
					return errors.Errorf("not a hex byte string: %q", dataArg)
				}
				needle = decoded
			}
			if len(needle) == 0 {
				return errors.New("empty search data")
			}
			if args.Has("bswap") {
				for i, j := 0, len(needle)-1; i < j; i, j = i+1, j-1 {
					needle[i], needle[j] = needle[j], needle[i]
				}
			}

			defaultAlign := uint64(1)
			if args.Has("ptr") {
				defaultAlign = 8
			}
			align, err := args.GetUint("align", defaultAlign)
			if err != nil {
				return err
			}
			if align == 0 || align&(align-1) != 0 {
				return errors.New("--align must be a power of 2")
			}

			numThreads := sess.threads()
			shards := make([][]types.Addr[byte], numThreads)
			store := sess.Env.Store()

			if len(needle) == 8 && align == 8 {
				want := binary.LittleEndian.Uint64(needle)
				err = scan.Scan(ctx, store, func(obj *uint64, addr types.Addr[uint64], threadIndex int) {
					if *obj == want {
						shards[threadIndex] = append(shards[threadIndex], types.Cast[byte](addr))
					}
				}, scan.Options{
					Stride:     8,
					NumThreads: numThreads,
					Progress:   sess,
				})
			} else {
				err = scan.Scan(ctx, store, func(obj *byte, addr types.Addr[byte], threadIndex int) {
					data, readErr := store.Read(addr, uint64(len(needle)))
					if readErr != nil || !bytes.Equal(data, needle) {
						return
					}
					shards[threadIndex] = append(shards[threadIndex], addr)
				}, scan.Options{
					Stride:     align,
					NumThreads: numThreads,
					ObjectSize: uint64(len(needle)),
					Progress:   sess,
				})
			}
			if err != nil {
				return err
			}

			hits := mergeAddrShards(shards)
			if args.Has("count") {
				sess.Printf("%d matches\n", len(hits))
				return nil
			}
			for _, addr := range hits {
				sess.Printf("%s\n", addr)
			}
			return nil
		},
	}
}

package query

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/types"
)

func contextCommand() Command {
	return Command{
		Name:    "context",
		Usage:   "context ADDR [--size=N]",
		Summary: "hex dump around an address, clipped to its region",
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			addrArg, ok := args.Positional(0)
			if !ok {
				return errors.New("usage: context ADDR")
			}
			center, err := parseAddr(addrArg)
			if err != nil {
				return err
			}
			size, err := args.GetUint("size", 0x80)
			if err != nil {
				return err
			}

			store := sess.Env.Store()
			region, err := store.RegionForAddress(types.Addr[byte](center))
			if err != nil {
				return errors.Errorf("address %016X is not in any region", center)
			}

			var start uint64
			if center > size {
				start = center - size
			}
			if start < region.Start.Uint64() {
				start = region.Start.Uint64()
			}
			end := center + size
			if end > region.End().Uint64() {
				end = region.End().Uint64()
			}

			data, err := store.Read(types.Addr[byte](start), end-start)
			if err != nil {
				return errors.WithStack(err)
			}

			for lineStart := start &^ 0xf; lineStart < end; lineStart += 16 {
				var hexCol, asciiCol strings.Builder
				for i := uint64(0); i < 16; i++ {
					addr := lineStart + i
					if addr < start || addr >= end {
						hexCol.WriteString("   ")
						asciiCol.WriteByte(' ')
						continue
					}
					c := data[addr-start]
					hexDigits := "0123456789ABCDEF"
					hexCol.WriteByte(hexDigits[c>>4])
					hexCol.WriteByte(hexDigits[c&0xf])
					hexCol.WriteByte(' ')
					if c >= 0x20 && c <= 0x7e {
						asciiCol.WriteByte(c)
					} else {
						asciiCol.WriteByte('.')
					}
				}
				marker := " "
				if lineStart <= center && center < lineStart+16 {
					marker = "*"
				}
				sess.Printf("%s%016X  %s |%s|\n", marker, lineStart, hexCol.String(), asciiCol.String())
			}
			return nil
		},
	}
}

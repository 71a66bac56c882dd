package query

import (
	"context"
)

func regionsCommand() Command {
	return Command{
		Name:    "regions",
		Usage:   "regions",
		Summary: "list all snapshot regions",
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			store := sess.Env.Store()
			for _, r := range store.AllRegions() {
				sess.Printf("%s-%s (%d bytes)\n", r.Start, r.End(), r.Size)
			}
			sess.Printf("%d regions, %d bytes total\n", store.RegionCount(), store.TotalBytes())
			return nil
		},
	}
}

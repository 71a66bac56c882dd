package query

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/objects"
	"github.com/nielstron/python-memtools/traversal"
)

func reprCommand() Command {
	return Command{
		Name:         "repr",
		Usage:        "repr ADDR [--depth=N] [--max-entries=N] [--max-string-bytes=N] [--hex] [--short] [--all-addresses]",
		Summary:      "render one object graph",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			addrArg, ok := args.Positional(0)
			if !ok {
				return errors.New("usage: repr ADDR")
			}
			raw, err := parseAddr(addrArg)
			if err != nil {
				return err
			}
			opts, err := reprOptions(args)
			if err != nil {
				return err
			}
			ret, _ := traversal.Repr(sess.Env, objects.ObjAddr(raw), opts)
			sess.Printf("%s\n", ret)
			return nil
		},
	}
}

package query

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nielstron/python-memtools/catalog"
)

func showAnalysisDataCommand() Command {
	return Command{
		Name:         "show-analysis-data",
		Usage:        "show-analysis-data",
		Summary:      "dump the type catalog",
		NeedsCatalog: true,
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			sess.Printf("base type: %s\n", sess.Env.BaseType())
			for _, entry := range sess.Env.AllTypes() {
				sess.Printf("  %s @ %s\n", entry.Name, entry.Addr)
			}
			return nil
		},
	}
}

func findBaseTypeCommand() Command {
	return Command{
		Name:    "find-base-type",
		Usage:   "find-base-type",
		Summary: "scan for the self-typed base metatype",
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			found, err := catalog.FindBaseType(ctx, sess.Env, catalog.BootstrapOptions{
				NumThreads: sess.NumThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}
			for _, addr := range found {
				sess.Printf("base type candidate @ %s\n", addr)
			}
			if len(found) != 1 {
				return errors.Errorf("expected exactly one base type candidate, found %d; catalog unchanged", len(found))
			}
			sess.Env.SetBaseType(found[0])
			sess.Printf("base type set to %s\n", found[0])
			return catalog.Save(sess.Env)
		},
	}
}

func findAllTypesCommand() Command {
	return Command{
		Name:    "find-all-types",
		Usage:   "find-all-types",
		Summary: "scan for every type instance under the base metatype",
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			if sess.Env.BaseType().IsNull() {
				return errors.New("run find-base-type first")
			}
			count, err := catalog.FindAllTypes(ctx, sess.Env, catalog.BootstrapOptions{
				NumThreads: sess.NumThreads,
				Progress:   sess,
			})
			if err != nil {
				return err
			}
			sess.Printf("found %d types (%d cataloged)\n", count, sess.Env.TypeCount())
			return catalog.Save(sess.Env)
		},
	}
}

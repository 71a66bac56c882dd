package query

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/logger"

	"github.com/nielstron/python-memtools/catalog"
)

// Command is one registered query operation.
type Command struct {
	Name    string
	Usage   string
	Summary string
	// NeedsCatalog marks commands that dispatch triggers an automatic
	// catalog bootstrap for when the catalog is still empty.
	NeedsCatalog bool
	Run          func(ctx context.Context, sess *Session, args *Arguments) error
}

// Registry maps command names to commands. It is built explicitly at
// session start; nothing registers itself from package init.
type Registry struct {
	commands map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: map[string]Command{}}
}

// Register adds cmd, replacing any previous command of the same name.
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name] = cmd
}

// Lookup returns the named command.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// All returns every command sorted by name.
func (r *Registry) All() []Command {
	names := lo.Keys(r.commands)
	sort.Strings(names)
	return lo.Map(names, func(name string, _ int) Command {
		return r.commands[name]
	})
}

// DefaultRegistry builds the registry with every query this analyzer
// implements.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(helpCommand(r))
	r.Register(regionsCommand())
	r.Register(showAnalysisDataCommand())
	r.Register(findBaseTypeCommand())
	r.Register(findAllTypesCommand())
	r.Register(countByTypeCommand())
	r.Register(findAllObjectsCommand())
	r.Register(findReferencesCommand())
	r.Register(findModuleCommand())
	r.Register(findAllThreadsCommand())
	r.Register(findAllStacksCommand())
	r.Register(aggregateStringsCommand())
	r.Register(asyncTaskGraphCommand())
	r.Register(contextCommand())
	r.Register(reprCommand())
	r.Register(findCommand())
	return r
}

// Dispatch parses line into a command name and arguments, bootstraps the
// catalog first if the command needs one and none is loaded, and runs
// the command. Errors are returned to the shell; they never poison the
// session for later dispatches.
func Dispatch(ctx context.Context, reg *Registry, sess *Session, line string) error {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := reg.Lookup(tokens[0])
	if !ok {
		return errors.Errorf("unknown command %q (try \"help\")", tokens[0])
	}
	args := ParseArguments(tokens[1:])

	if cmd.NeedsCatalog && !sess.Env.Bootstrapped() {
		logger.Get(ctx).Info("catalog empty, bootstrapping",
			zap.String("snapshot", sess.Env.DataPath()))
		loaded, err := catalog.Bootstrap(ctx, sess.Env, catalog.BootstrapOptions{
			NumThreads: sess.NumThreads,
			Progress:   sess,
		})
		if err != nil {
			return err
		}
		if loaded {
			sess.Errorf("loaded %d types from catalog file\n", sess.Env.TypeCount())
		} else {
			sess.Errorf("discovered %d types; catalog saved\n", sess.Env.TypeCount())
		}
	}

	return cmd.Run(ctx, sess, args)
}

func helpCommand(reg *Registry) Command {
	return Command{
		Name:    "help",
		Usage:   "help",
		Summary: "list available commands",
		Run: func(ctx context.Context, sess *Session, args *Arguments) error {
			for _, cmd := range reg.All() {
				sess.Printf("  %-60s %s\n", cmd.Usage, cmd.Summary)
			}
			return nil
		},
	}
}

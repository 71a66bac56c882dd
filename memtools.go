// Package memtools ties the analyzer together: it opens a snapshot,
// binds the type catalog to it, and hands back a command session the
// interactive shell dispatches into.
package memtools

import (
	"context"
	"io"

	"github.com/nielstron/python-memtools/catalog"
	"github.com/nielstron/python-memtools/query"
	"github.com/nielstron/python-memtools/snapshot"
)

// Config stores analyzer configuration.
type Config struct {
	// DataPath is the snapshot location: a directory of region files or a
	// single framed file.
	DataPath string
	// NumThreads caps scan parallelism; 0 selects the hardware default.
	NumThreads int
	// Out receives query result lines, Err progress and diagnostics.
	Out io.Writer
	Err io.Writer
}

// Analyzer is one open snapshot plus everything needed to run queries
// against it.
type Analyzer struct {
	store    *snapshot.Store
	env      *catalog.Environment
	registry *query.Registry
	session  *query.Session
}

// New opens the snapshot at config.DataPath and builds a ready-to-use
// analyzer. The snapshot stays mapped until Close.
func New(config Config) (*Analyzer, error) {
	store, err := snapshot.Open(config.DataPath)
	if err != nil {
		return nil, err
	}

	env := catalog.NewEnvironment(store, config.DataPath)
	sess := query.NewSession(env, config.Out, config.Err)
	sess.NumThreads = config.NumThreads

	return &Analyzer{
		store:    store,
		env:      env,
		registry: query.DefaultRegistry(),
		session:  sess,
	}, nil
}

// Environment returns the catalog environment bound to the snapshot.
func (a *Analyzer) Environment() *catalog.Environment {
	return a.env
}

// Registry returns the command registry queries dispatch through.
func (a *Analyzer) Registry() *query.Registry {
	return a.registry
}

// Session returns the session query output streams through.
func (a *Analyzer) Session() *query.Session {
	return a.session
}

// Dispatch parses and runs one shell command line. Command errors are
// returned to the caller and leave the analyzer usable for further
// dispatches.
func (a *Analyzer) Dispatch(ctx context.Context, line string) error {
	return query.Dispatch(ctx, a.registry, a.session, line)
}

// Close unmaps the snapshot. The analyzer must not be used afterwards.
func (a *Analyzer) Close() error {
	return a.store.Close()
}

// Package traversal renders object graphs: it owns the recursion depth,
// the cycle guard, and the formatting options every decoder's Repr
// consults, and dispatches back into the object layer for each nested
// address it encounters.
package traversal

import (
	"github.com/nielstron/python-memtools/objects"
)

// Options are the formatting knobs for one repr traversal.
type Options struct {
	// MaxDepth caps container nesting; deeper containers render a
	// placeholder with their length.
	MaxDepth int
	// MaxEntries caps how many entries of one container render; < 0
	// means unlimited.
	MaxEntries int
	// MaxStringBytes caps how much character data str and bytes reprs
	// read; < 0 means unlimited.
	MaxStringBytes int
	// BytesAsHex forces bytes objects to render as hex even when fully
	// printable.
	BytesAsHex bool
	// Short requests single-token reprs from decoders that have a
	// compact form (frames).
	Short bool
	// FrameOmitBack suppresses the f_back chain in frame reprs, used by
	// stack walks that print each frame on its own line.
	FrameOmitBack bool
	// ShowAllAddresses appends @ADDRESS to leaf reprs.
	ShowAllAddresses bool
}

// DefaultOptions returns the options interactive queries start from.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       4,
		MaxEntries:     -1,
		MaxStringBytes: 1024,
	}
}

// Traversal is one in-progress repr rendering. It is not safe for
// concurrent use; queries that render from several goroutines create one
// per goroutine.
type Traversal struct {
	env     objects.Env
	opts    Options
	depth   int
	open    map[uint64]struct{}
	invalid bool
}

// New creates a traversal over env.
func New(env objects.Env, opts Options) *Traversal {
	return &Traversal{
		env:  env,
		opts: opts,
		open: map[uint64]struct{}{},
	}
}

// Repr renders the object graph rooted at addr. The second return value
// is false when any part of the rendering hit an invalid or unreadable
// object.
func Repr(env objects.Env, addr objects.ObjAddr, opts Options) (string, bool) {
	t := New(env, opts)
	ret := t.Repr(addr)
	return ret, !t.invalid
}

// Env implements objects.Ctx.
func (t *Traversal) Env() objects.Env {
	return t.env
}

// Repr implements objects.Ctx.
func (t *Traversal) Repr(addr objects.ObjAddr) string {
	if addr.IsNull() {
		return "<null>"
	}
	return objects.Decode(t.env, addr).Repr(t)
}

// RecursionAllowed implements objects.Ctx.
func (t *Traversal) RecursionAllowed() bool {
	return t.depth < t.opts.MaxDepth
}

// Depth implements objects.Ctx.
func (t *Traversal) Depth() int {
	return t.depth
}

// Enter implements objects.Ctx.
func (t *Traversal) Enter() func() {
	t.depth++
	return func() {
		t.depth--
	}
}

// CycleGuard implements objects.Ctx.
func (t *Traversal) CycleGuard(addr uint64) (func(), bool) {
	if _, open := t.open[addr]; open {
		return func() {}, true
	}
	t.open[addr] = struct{}{}
	return func() {
		delete(t.open, addr)
	}, false
}

// MaxEntries implements objects.Ctx.
func (t *Traversal) MaxEntries() int {
	return t.opts.MaxEntries
}

// MaxStringBytes implements objects.Ctx.
func (t *Traversal) MaxStringBytes() int {
	return t.opts.MaxStringBytes
}

// BytesAsHex implements objects.Ctx.
func (t *Traversal) BytesAsHex() bool {
	return t.opts.BytesAsHex
}

// IsShort implements objects.Ctx.
func (t *Traversal) IsShort() bool {
	return t.opts.Short
}

// FrameOmitBack implements objects.Ctx.
func (t *Traversal) FrameOmitBack() bool {
	return t.opts.FrameOmitBack
}

// ShowAllAddresses implements objects.Ctx.
func (t *Traversal) ShowAllAddresses() bool {
	return t.opts.ShowAllAddresses
}

// MarkInvalid implements objects.Ctx.
func (t *Traversal) MarkInvalid() {
	t.invalid = true
}

// SawInvalid reports whether any rendered object was invalid.
func (t *Traversal) SawInvalid() bool {
	return t.invalid
}

package objects

import (
	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// RawThreadState mirrors the interpreter's per-thread state record. It
// is not an object: no header, no refcount, so it can only be found by
// scanning for plausible field values.
type RawThreadState struct {
	Prev              types.Addr[RawThreadState]
	Next              types.Addr[RawThreadState]
	Interp            uint64
	Frame             types.Addr[RawFrame]
	RecursionDepth    int32
	RecursionHeadroom int32
	ThreadID          uint64
}

// ThreadState decodes a candidate thread-state record.
type ThreadState struct {
	Addr types.Addr[RawThreadState]
}

func (ts ThreadState) raw(env Env) (*RawThreadState, bool) {
	raw, err := snapshot.Get(env.Store(), ts.Addr)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// TopFrame returns the thread's innermost active frame.
func (ts ThreadState) TopFrame(env Env) (Frame, bool) {
	raw, ok := ts.raw(env)
	if !ok || raw.Frame.IsNull() {
		return Frame{}, false
	}
	return Frame{Addr: raw.Frame}, true
}

// InvalidReason reports whether the bytes at Addr plausibly form a
// thread state. Since there is no header to anchor on, the check leans
// on the frame pointer: it must reference a valid frame-typed object.
func (ts ThreadState) InvalidReason(env Env) string {
	raw, ok := ts.raw(env)
	if !ok {
		return "invalid_address"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Prev, 8) {
		return "invalid_prev"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Next, 8) {
		return "invalid_next"
	}
	if raw.Frame.IsNull() {
		return "no_frame"
	}
	if !snapshot.ObjValid(env.Store(), raw.Frame, 8) {
		return "invalid_frame"
	}
	frameType, ok := env.GetType("frame")
	if !ok {
		return "no_frame_type"
	}
	if env.InvalidReason(types.Cast[RawObject](raw.Frame), frameType) != "" {
		return "invalid_frame"
	}
	if raw.RecursionDepth < 0 {
		return "invalid_recursion_depth"
	}
	return ""
}

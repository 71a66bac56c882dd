package objects

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// Frame states, as stored in f_state.
const (
	FrameCreated   int8 = -2
	FrameSuspended int8 = -1
	FrameExecuting int8 = 0
	FrameReturned  int8 = 1
	FrameUnwinding int8 = 2
	FrameRaised    int8 = 3
	FrameCleared   int8 = 4
)

// frameStateName maps f_state to its display name.
func frameStateName(state int8) string {
	switch state {
	case FrameCreated:
		return "created"
	case FrameSuspended:
		return "suspended"
	case FrameExecuting:
		return "executing"
	case FrameReturned:
		return "returned"
	case FrameUnwinding:
		return "unwinding"
	case FrameRaised:
		return "raised"
	case FrameCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// TryBlock is one entry of the frame's block stack.
type TryBlock struct {
	Type    int32
	Handler int32
	Level   int32
}

// RawFrame mirrors the runtime's frame object. The f_localsplus array
// trails the fixed header; its length comes from the code object's
// co_varnames.
type RawFrame struct {
	RawVarObject
	FBack         types.Addr[RawFrame]
	FCode         types.Addr[RawCode]
	FBuiltins     ObjAddr
	FGlobals      types.Addr[RawDict]
	FLocals       ObjAddr
	FValueStack   types.Addr[ObjAddr]
	FTrace        ObjAddr
	FStackDepth   int32
	FTraceLines   int8
	FTraceOpcodes int8
	_             [2]byte
	FGen          ObjAddr
	FLasti        int32
	FLineno       int32
	FIBlock       int32
	FState        int8
	_             [3]byte
	FBlockStack   [20]TryBlock
}

// Frame decodes a runtime frame object.
type Frame struct {
	Addr types.Addr[RawFrame]
}

func (f Frame) raw(env Env) (*RawFrame, bool) {
	raw, err := snapshot.Get(env.Store(), f.Addr)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// localsAddr returns the snapshot address of the trailing f_localsplus
// array.
func (f Frame) localsAddr() types.Addr[ObjAddr] {
	return types.Cast[ObjAddr](f.Addr).OffsetBytes(int64(unsafe.Sizeof(RawFrame{})))
}

// Back returns f_back, or false if it is null.
func (f Frame) Back(env Env) (Frame, bool) {
	raw, ok := f.raw(env)
	if !ok || raw.FBack.IsNull() {
		return Frame{}, false
	}
	return Frame{Addr: raw.FBack}, true
}

// Code returns the frame's code object.
func (f Frame) Code(env Env) (Code, bool) {
	raw, ok := f.raw(env)
	if !ok || raw.FCode.IsNull() {
		return Code{}, false
	}
	return Code{Addr: raw.FCode}, true
}

// IsExecuting reports whether the frame is on some thread's active stack.
func (f Frame) IsExecuting(env Env) bool {
	raw, ok := f.raw(env)
	return ok && raw.FState == FrameExecuting
}

// IsRunnableOrRunning reports whether the frame is executing or merely
// suspended (a paused generator or coroutine).
func (f Frame) IsRunnableOrRunning(env Env) bool {
	raw, ok := f.raw(env)
	return ok && (raw.FState == FrameExecuting || raw.FState == FrameSuspended)
}

// Line returns the current source line: the line-table entry for f_lasti
// when the table resolves it, f_lineno otherwise.
func (f Frame) Line(env Env) int32 {
	raw, ok := f.raw(env)
	if !ok {
		return 0
	}
	code, ok := f.Code(env)
	if ok && raw.FLasti >= 0 {
		if line, ok := code.LineForOffset(env, int64(raw.FLasti)); ok {
			return line
		}
	}
	return raw.FLineno
}

// Where renders the frame's position as FILE:LINE.
func (f Frame) Where(env Env) string {
	code, ok := f.Code(env)
	if !ok {
		return "<unknown>:0"
	}
	file, ok := code.FilenameText(env)
	if !ok {
		file = "<unknown>"
	}
	return fmt.Sprintf("%s:%d", file, f.Line(env))
}

// FrameLocal is one named slot of f_localsplus.
type FrameLocal struct {
	Name  string
	Value ObjAddr
}

// Locals zips co_varnames with the trailing f_localsplus slots. Null
// slots (locals not yet bound) are kept, with a null value address.
func (f Frame) Locals(env Env) ([]FrameLocal, bool) {
	code, ok := f.Code(env)
	if !ok {
		return nil, false
	}
	names, ok := code.Varnames(env)
	if !ok {
		return nil, false
	}
	slots, err := snapshot.GetArray(env.Store(), f.localsAddr(), uint64(len(names)))
	if err != nil {
		return nil, false
	}
	locals := make([]FrameLocal, len(names))
	for i, name := range names {
		locals[i] = FrameLocal{Name: name, Value: slots[i]}
	}
	return locals, true
}

// InvalidReason implements Decoder.
func (f Frame) InvalidReason(env Env) string {
	raw, ok := f.raw(env)
	if !ok {
		return "invalid_address"
	}
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.FState < FrameCreated || raw.FState > FrameCleared {
		return "invalid_f_state"
	}
	if !snapshot.ObjValid(env.Store(), raw.FCode, 8) {
		return "invalid_f_code"
	}
	if codeType, ok := env.GetType("code"); ok {
		if env.InvalidReason(types.Cast[RawObject](raw.FCode), codeType) != "" {
			return "invalid_f_code"
		}
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.FBack, 8) {
		return "invalid_f_back"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.FGlobals, 8) {
		return "invalid_f_globals"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.FBuiltins, 8) {
		return "invalid_f_builtins"
	}
	if count, ok := (Code{Addr: raw.FCode}).VarnameCount(env); ok && count > 0 {
		if !snapshot.ExistsArray(env.Store(), f.localsAddr(), uint64(count)) {
			return "invalid_f_localsplus_range"
		}
	}
	return ""
}

// DirectReferents implements Decoder. Includes the bound f_localsplus
// slots so reference searches reach frame locals.
func (f Frame) DirectReferents(env Env) []ObjAddr {
	raw, ok := f.raw(env)
	if !ok {
		return nil
	}
	ret := nonNull(nil, types.Cast[RawObject](raw.FBack))
	ret = nonNull(ret, types.Cast[RawObject](raw.FCode))
	ret = nonNull(ret, raw.FBuiltins)
	ret = nonNull(ret, types.Cast[RawObject](raw.FGlobals))
	ret = nonNull(ret, raw.FLocals)
	ret = nonNull(ret, raw.FTrace)
	ret = nonNull(ret, raw.FGen)
	if locals, ok := f.Locals(env); ok {
		for _, local := range locals {
			ret = nonNull(ret, local.Value)
		}
	}
	return ret
}

// Repr implements Decoder. The short form is a single position token;
// the full form adds the state, bound locals, and the f_back chain
// unless the traversal suppresses it.
func (f Frame) Repr(t Ctx) string {
	if ir := f.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<frame !%s>", ir)
	}

	release, recursive := t.CycleGuard(f.Addr.Uint64())
	defer release()
	if recursive {
		return "<frame !recursive_repr>"
	}

	raw, _ := f.raw(t.Env())
	name := "<unknown>"
	if code, ok := f.Code(t.Env()); ok {
		if n, ok := code.NameText(t.Env()); ok {
			name = n
		}
	}
	head := fmt.Sprintf("<frame %s (%s)", name, f.Where(t.Env()))
	if t.ShowAllAddresses() {
		head += "@" + f.Addr.String()
	}
	if t.IsShort() {
		return head + ">"
	}

	var sb strings.Builder
	sb.WriteString(head)
	sb.WriteString(" state=")
	sb.WriteString(frameStateName(raw.FState))

	if t.RecursionAllowed() {
		exit := t.Enter()
		if locals, ok := f.Locals(t.Env()); ok && len(locals) > 0 {
			sb.WriteString(" locals={")
			first := true
			for _, local := range locals {
				if local.Value.IsNull() {
					continue
				}
				if !first {
					sb.WriteString(", ")
				}
				first = false
				sb.WriteString(local.Name)
				sb.WriteString("=")
				sb.WriteString(t.Repr(local.Value))
			}
			sb.WriteString("}")
		}
		if !raw.FBack.IsNull() && !t.FrameOmitBack() {
			sb.WriteString(" from ")
			sb.WriteString(t.Repr(types.Cast[RawObject](raw.FBack)))
		}
		exit()
	}
	sb.WriteString(">")
	return sb.String()
}

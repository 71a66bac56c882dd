package objects

import (
	"fmt"

	"github.com/nielstron/python-memtools/snapshot"
	"github.com/nielstron/python-memtools/types"
)

// Future states, as stored in fut_state.
const (
	FuturePending   int32 = 0
	FutureCancelled int32 = 1
	FutureFinished  int32 = 2
)

// futureStateName maps fut_state to its display name.
func futureStateName(state int32) string {
	switch state {
	case FuturePending:
		return "pending"
	case FutureCancelled:
		return "cancelled"
	case FutureFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RawFuture mirrors the event loop's future object.
type RawFuture struct {
	RawObject
	Loop        ObjAddr
	Callback0   ObjAddr
	Context0    ObjAddr
	Callbacks   ObjAddr
	Exception   ObjAddr
	Result      ObjAddr
	SourceTB    ObjAddr
	CancelMsg   ObjAddr
	State       int32
	LogTB       int32
	Blocking    int32
	_           uint32
	Dict        ObjAddr
	WeakrefList ObjAddr
}

// RawTask extends the future layout with the wrapped coroutine and the
// future the task is currently awaiting.
type RawTask struct {
	RawFuture
	FutWaiter         ObjAddr
	Coro              ObjAddr
	Context           ObjAddr
	MustCancel        int32
	LogDestroyPending int32
}

// RawGatheringFuture extends the future layout with the gathered
// children list.
type RawGatheringFuture struct {
	RawFuture
	Children types.Addr[RawList]
}

// Future decodes an event-loop future object.
type Future struct {
	Addr types.Addr[RawFuture]
}

func futureInvalidReason(env Env, raw *RawFuture) string {
	if raw.RefCount <= 0 {
		return "invalid_refcount"
	}
	if raw.State < FuturePending || raw.State > FutureFinished {
		return "invalid_fut_state"
	}
	for _, field := range []struct {
		addr   ObjAddr
		reason string
	}{
		{raw.Result, "invalid_fut_result"},
		{raw.Exception, "invalid_fut_exception"},
		{raw.Callbacks, "invalid_fut_callbacks"},
	} {
		if !snapshot.ObjValidOrNull(env.Store(), field.addr, 8) {
			return field.reason
		}
	}
	return ""
}

func futureReferents(raw *RawFuture) []ObjAddr {
	ret := nonNull(nil, raw.Loop)
	ret = nonNull(ret, raw.Callback0)
	ret = nonNull(ret, raw.Callbacks)
	ret = nonNull(ret, raw.Exception)
	ret = nonNull(ret, raw.Result)
	ret = nonNull(ret, raw.CancelMsg)
	ret = nonNull(ret, raw.Dict)
	return ret
}

// State returns fut_state.
func (f Future) State(env Env) (int32, bool) {
	raw, err := snapshot.Get(env.Store(), f.Addr)
	if err != nil {
		return 0, false
	}
	return raw.State, true
}

// InvalidReason implements Decoder.
func (f Future) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), f.Addr)
	if err != nil {
		return "invalid_address"
	}
	return futureInvalidReason(env, raw)
}

// DirectReferents implements Decoder.
func (f Future) DirectReferents(env Env) []ObjAddr {
	raw, err := snapshot.Get(env.Store(), f.Addr)
	if err != nil {
		return nil
	}
	return futureReferents(raw)
}

// Repr implements Decoder.
func (f Future) Repr(t Ctx) string {
	if ir := f.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<Future !%s>", ir)
	}
	raw, _ := snapshot.Get(t.Env().Store(), f.Addr)
	ret := "<Future " + futureStateName(raw.State)
	if raw.State == FutureFinished && t.RecursionAllowed() {
		exit := t.Enter()
		switch {
		case !raw.Exception.IsNull():
			ret += " exception=" + t.Repr(raw.Exception)
		case !raw.Result.IsNull():
			ret += " result=" + t.Repr(raw.Result)
		}
		exit()
	}
	if t.ShowAllAddresses() {
		ret += "@" + f.Addr.String()
	}
	return ret + ">"
}

// Task decodes an event-loop task object.
type Task struct {
	Addr types.Addr[RawTask]
}

func (tk Task) raw(env Env) (*RawTask, bool) {
	raw, err := snapshot.Get(env.Store(), tk.Addr)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Coro returns the task's wrapped coroutine address.
func (tk Task) Coro(env Env) (ObjAddr, bool) {
	raw, ok := tk.raw(env)
	if !ok || raw.Coro.IsNull() {
		return 0, false
	}
	return raw.Coro, true
}

// AwaitedFuture returns the future the task is currently blocked on, or
// false if it is not waiting.
func (tk Task) AwaitedFuture(env Env) (ObjAddr, bool) {
	raw, ok := tk.raw(env)
	if !ok || raw.FutWaiter.IsNull() {
		return 0, false
	}
	return raw.FutWaiter, true
}

// Name returns the wrapped coroutine's qualified name.
func (tk Task) Name(env Env) (string, bool) {
	coro, ok := tk.Coro(env)
	if !ok {
		return "", false
	}
	return Generator{Addr: types.Cast[RawGenerator](coro)}.QualnameText(env)
}

// InvalidReason implements Decoder.
func (tk Task) InvalidReason(env Env) string {
	raw, ok := tk.raw(env)
	if !ok {
		return "invalid_address"
	}
	if ir := futureInvalidReason(env, &raw.RawFuture); ir != "" {
		return ir
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Coro, 8) {
		return "invalid_task_coro"
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.FutWaiter, 8) {
		return "invalid_task_fut_waiter"
	}
	return ""
}

// DirectReferents implements Decoder.
func (tk Task) DirectReferents(env Env) []ObjAddr {
	raw, ok := tk.raw(env)
	if !ok {
		return nil
	}
	ret := futureReferents(&raw.RawFuture)
	ret = nonNull(ret, raw.FutWaiter)
	ret = nonNull(ret, raw.Coro)
	ret = nonNull(ret, raw.Context)
	return ret
}

// Repr implements Decoder.
func (tk Task) Repr(t Ctx) string {
	if ir := tk.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<Task !%s>", ir)
	}
	raw, _ := tk.raw(t.Env())
	name, ok := tk.Name(t.Env())
	if !ok {
		name = "<unknown>"
	}
	ret := fmt.Sprintf("<Task %s %s", name, futureStateName(raw.State))
	if raw.State == FuturePending && !raw.Coro.IsNull() {
		coro := Generator{Addr: types.Cast[RawGenerator](raw.Coro)}
		if frame, ok := coro.Frame(t.Env()); ok {
			ret += " (" + frame.Where(t.Env()) + ")"
		}
	}
	if t.ShowAllAddresses() {
		ret += "@" + tk.Addr.String()
	}
	return ret + ">"
}

// GatheringFuture decodes the future produced by gathering several
// awaitables.
type GatheringFuture struct {
	Addr types.Addr[RawGatheringFuture]
}

// Children returns the gathered child addresses.
func (g GatheringFuture) Children(env Env) ([]ObjAddr, bool) {
	raw, err := snapshot.Get(env.Store(), g.Addr)
	if err != nil || raw.Children.IsNull() {
		return nil, false
	}
	return List{Addr: raw.Children}.Items(env)
}

// InvalidReason implements Decoder.
func (g GatheringFuture) InvalidReason(env Env) string {
	raw, err := snapshot.Get(env.Store(), g.Addr)
	if err != nil {
		return "invalid_address"
	}
	if ir := futureInvalidReason(env, &raw.RawFuture); ir != "" {
		return ir
	}
	if !snapshot.ObjValidOrNull(env.Store(), raw.Children, 8) {
		return "invalid_gather_children"
	}
	return ""
}

// DirectReferents implements Decoder.
func (g GatheringFuture) DirectReferents(env Env) []ObjAddr {
	raw, err := snapshot.Get(env.Store(), g.Addr)
	if err != nil {
		return nil
	}
	ret := futureReferents(&raw.RawFuture)
	ret = nonNull(ret, types.Cast[RawObject](raw.Children))
	if children, ok := g.Children(env); ok {
		for _, child := range children {
			ret = nonNull(ret, child)
		}
	}
	return ret
}

// Repr implements Decoder.
func (g GatheringFuture) Repr(t Ctx) string {
	if ir := g.InvalidReason(t.Env()); ir != "" {
		t.MarkInvalid()
		return fmt.Sprintf("<GatheringFuture !%s>", ir)
	}
	raw, _ := snapshot.Get(t.Env().Store(), g.Addr)
	children, _ := g.Children(t.Env())
	ret := fmt.Sprintf("<GatheringFuture %s children=%d", futureStateName(raw.State), len(children))
	if t.ShowAllAddresses() {
		ret += "@" + g.Addr.String()
	}
	return ret + ">"
}

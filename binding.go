package neodap

import (
	"fmt"
	"strconv"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
)

// Binding is the per-session materialization of a Breakpoint (spec.md §3,
// §4.7): exactly one per (Breakpoint, Session) pair (invariant 6).
type Binding struct {
	breakpoint *Breakpoint
	session    *Session
	uri        store.URI

	dapID        *reactive.Signal[int]
	verified     *reactive.Signal[bool]
	message      *reactive.Signal[string]
	actualLine   *reactive.Signal[int]
	actualColumn *reactive.Signal[int]
	hit          *reactive.Signal[bool]
	activeFrame  *reactive.Signal[store.URI]
	location     *reactive.Signal[string]
}

func newBinding(sess *Session, bp *Breakpoint) *Binding {
	uri := store.Child(sess.uri, "binding", bp.id)
	b := &Binding{
		breakpoint:   bp,
		session:      sess,
		uri:          uri,
		dapID:        reactive.NewSignal(0),
		verified:     reactive.NewSignal(false),
		message:      reactive.NewSignal(""),
		actualLine:   reactive.NewSignal(0),
		actualColumn: reactive.NewSignal(0),
		hit:          reactive.NewSignal(false),
		activeFrame:  reactive.NewSignal[store.URI](""),
		location:     reactive.NewSignal(fmt.Sprintf("%s:%d", bp.source.key, bp.line)),
	}
	b.actualLine.Watch(func(int) reactive.Cleanup {
		b.recomputeLocation()
		return nil
	})
	sess.debugger.store.Add(uri, "binding", b, sess.scope.Child(),
		store.Edge{From: sess.uri, Label: "bindings"},
		store.Edge{From: bp.uri, Label: "bindings"})
	sess.debugger.store.SetField(uri, "breakpoint_id", bp.id)
	sess.debugger.store.SetField(uri, "session_id", sess.id)
	sess.debugger.store.SetField(uri, "dap_id", "")
	sess.debugger.store.SetField(uri, "location", string(b.location.Get()))
	return b
}

func (b *Binding) recomputeLocation() {
	line := b.actualLine.Get()
	if line == 0 {
		line = b.breakpoint.line
	}
	loc := fmt.Sprintf("%s:%d", b.breakpoint.source.key, line)
	b.location.Set(loc)
	b.session.debugger.store.SetField(b.uri, "location", loc)
}

func (b *Binding) URI() store.URI       { return b.uri }
func (b *Binding) Breakpoint() *Breakpoint { return b.breakpoint }
func (b *Binding) Session() *Session    { return b.session }
func (b *Binding) Verified() bool       { return b.verified.Get() }
func (b *Binding) Message() string      { return b.message.Get() }
func (b *Binding) ActualLine() int      { return b.actualLine.Get() }
func (b *Binding) Hit() bool            { return b.hit.Get() }
func (b *Binding) ActiveFrame() store.URI { return b.activeFrame.Get() }
func (b *Binding) Location() string     { return b.location.Get() }
func (b *Binding) DapID() int           { return b.dapID.Get() }

// applyAdapterResult updates this binding from its position in a
// setBreakpoints response (spec.md §4.4 step 4).
func (b *Binding) applyAdapterResult(dapID int, verified bool, message string, line, column int) {
	b.dapID.Set(dapID)
	b.verified.Set(verified)
	b.message.Set(message)
	b.actualLine.Set(line)
	b.actualColumn.Set(column)
	b.session.debugger.store.SetField(b.uri, "dap_id", strconv.Itoa(dapID))
}

// setHit transitions hit per spec.md invariant 7 and resets on continue.
func (b *Binding) setHit(v bool) {
	b.hit.Set(v)
	if !v {
		b.activeFrame.Set("")
	}
}

func (b *Binding) setActiveFrame(uri store.URI) {
	b.activeFrame.Set(uri)
}

func (b *Binding) dispose() {
	b.session.debugger.store.Dispose(b.uri)
}

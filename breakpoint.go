package neodap

import (
	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/uuid"
)

// Breakpoint is user intent, declared once globally and attached to a
// Source (spec.md §3, §4.7). Its mutable properties are Signals; any
// change triggers a per-source resync on every Session holding a Binding
// for it.
type Breakpoint struct {
	debugger *Debugger
	id       string
	uri      store.URI
	source   *Source
	line     int
	column   int

	condition    *reactive.Signal[string]
	hitCondition *reactive.Signal[string]
	logMessage   *reactive.Signal[string]
	enabled      *reactive.Signal[bool]
}

// AddBreakpoint declares a new Breakpoint on src at the given line (spec.md
// §4.7). A Binding is created for every existing Session and the owning
// source is pushed to each (spec.md §4.4 "Breakpoint push algorithm").
func (d *Debugger) AddBreakpoint(src *Source, line, column int) *Breakpoint {
	id := uuid.NewString()
	uri := store.Child("", "breakpoint", id)
	bp := &Breakpoint{
		debugger:     d,
		id:           id,
		uri:          uri,
		source:       src,
		line:         line,
		column:       column,
		condition:    reactive.NewSignal(""),
		hitCondition: reactive.NewSignal(""),
		logMessage:   reactive.NewSignal(""),
		enabled:      reactive.NewSignal(true),
	}
	d.store.Add(uri, "breakpoint", bp, d.scope.Child())
	d.store.SetField(uri, "source_key", src.key)

	d.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.sessionsMu.Unlock()

	for _, sess := range sessions {
		sess.ensureBinding(bp)
	}
	for _, sess := range sessions {
		sess.pushBreakpointsForSource(src)
	}
	return bp
}

func (b *Breakpoint) URI() store.URI    { return b.uri }
func (b *Breakpoint) ID() string        { return b.id }
func (b *Breakpoint) Source() *Source   { return b.source }
func (b *Breakpoint) Line() int         { return b.line }
func (b *Breakpoint) Column() int       { return b.column }
func (b *Breakpoint) Enabled() bool     { return b.enabled.Get() }
func (b *Breakpoint) Condition() string { return b.condition.Get() }

// SetEnabled toggles the breakpoint (spec.md §4.7 "Disable"): disabling
// excludes it from the next setBreakpoints payload, re-enabling pushes it
// back.
func (b *Breakpoint) SetEnabled(v bool) {
	if b.enabled.Get() == v {
		return
	}
	b.enabled.Set(v)
	b.resync()
}

func (b *Breakpoint) SetCondition(v string) {
	b.condition.Set(v)
	b.resync()
}

func (b *Breakpoint) SetHitCondition(v string) {
	b.hitCondition.Set(v)
	b.resync()
}

func (b *Breakpoint) SetLogMessage(v string) {
	b.logMessage.Set(v)
	b.resync()
}

// resync re-pushes this breakpoint's source to every session with a
// binding for it.
func (b *Breakpoint) resync() {
	seen := map[*Session]bool{}
	for _, e := range b.debugger.store.Where("binding", "breakpoint_id", b.id).Iter() {
		bind := e.Value.(*Binding)
		if !seen[bind.session] {
			seen[bind.session] = true
			bind.session.pushBreakpointsForSource(b.source)
		}
	}
}

// Remove disables and detaches this Breakpoint: every Binding for it is
// disposed and a final sync excludes it from the adapter (spec.md §9 OQ4 —
// serialized with a concurrent session-scope disposal via the breakpoint's
// own dispose, which is idempotent through store.Dispose).
func (b *Breakpoint) Remove() {
	sessions := map[*Session]bool{}
	for _, e := range b.debugger.store.Where("binding", "breakpoint_id", b.id).Iter() {
		bind := e.Value.(*Binding)
		sessions[bind.session] = true
		bind.dispose()
	}
	b.debugger.store.Dispose(b.uri)
	for sess := range sessions {
		sess.pushBreakpointsForSource(b.source)
	}
}

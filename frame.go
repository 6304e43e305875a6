package neodap

import (
	"context"
	"strconv"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// Frame is one stack frame (spec.md §3); its adapter-assigned id is only
// valid while the owning thread is stopped and the stack is current.
type Frame struct {
	stack *Stack
	uri   store.URI

	id        int
	index     int
	name      string
	line      int
	column    int
	sourceKey string

	isCurrent *reactive.Signal[bool]

	mu        sync.Mutex
	fetching  bool
	fetchDone chan struct{}
	scopes    []*Scope
}

func newFrame(stack *Stack, index int, df dap.StackFrame) *Frame {
	uri := store.Child(stack.uri, "frame", strconv.Itoa(df.Id))
	f := &Frame{
		stack:     stack,
		uri:       uri,
		id:        df.Id,
		index:     index,
		name:      df.Name,
		line:      df.Line,
		column:    df.Column,
		isCurrent: reactive.NewSignal(true),
	}

	sess := stack.thread.session
	if df.Source != nil {
		hint := sourceHintFromDAP(*df.Source)
		src := sess.debugger.resolveSource(correlationKey(hint), hint)
		f.sourceKey = src.key
	}

	scope := sess.scope.Child()
	sess.debugger.store.Add(uri, "frame", f, scope, store.Edge{From: stack.uri, Label: "frames"})
	sess.debugger.store.SetField(uri, "source_key", f.sourceKey)
	sess.debugger.store.SetField(uri, "is_current", "true")
	return f
}

func (f *Frame) URI() store.URI     { return f.uri }
func (f *Frame) ID() int            { return f.id }
func (f *Frame) Index() int         { return f.index }
func (f *Frame) Name() string       { return f.name }
func (f *Frame) Line() int          { return f.line }
func (f *Frame) Column() int        { return f.column }
func (f *Frame) SourceKey() string  { return f.sourceKey }
func (f *Frame) IsCurrent() bool    { return f.isCurrent.Get() }

// Scopes issues the scopes request on first call, memoized per the at-most-
// once-fetch invariant.
func (f *Frame) Scopes(ctx context.Context) ([]*Scope, error) {
	if !f.IsCurrent() {
		return nil, &ErrExpired{URI: string(f.uri)}
	}
	f.mu.Lock()
	if f.scopes != nil {
		s := f.scopes
		f.mu.Unlock()
		return s, nil
	}
	if f.fetching {
		done := f.fetchDone
		f.mu.Unlock()
		<-done
		f.mu.Lock()
		s := f.scopes
		f.mu.Unlock()
		return s, nil
	}
	f.fetching = true
	f.fetchDone = make(chan struct{})
	f.mu.Unlock()

	sess := f.stack.thread.session
	resp, err := sess.client.Request(ctx, "scopes", map[string]any{"frameId": f.id})

	f.mu.Lock()
	defer func() {
		f.fetching = false
		close(f.fetchDone)
		f.mu.Unlock()
	}()
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.ScopesResponse).Body
	for _, ds := range body.Scopes {
		f.scopes = append(f.scopes, newScope(f, ds))
	}
	return f.scopes, nil
}

// expire cascades expiration down to every fetched Scope (spec.md §4.5).
func (f *Frame) expire() {
	if !f.isCurrent.Get() {
		return
	}
	f.isCurrent.Set(false)
	f.stack.thread.session.debugger.store.SetField(f.uri, "is_current", "false")
	f.mu.Lock()
	scopes := f.scopes
	f.mu.Unlock()
	for _, sc := range scopes {
		sc.expire()
	}
}

package neodap

import (
	"context"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// Scope is a frame's variable scope ("Locals", "Globals"...) — spec.md §3.
// Named Scope within this package; it is unrelated to reactive.Scope, the
// disposal-lifecycle primitive referenced qualified elsewhere.
type Scope struct {
	frame *Frame
	uri   store.URI

	name               string
	variablesReference int
	expensive          bool
	isCurrent          *reactive.Signal[bool]

	mu        sync.Mutex
	fetching  bool
	fetchDone chan struct{}
	variables []*Variable
}

func newScope(f *Frame, ds dap.Scope) *Scope {
	uri := store.Child(f.uri, "scope", ds.Name)
	s := &Scope{
		frame:              f,
		uri:                uri,
		name:               ds.Name,
		variablesReference: ds.VariablesReference,
		expensive:          ds.Expensive,
		isCurrent:           reactive.NewSignal(true),
	}
	sess := f.stack.thread.session
	sess.debugger.store.Add(uri, "scope", s, sess.scope.Child(), store.Edge{From: f.uri, Label: "scopes"})
	return s
}

func (s *Scope) URI() store.URI  { return s.uri }
func (s *Scope) Name() string    { return s.name }
func (s *Scope) Expensive() bool { return s.expensive }
func (s *Scope) IsCurrent() bool { return s.isCurrent.Get() }

// Variables issues the variables request on first call, memoized.
func (s *Scope) Variables(ctx context.Context) ([]*Variable, error) {
	if !s.IsCurrent() {
		return nil, &ErrExpired{URI: string(s.uri)}
	}
	s.mu.Lock()
	if s.variables != nil {
		v := s.variables
		s.mu.Unlock()
		return v, nil
	}
	if s.fetching {
		done := s.fetchDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
		v := s.variables
		s.mu.Unlock()
		return v, nil
	}
	s.fetching = true
	s.fetchDone = make(chan struct{})
	s.mu.Unlock()

	sess := s.frame.stack.thread.session
	resp, err := sess.client.Request(ctx, "variables", map[string]any{"variablesReference": s.variablesReference})

	s.mu.Lock()
	defer func() {
		s.fetching = false
		close(s.fetchDone)
		s.mu.Unlock()
	}()
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.VariablesResponse).Body
	for _, dv := range body.Variables {
		s.variables = append(s.variables, newVariable(sess, s.uri, dv))
	}
	return s.variables, nil
}

func (s *Scope) expire() {
	if !s.isCurrent.Get() {
		return
	}
	s.isCurrent.Set(false)
	s.mu.Lock()
	vars := s.variables
	s.mu.Unlock()
	for _, v := range vars {
		v.expire()
	}
}

package neodap

import (
	"context"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
	"github.com/google/uuid"
)

// EvaluateResult is parented to the Session, not the Frame, so it survives
// the originating Frame's expiration (spec.md §4.9).
type EvaluateResult struct {
	session            *Session
	uri                store.URI
	id                 string
	expression         string
	context            string
	result             *reactive.Signal[string]
	variablesReference *reactive.Signal[int]

	mu        sync.Mutex
	fetching  bool
	fetchDone chan struct{}
	children  []*Variable
}

// Evaluate issues an evaluate request against f if f is still current,
// refusing otherwise (spec.md §7 "stale reference use").
func (f *Frame) Evaluate(ctx context.Context, expression, evalContext string) (*EvaluateResult, error) {
	if !f.IsCurrent() {
		return nil, &ErrExpired{URI: string(f.uri)}
	}
	sess := f.stack.thread.session
	resp, err := sess.client.Request(ctx, "evaluate", map[string]any{
		"expression": expression,
		"frameId":    f.id,
		"context":    evalContext,
	})
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.EvaluateResponse).Body

	id := uuid.NewString()
	uri := store.Child(sess.uri, "eval", id)
	er := &EvaluateResult{
		session:            sess,
		uri:                uri,
		id:                 id,
		expression:         expression,
		context:            evalContext,
		result:             reactive.NewSignal(body.Result),
		variablesReference: reactive.NewSignal(body.VariablesReference),
	}
	sess.debugger.store.Add(uri, "eval", er, sess.scope.Child(), store.Edge{From: sess.uri, Label: "evaluations"})
	return er, nil
}

func (e *EvaluateResult) URI() store.URI              { return e.uri }
func (e *EvaluateResult) Expression() string          { return e.expression }
func (e *EvaluateResult) Result() string              { return e.result.Get() }
func (e *EvaluateResult) VariablesReference() int     { return e.variablesReference.Get() }

// Children fetches the evaluate result's structured sub-variables when
// VariablesReference() > 0, memoized like Scope.Variables/Variable.Children
// (spec.md §3: "Variable parent: scope or variable or eval-result or
// output").
func (e *EvaluateResult) Children(ctx context.Context) ([]*Variable, error) {
	if e.VariablesReference() == 0 {
		return nil, nil
	}
	e.mu.Lock()
	if e.children != nil {
		c := e.children
		e.mu.Unlock()
		return c, nil
	}
	if e.fetching {
		done := e.fetchDone
		e.mu.Unlock()
		<-done
		e.mu.Lock()
		c := e.children
		e.mu.Unlock()
		return c, nil
	}
	e.fetching = true
	e.fetchDone = make(chan struct{})
	e.mu.Unlock()

	resp, err := e.session.client.Request(ctx, "variables", map[string]any{"variablesReference": e.VariablesReference()})

	e.mu.Lock()
	defer func() {
		e.fetching = false
		close(e.fetchDone)
		e.mu.Unlock()
	}()
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.VariablesResponse).Body
	for _, dv := range body.Variables {
		e.children = append(e.children, newVariable(e.session, e.uri, dv))
	}
	return e.children, nil
}

// Completions issues a completions request, gated on the adapter capability
// (spec.md §4.9, §7 "capability-gated request").
func (s *Session) Completions(ctx context.Context, text string, column int) ([]dap.CompletionItem, error) {
	if !s.capabilities.Get().SupportsCompletionsRequest {
		return nil, &ErrUnsupportedCapability{Capability: "completions"}
	}
	resp, err := s.client.Request(ctx, "completions", map[string]any{"text": text, "column": column})
	if err != nil {
		return nil, err
	}
	return resp.(*dap.CompletionsResponse).Body.Targets, nil
}

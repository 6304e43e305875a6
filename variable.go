package neodap

import (
	"context"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// Variable is a leaf or container node in a frame's variable tree, an
// evaluate result's tree, or an output's tree (spec.md §3).
type Variable struct {
	session *Session
	uri     store.URI

	parentURI          store.URI
	parentRef          int
	name               string
	value              *reactive.Signal[string]
	typ                *reactive.Signal[string]
	variablesReference *reactive.Signal[int]
	evaluateName       string
	presentationHint    string
	isCurrent          *reactive.Signal[bool]

	mu        sync.Mutex
	fetching  bool
	fetchDone chan struct{}
	children  []*Variable
}

func newVariable(sess *Session, parentURI store.URI, dv dap.Variable) *Variable {
	uri := store.Child(parentURI, "var", dv.Name)
	v := &Variable{
		session:            sess,
		uri:                uri,
		parentURI:          parentURI,
		name:               dv.Name,
		value:              reactive.NewSignal(dv.Value),
		typ:                reactive.NewSignal(dv.Type),
		variablesReference: reactive.NewSignal(dv.VariablesReference),
		evaluateName:       dv.EvaluateName,
		isCurrent:          reactive.NewSignal(true),
	}
	if parent := sess.debugger.store.Get(parentURI); parent != nil {
		if p, ok := parent.Value.(*Scope); ok {
			v.parentRef = p.variablesReference
		} else if p, ok := parent.Value.(*Variable); ok {
			v.parentRef = p.variablesReference.Get()
		}
	}
	sess.debugger.store.Add(uri, "var", v, sess.scope.Child(), store.Edge{From: parentURI, Label: "vars"})
	sess.debugger.store.SetField(uri, "session_id", sess.id)
	return v
}

func (v *Variable) URI() store.URI           { return v.uri }
func (v *Variable) Name() string             { return v.name }
func (v *Variable) Value() string            { return v.value.Get() }
func (v *Variable) Type() string             { return v.typ.Get() }
func (v *Variable) EvaluateName() string     { return v.evaluateName }
func (v *Variable) VariablesReference() int  { return v.variablesReference.Get() }
func (v *Variable) IsCurrent() bool          { return v.isCurrent.Get() }

// Children fetches nested variables (struct fields, array elements) when
// VariablesReference() > 0, memoized.
func (v *Variable) Children(ctx context.Context) ([]*Variable, error) {
	if v.VariablesReference() == 0 {
		return nil, nil
	}
	if !v.IsCurrent() {
		return nil, &ErrExpired{URI: string(v.uri)}
	}
	v.mu.Lock()
	if v.children != nil {
		c := v.children
		v.mu.Unlock()
		return c, nil
	}
	if v.fetching {
		done := v.fetchDone
		v.mu.Unlock()
		<-done
		v.mu.Lock()
		c := v.children
		v.mu.Unlock()
		return c, nil
	}
	v.fetching = true
	v.fetchDone = make(chan struct{})
	v.mu.Unlock()

	resp, err := v.session.client.Request(ctx, "variables", map[string]any{"variablesReference": v.VariablesReference()})

	v.mu.Lock()
	defer func() {
		v.fetching = false
		close(v.fetchDone)
		v.mu.Unlock()
	}()
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.VariablesResponse).Body
	for _, dv := range body.Variables {
		v.children = append(v.children, newVariable(v.session, v.uri, dv))
	}
	return v.children, nil
}

// SetValue issues setVariable (when the parent reference is known) or
// setExpression (when evaluateName is available), per spec.md §4.9.
func (v *Variable) SetValue(ctx context.Context, newValue string) error {
	if !v.IsCurrent() {
		return &ErrExpired{URI: string(v.uri)}
	}

	var resp dap.Message
	var err error
	if v.evaluateName != "" {
		resp, err = v.session.client.Request(ctx, "setExpression", map[string]any{
			"expression": v.evaluateName,
			"value":      newValue,
		})
	} else if v.parentRef != 0 {
		resp, err = v.session.client.Request(ctx, "setVariable", map[string]any{
			"variablesReference": v.parentRef,
			"name":               v.name,
			"value":              newValue,
		})
	} else {
		return &ErrUnsupportedCapability{Capability: "setVariable"}
	}
	if err != nil {
		return err
	}

	switch body := resp.(type) {
	case *dap.SetVariableResponse:
		v.value.Set(body.Body.Value)
		v.typ.Set(body.Body.Type)
		v.variablesReference.Set(body.Body.VariablesReference)
	case *dap.SetExpressionResponse:
		v.value.Set(body.Body.Value)
		v.typ.Set(body.Body.Type)
		v.variablesReference.Set(body.Body.VariablesReference)
	}
	v.mu.Lock()
	v.children = nil
	v.mu.Unlock()
	return nil
}

func (v *Variable) expire() {
	if !v.isCurrent.Get() {
		return
	}
	v.isCurrent.Set(false)
	v.mu.Lock()
	children := v.children
	v.mu.Unlock()
	for _, c := range children {
		c.expire()
	}
}

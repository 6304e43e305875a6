package neodap

import (
	"context"
	"strconv"
	"sync"

	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// Output is one appended console/stderr/stdout line, sequenced per session
// (spec.md §3).
type Output struct {
	session *Session
	uri     store.URI
	index   int

	category           string
	output             string
	variablesReference int

	mu        sync.Mutex
	fetching  bool
	fetchDone chan struct{}
	children  []*Variable
}

func newOutput(sess *Session, index int, body dap.OutputEventBody) *Output {
	uri := store.Child(sess.uri, "output", strconv.Itoa(index))
	o := &Output{
		session:            sess,
		uri:                uri,
		index:              index,
		category:           body.Category,
		output:             body.Output,
		variablesReference: body.VariablesReference,
	}
	sess.debugger.store.Add(uri, "output", o, sess.scope.Child(), store.Edge{From: sess.uri, Label: "outputs"})
	sess.debugger.store.SetField(uri, "session_id", sess.id)
	return o
}

func (o *Output) URI() store.URI    { return o.uri }
func (o *Output) Index() int        { return o.index }
func (o *Output) Category() string  { return o.category }
func (o *Output) Text() string      { return o.output }

// HasVariables reports whether this output line carries a variablesReference
// for expandable structured output.
func (o *Output) HasVariables() bool { return o.variablesReference > 0 }

// VariablesReference is the adapter-assigned handle backing Variables.
func (o *Output) VariablesReference() int { return o.variablesReference }

// Variables fetches the output line's structured variables when
// HasVariables() is true, memoized like Scope.Variables/Variable.Children
// (spec.md §3: "Variable parent: scope or variable or eval-result or
// output").
func (o *Output) Variables(ctx context.Context) ([]*Variable, error) {
	if !o.HasVariables() {
		return nil, nil
	}
	o.mu.Lock()
	if o.children != nil {
		c := o.children
		o.mu.Unlock()
		return c, nil
	}
	if o.fetching {
		done := o.fetchDone
		o.mu.Unlock()
		<-done
		o.mu.Lock()
		c := o.children
		o.mu.Unlock()
		return c, nil
	}
	o.fetching = true
	o.fetchDone = make(chan struct{})
	o.mu.Unlock()

	resp, err := o.session.client.Request(ctx, "variables", map[string]any{"variablesReference": o.variablesReference})

	o.mu.Lock()
	defer func() {
		o.fetching = false
		close(o.fetchDone)
		o.mu.Unlock()
	}()
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.VariablesResponse).Body
	for _, dv := range body.Variables {
		o.children = append(o.children, newVariable(o.session, o.uri, dv))
	}
	return o.children, nil
}

package neodap

import (
	"context"
	"strconv"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// Thread mirrors one adapter thread (spec.md §3). Its current Stack is
// fetched lazily and memoized per the at-most-once-fetch invariant.
type Thread struct {
	session *Session
	uri     store.URI
	id      int

	name       *reactive.Signal[string]
	state      *reactive.Signal[string] // "running" | "stopped"
	stopReason *reactive.Signal[string]

	mu           sync.Mutex
	stackSeq     int
	fetching     bool
	fetchDone    chan struct{}
	currentStack *Stack
}

func newThread(sess *Session, id int, name string) *Thread {
	uri := store.Child(sess.uri, "thread", strconv.Itoa(id))
	t := &Thread{
		session:    sess,
		uri:        uri,
		id:         id,
		name:       reactive.NewSignal(name),
		state:      reactive.NewSignal("running"),
		stopReason: reactive.NewSignal(""),
	}
	scope := sess.scope.Child()
	sess.debugger.store.Add(uri, "thread", t, scope, store.Edge{From: sess.uri, Label: "threads"})
	sess.debugger.store.SetField(uri, "session_id", sess.id)
	return t
}

// URI returns the thread's store address.
func (t *Thread) URI() store.URI { return t.uri }

// ID is the adapter-assigned thread id.
func (t *Thread) ID() int { return t.id }

func (t *Thread) State() string      { return t.state.Get() }
func (t *Thread) StopReason() string { return t.stopReason.Get() }
func (t *Thread) Name() string       { return t.name.Get() }

// Stack issues stackTrace on first call and memoizes the result; concurrent
// callers during the in-flight request share the same fetch (spec.md §4.5,
// invariant 5).
func (t *Thread) Stack(ctx context.Context) (*Stack, error) {
	t.mu.Lock()
	if t.currentStack != nil {
		s := t.currentStack
		t.mu.Unlock()
		return s, nil
	}
	if t.fetching {
		done := t.fetchDone
		t.mu.Unlock()
		<-done
		t.mu.Lock()
		s := t.currentStack
		t.mu.Unlock()
		return s, nil
	}
	t.fetching = true
	t.fetchDone = make(chan struct{})
	t.mu.Unlock()

	resp, err := t.session.client.Request(ctx, "stackTrace", map[string]any{"threadId": t.id})

	t.mu.Lock()
	defer func() {
		t.fetching = false
		close(t.fetchDone)
		t.mu.Unlock()
	}()

	if err != nil {
		return nil, err
	}
	body := resp.(*dap.StackTraceResponse).Body

	t.stackSeq++
	stack := newStack(t, t.stackSeq, body.StackFrames)
	t.currentStack = stack
	return stack, nil
}

// expireCurrentStack marks the current stack (if any) expired and drops the
// thread's memo so the next continue/stop fetches a fresh one (spec.md §4.5
// "a new stop creates a new Stack... never reuses the old one").
func (t *Thread) expireCurrentStack() {
	t.mu.Lock()
	s := t.currentStack
	t.currentStack = nil
	t.mu.Unlock()
	if s != nil {
		s.expire()
	}
}

func (t *Thread) dispose() {
	t.session.debugger.store.Dispose(t.uri)
}

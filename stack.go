package neodap

import (
	"strconv"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// Stack is one stackTrace snapshot of a Thread (spec.md §3). Newer stacks
// are prepended so index 0 is always the current/newest one.
type Stack struct {
	thread *Thread
	uri    store.URI

	sequence  int
	reason    string
	index     *reactive.Signal[int]
	isCurrent *reactive.Signal[bool]

	frames []*Frame
}

func newStack(t *Thread, seq int, dapFrames []dap.StackFrame) *Stack {
	uri := store.Child(t.uri, "stack", strconv.Itoa(seq))
	s := &Stack{
		thread:    t,
		uri:       uri,
		sequence:  seq,
		reason:    t.stopReason.Get(),
		index:     reactive.NewSignal(0),
		isCurrent: reactive.NewSignal(true),
	}
	scope := t.session.scope.Child()
	db := t.session.debugger
	db.store.Add(uri, "stack", s, scope)
	db.store.PrependEdge(t.uri, "stacks", uri)
	db.store.SetField(uri, "thread_id", strconv.Itoa(t.id))
	db.store.SetField(uri, "is_current", "true")

	for i, df := range dapFrames {
		s.frames = append(s.frames, newFrame(s, i, df))
	}
	s.reindexSiblings()
	if len(s.frames) > 0 {
		t.session.activateFrameBindings(s.frames[0])
	}
	return s
}

// reindexSiblings walks the thread's ordered stack list and republishes each
// Stack's index signal, newest (index 0) first.
func (s *Stack) reindexSiblings() {
	db := s.thread.session.debugger
	uris := db.store.Forward(s.thread.uri, "stacks")
	for i, u := range uris {
		if e := db.store.Get(u); e != nil {
			e.Value.(*Stack).index.Set(i)
		}
	}
}

func (s *Stack) URI() store.URI    { return s.uri }
func (s *Stack) Index() int        { return s.index.Get() }
func (s *Stack) Sequence() int     { return s.sequence }
func (s *Stack) Reason() string    { return s.reason }
func (s *Stack) IsCurrent() bool   { return s.isCurrent.Get() }
func (s *Stack) Frames() []*Frame  { return append([]*Frame(nil), s.frames...) }

// expire implements the top-down expiration cascade of spec.md §4.5: a
// stack going stale marks every frame (and transitively every scope and
// variable) not-current, exactly once (invariant 3).
func (s *Stack) expire() {
	if !s.isCurrent.Get() {
		return
	}
	s.isCurrent.Set(false)
	s.thread.session.debugger.store.SetField(s.uri, "is_current", "false")
	for _, f := range s.frames {
		f.expire()
	}
}

package store_test

import (
	"testing"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/stretchr/testify/require"
)

func TestAddPanicsOnDuplicateURI(t *testing.T) {
	s := store.New()
	s.Add("dap:session:a", "session", nil, reactive.NewScope())
	require.Panics(t, func() {
		s.Add("dap:session:a", "session", nil, reactive.NewScope())
	})
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := store.New()
	require.Nil(t, s.Get("dap:session:missing"))
}

func TestViewWhereTracksFieldIndexIncrementally(t *testing.T) {
	s := store.New()
	root := reactive.NewScope()

	a := s.Add("dap:session:a/binding:1", "binding", "a1", root.Child())
	s.SetField(a.URI, "session_id", "a")
	b := s.Add("dap:session:b/binding:2", "binding", "b1", root.Child())
	s.SetField(b.URI, "session_id", "b")

	view := s.Where("binding", "session_id", "a")
	require.Equal(t, 1, view.Count())

	c := s.Add("dap:session:a/binding:3", "binding", "a2", root.Child())
	s.SetField(c.URI, "session_id", "a")
	require.Equal(t, 2, view.Count())
}

func TestFollowTraversesEdgesReactively(t *testing.T) {
	s := store.New()
	root := reactive.NewScope()

	session := s.Add("dap:session:a", "session", nil, root.Child())
	thread := s.Add("dap:session:a/thread:1", "thread", nil, root.Child(),
		store.Edge{From: session.URI, Label: "threads"})

	view := s.View("session").Follow(s, "threads", "thread")
	require.Equal(t, 1, view.Count())

	thread2 := s.Add("dap:session:a/thread:2", "thread", nil, root.Child())
	s.AddEdge(session.URI, "threads", thread2.URI)
	require.Equal(t, 2, view.Count())

	found := map[store.URI]bool{}
	for _, e := range view.Iter() {
		found[e.URI] = true
	}
	require.True(t, found[thread.URI])
	require.True(t, found[thread2.URI])
}

func TestPrependEdgeOrdersNewestFirst(t *testing.T) {
	s := store.New()
	root := reactive.NewScope()
	thread := s.Add("dap:session:a/thread:1", "thread", nil, root.Child())

	s1 := s.Add("dap:session:a/thread:1/stack:1", "stack", nil, root.Child())
	s.AddEdge(thread.URI, "stacks", s1.URI)
	s2 := s.Add("dap:session:a/thread:1/stack:2", "stack", nil, root.Child())
	s.PrependEdge(thread.URI, "stacks", s2.URI)

	targets := s.Forward(thread.URI, "stacks")
	require.Equal(t, []store.URI{s2.URI, s1.URI}, targets)
}

func TestEdgeSymmetry(t *testing.T) {
	s := store.New()
	root := reactive.NewScope()
	session := s.Add("dap:session:a", "session", nil, root.Child())
	thread := s.Add("dap:session:a/thread:1", "thread", nil, root.Child(),
		store.Edge{From: session.URI, Label: "threads"})

	require.Equal(t, []store.URI{thread.URI}, s.Forward(session.URI, "threads"))
	require.Equal(t, []store.URI{session.URI}, s.Reverse(thread.URI, "threads"))
}

func TestDisposeRemovesEntityEdgesAndScope(t *testing.T) {
	s := store.New()
	root := reactive.NewScope()
	session := s.Add("dap:session:a", "session", nil, root.Child())
	threadScope := root.Child()
	thread := s.Add("dap:session:a/thread:1", "thread", nil, threadScope,
		store.Edge{From: session.URI, Label: "threads"})

	disposed := false
	threadScope.OnDispose(func() { disposed = true })

	s.Dispose(thread.URI)

	require.Nil(t, s.Get(thread.URI))
	require.Empty(t, s.Forward(session.URI, "threads"))
	require.True(t, disposed)

	// idempotent
	require.NotPanics(t, func() { s.Dispose(thread.URI) })
}

func TestParseURISegments(t *testing.T) {
	segs := store.Parse("dap:session:a1b2/thread:3/stack:7/frame:42/scope:Locals/var:x.y")
	require.Equal(t, []store.Segment{
		{Type: "session", ID: "a1b2"},
		{Type: "thread", ID: "3"},
		{Type: "stack", ID: "7"},
		{Type: "frame", ID: "42"},
		{Type: "scope", ID: "Locals"},
		{Type: "var", ID: "x.y"},
	}, segs)
}

func TestChildBuildsURI(t *testing.T) {
	u := store.Child(store.Child(store.URI(""), "session", "a"), "thread", "3")
	require.Equal(t, store.URI("dap:session:a/thread:3"), u)
	require.Equal(t, store.Segment{Type: "thread", ID: "3"}, store.Last(u))
}

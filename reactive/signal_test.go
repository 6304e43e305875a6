package reactive_test

import (
	"testing"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/stretchr/testify/require"
)

func TestSignalUseFiresImmediatelyThenOnChange(t *testing.T) {
	s := reactive.NewSignal(1)
	var seen []int
	s.Use(func(v int) reactive.Cleanup {
		seen = append(seen, v)
		return nil
	})
	require.Equal(t, []int{1}, seen)

	s.Set(2)
	require.Equal(t, []int{1, 2}, seen)

	s.Set(2) // no-op, unchanged
	require.Equal(t, []int{1, 2}, seen)
}

func TestSignalWatchSkipsCurrentValue(t *testing.T) {
	s := reactive.NewSignal("a")
	var seen []string
	s.Watch(func(v string) reactive.Cleanup {
		seen = append(seen, v)
		return nil
	})
	require.Empty(t, seen)
	s.Set("b")
	require.Equal(t, []string{"b"}, seen)
}

func TestSignalSubscriberCleanupRunsBeforeNextFire(t *testing.T) {
	s := reactive.NewSignal(0)
	var order []string
	s.Use(func(v int) reactive.Cleanup {
		order = append(order, "fire")
		return func() { order = append(order, "cleanup") }
	})
	s.Set(1)
	s.Set(2)
	require.Equal(t, []string{"fire", "cleanup", "fire", "cleanup", "fire"}, order)
}

func TestSignalReleaseDetachesWithoutCleanup(t *testing.T) {
	s := reactive.NewSignal(5)
	cleaned := false
	s.Use(func(int) reactive.Cleanup {
		return func() { cleaned = true }
	})
	v := s.Release()
	require.Equal(t, 5, v)
	require.False(t, cleaned)
	s.SetForce(6) // no subscribers left, must not panic
}

func TestCollectionEachCurrentThenFuture(t *testing.T) {
	c := reactive.NewCollection[string, int]()
	c.Set("a", 1)

	var seen []string
	c.Each(func(k string, v int) { seen = append(seen, k) })
	require.Equal(t, []string{"a"}, seen)

	c.Set("b", 2)
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestCollectionSetFrontOrdersNewestFirst(t *testing.T) {
	c := reactive.NewCollection[int, string]()
	c.Set(1, "old")
	c.SetFront(2, "new")
	require.Equal(t, []string{"new", "old"}, c.Values())
}

func TestScopeDisposesChildrenBottomUpThenOwnCleanups(t *testing.T) {
	parent := reactive.NewScope()
	child := parent.Child()

	var order []string
	child.OnDispose(func() { order = append(order, "child") })
	parent.OnDispose(func() { order = append(order, "parent") })

	parent.Dispose()
	require.Equal(t, []string{"child", "parent"}, order)
	require.True(t, parent.Disposed())
	require.True(t, child.Disposed())
}

func TestScopeDisposeIsIdempotent(t *testing.T) {
	s := reactive.NewScope()
	count := 0
	s.OnDispose(func() { count++ })
	s.Dispose()
	s.Dispose()
	require.Equal(t, 1, count)
}

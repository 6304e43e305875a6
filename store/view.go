package store

import "github.com/Aetherall/neodap-sub014/reactive"

// View is a lazy, reactive collection of entities of a single type,
// optionally narrowed by equality predicates and edge traversals
// (spec.md §4.1: "view(type).where(field, value).follow(label, target_type)").
type View struct {
	coll *reactive.Collection[URI, *Entity]
}

// View returns the (cached) view over all entities of typ.
func (s *Store) View(typ string) *View {
	return &View{coll: s.typeBucket(typ)}
}

// Where narrows the view to entities whose field equals value. Each call
// returns a view backed by a bucket the Store maintains incrementally via
// SetField, so membership stays consistent with the store without
// re-scanning (spec.md "indexes are maintained incrementally").
func (s *Store) Where(typ, field, value string) *View {
	return &View{coll: s.fieldBucket(typ, field, value)}
}

// Where returns the same view as s.Where(typ, field, value). Callers
// typically chain store.View(typ).Where(...); this method exists for
// symmetry with the spec's fluent grammar. The receiver's own membership is
// not consulted: chaining Where after another Where or after Follow does not
// intersect the two, it yields every entity of typ whose field equals value.
func (v *View) Where(s *Store, typ, field, value string) *View {
	return s.Where(typ, field, value)
}

// Follow traverses label from every member of v (current and future) to
// entities of targetType, returning a new reactive view of the targets.
func (v *View) Follow(s *Store, label, targetType string) *View {
	out := reactive.NewCollection[URI, *Entity]()
	v.coll.Each(func(from URI, _ *Entity) {
		s.onForward(from, label, func(to URI) {
			if target := s.Get(to); target != nil && target.Type == targetType {
				out.Set(to, target)
			}
		})
	})
	return &View{coll: out}
}

// Iter returns a snapshot of current members.
func (v *View) Iter() []*Entity {
	return v.coll.Values()
}

// Count returns the number of current members.
func (v *View) Count() int {
	return v.coll.Len()
}

// GetOne returns the single member at key, if present — used when a view is
// expected to have at most one member (e.g. a Binding keyed by (session,
// breakpoint)).
func (v *View) GetOne(key URI) (*Entity, bool) {
	return v.coll.Get(key)
}

// Each invokes fn for every current member and every future member until
// the returned Cleanup runs.
func (v *View) Each(fn func(*Entity)) reactive.Cleanup {
	return v.coll.Each(func(_ URI, e *Entity) { fn(e) })
}

// Package store implements the reactive entity graph: a typed, URI-addressed
// table with edge adjacency and field indexes, whose views are O(1)
// incremental under insert/update/delete (spec.md §4.1).
package store

import (
	"fmt"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
)

// Entity is a stored node: a stable URI, a type tag, an opaque domain value,
// and the disposal Scope that owns its signals and sub-entities.
type Entity struct {
	URI   URI
	Type  string
	Value any
	Scope *reactive.Scope

	mu     sync.Mutex
	fields map[string]string
}

func newEntity(uri URI, typ string, value any, scope *reactive.Scope) *Entity {
	return &Entity{URI: uri, Type: typ, Value: value, Scope: scope, fields: map[string]string{}}
}

// Field returns the current value of an indexed field, if set.
func (e *Entity) Field(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.fields[name]
	return v, ok
}

type edgeKey struct {
	uri   URI
	label string
}

// Store is the single source of truth for a Debugger's entity graph: every
// Session, Thread, Stack, Frame, Scope, Variable, Source, Breakpoint, and
// Binding is registered here and queried exclusively through Views.
//
// Grounded on the teacher's ReactiveGraph (upstream/downstream adjacency
// lists over AnyExecutor) and TypeSafeCache[T] (a sync.Map-backed generic
// table), generalized from an executor-only DI graph to an arbitrary typed
// entity graph with field indexes.
type Store struct {
	mu sync.Mutex

	byURI    map[URI]*Entity
	byType   map[string]*reactive.Collection[URI, *Entity]
	byField  map[string]*reactive.Collection[URI, *Entity] // key: type|field|value
	edgesFwd map[edgeKey][]URI
	edgesRev map[edgeKey][]URI
	edgeSubs map[edgeKey][]func(URI)
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byURI:    map[URI]*Entity{},
		byType:   map[string]*reactive.Collection[URI, *Entity]{},
		byField:  map[string]*reactive.Collection[URI, *Entity]{},
		edgesFwd: map[edgeKey][]URI{},
		edgesRev: map[edgeKey][]URI{},
		edgeSubs: map[edgeKey][]func(URI){},
	}
}

// Edge declares a {from, label, to} triple to create at insertion time.
type Edge struct {
	From  URI
	Label string
}

// Add inserts a new entity. Panics if uri is already present — a duplicate
// URI is a programming error, never recoverable adapter input (spec.md
// §4.1, §7; SPEC_FULL.md §7 closes the "log vs panic" Open Question in
// favor of always panicking). No log line is written before the panic; the
// Store holds no logger.
func (s *Store) Add(uri URI, typ string, value any, scope *reactive.Scope, edges ...Edge) *Entity {
	s.mu.Lock()
	if _, exists := s.byURI[uri]; exists {
		s.mu.Unlock()
		panic(fmt.Sprintf("store: duplicate URI %q", uri))
	}
	e := newEntity(uri, typ, value, scope)
	s.byURI[uri] = e
	s.mu.Unlock()

	s.typeBucket(typ).Set(uri, e)

	for _, edge := range edges {
		s.AddEdge(edge.From, edge.Label, uri)
	}

	scope.OnDispose(func() { s.Dispose(uri) })
	return e
}

func (s *Store) typeBucket(typ string) *reactive.Collection[URI, *Entity] {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byType[typ]
	if !ok {
		b = reactive.NewCollection[URI, *Entity]()
		s.byType[typ] = b
	}
	return b
}

func (s *Store) fieldBucket(typ, field, value string) *reactive.Collection[URI, *Entity] {
	key := typ + "|" + field + "|" + value
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byField[key]
	if !ok {
		b = reactive.NewCollection[URI, *Entity]()
		s.byField[key] = b
	}
	return b
}

// SetField (re)publishes an entity's indexed field, moving it into the new
// (type, field, value) bucket. Used for hot-path lookups such as Binding by
// session_id/dap_id/location, and Frame by source_key/is_current
// (spec.md §4.1 "Indexing").
func (s *Store) SetField(uri URI, field, value string) {
	s.mu.Lock()
	e, ok := s.byURI[uri]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	old, had := e.fields[field]
	e.fields[field] = value
	e.mu.Unlock()
	if had && old != value {
		s.fieldBucket(e.Type, field, old).Delete(uri)
	}
	s.fieldBucket(e.Type, field, value).Set(uri, e)
}

// AddEdge appends {from, label, to} to the forward and reverse adjacency
// indexes (invariant 2: edge symmetry) and notifies any Follow views
// watching (from, label).
func (s *Store) AddEdge(from URI, label string, to URI) {
	s.addEdge(from, label, to, false)
}

// PrependEdge places to at the head of (from, label)'s target-ordered list,
// so chronologically newer targets (e.g. a thread's most recent Stack)
// sort first (spec.md §4.1, §4.5).
func (s *Store) PrependEdge(from URI, label string, to URI) {
	s.addEdge(from, label, to, true)
}

func (s *Store) addEdge(from URI, label string, to URI, front bool) {
	fk := edgeKey{from, label}
	rk := edgeKey{to, label}
	s.mu.Lock()
	if front {
		s.edgesFwd[fk] = append([]URI{to}, s.edgesFwd[fk]...)
	} else {
		s.edgesFwd[fk] = append(s.edgesFwd[fk], to)
	}
	s.edgesRev[rk] = append(s.edgesRev[rk], from)
	subs := append([]func(URI){}, s.edgeSubs[fk]...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(to)
	}
}

// onForward registers fn to fire for every current and future target of
// (from, label). Internal: used by View.Follow.
func (s *Store) onForward(from URI, label string, fn func(URI)) {
	fk := edgeKey{from, label}
	s.mu.Lock()
	current := append([]URI{}, s.edgesFwd[fk]...)
	s.edgeSubs[fk] = append(s.edgeSubs[fk], fn)
	s.mu.Unlock()
	for _, to := range current {
		fn(to)
	}
}

// Forward returns the current ordered targets of (from, label).
func (s *Store) Forward(from URI, label string) []URI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]URI{}, s.edgesFwd[edgeKey{from, label}]...)
}

// Reverse returns the current sources of edges labeled label pointing at
// to — the symmetric counterpart of Forward (invariant 2).
func (s *Store) Reverse(to URI, label string) []URI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]URI{}, s.edgesRev[edgeKey{to, label}]...)
}

// Get resolves uri to its Entity, or nil if absent (spec.md §4.1 "Resolution
// of a missing URI returns nil").
func (s *Store) Get(uri URI) *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byURI[uri]
}

// Dispose removes uri's entity, its edges (both directions), and disposes
// its scope. Reentrant-safe and idempotent (spec.md §4.1).
func (s *Store) Dispose(uri URI) {
	s.mu.Lock()
	e, ok := s.byURI[uri]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byURI, uri)

	// Scrub uri out of the forward list of every (src, label) that has an
	// edge into uri, using the reverse index to find src without scanning
	// every forward list (invariant 2: edge symmetry holds in both
	// directions after Dispose, not just the direction convenient to walk).
	for k, srcs := range s.edgesRev {
		if k.uri != uri {
			continue
		}
		for _, src := range srcs {
			fk := edgeKey{src, k.label}
			fwd := s.edgesFwd[fk]
			for i, to := range fwd {
				if to == uri {
					s.edgesFwd[fk] = append(fwd[:i], fwd[i+1:]...)
					break
				}
			}
		}
		delete(s.edgesRev, k)
	}

	for k := range s.edgesFwd {
		if k.uri == uri {
			delete(s.edgesFwd, k)
		}
	}
	for k, srcs := range s.edgesRev {
		for i, src := range srcs {
			if src == uri {
				s.edgesRev[k] = append(srcs[:i], srcs[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if b, ok := s.byType[e.Type]; ok {
		b.Delete(uri)
	}
	e.mu.Lock()
	fields := e.fields
	e.mu.Unlock()
	for field, value := range fields {
		s.fieldBucket(e.Type, field, value).Delete(uri)
	}

	e.Scope.Dispose()
}

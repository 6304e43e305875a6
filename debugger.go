package neodap

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/rs/zerolog"
)

// Debugger is the process-wide root (spec.md §2): it owns the entity store,
// the global Source/Breakpoint/ExceptionFilter catalogs, and the registered
// Adapter implementations a Session picks from by logical type.
type Debugger struct {
	store  *store.Store
	scope  *reactive.Scope
	logger zerolog.Logger

	mu       sync.Mutex
	adapters map[string]Adapter

	filtersMu sync.Mutex
	filters   map[string][]*ExceptionFilter // keyed by adapter logical type

	sourcesMu sync.Mutex
	sources   map[string]*Source // keyed by correlation key

	sessionsMu sync.Mutex
	sessions   map[string]*Session
}

// DebuggerOption configures a Debugger at construction, the functional-
// options idiom the teacher package uses for ScopeOption.
type DebuggerOption func(*Debugger)

// WithLogger overrides the default no-op logger.
func WithLogger(logger zerolog.Logger) DebuggerOption {
	return func(d *Debugger) { d.logger = logger }
}

// WithAdapter registers a, making it selectable by its Type() for both
// Debugger.Start and reverse-request child session spawning.
func WithAdapter(a Adapter) DebuggerOption {
	return func(d *Debugger) { d.adapters[a.Type()] = a }
}

// WithExceptionFilter registers a catalog entry for adapterType; every
// Session whose adapter has this logical type gets an ExceptionFilterBinding
// for it (spec.md §4.8).
func WithExceptionFilter(adapterType, filterID, label string) DebuggerOption {
	return func(d *Debugger) {
		d.filters[adapterType] = append(d.filters[adapterType], &ExceptionFilter{
			FilterID:    filterID,
			AdapterType: adapterType,
			Label:       label,
			enabled:     reactive.NewSignal(false),
		})
	}
}

// New constructs a Debugger. It is a process-wide singleton in the sense of
// spec.md §2, not literally global — embedders may hold more than one for
// testing.
func New(opts ...DebuggerOption) *Debugger {
	d := &Debugger{
		store:    store.New(),
		scope:    reactive.NewScope(),
		logger:   zerolog.Nop(),
		adapters: make(map[string]Adapter),
		filters:  make(map[string][]*ExceptionFilter),
		sources:  make(map[string]*Source),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store exposes the underlying entity store for view queries
// (spec.md §6 Embedding API: `view(type)`).
func (d *Debugger) Store() *store.Store { return d.store }

// Sessions returns a reactive view over every live top-level and child
// Session.
func (d *Debugger) Sessions() *store.View { return d.store.View("session") }

// Start creates and initializes a new root Session against the adapter
// named by config.AdapterType, running the full initialization contract of
// spec.md §4.4 before returning.
func (d *Debugger) Start(ctx context.Context, config SessionConfig) (*Session, error) {
	d.mu.Lock()
	adapter, ok := d.adapters[config.AdapterType]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("neodap: no adapter registered for type %q", config.AdapterType)
	}
	config.Adapter = adapter

	sess, err := newSession(d, nil, config, d.scope.Child())
	if err != nil {
		return nil, err
	}

	d.sessionsMu.Lock()
	d.sessions[sess.id] = sess
	d.sessionsMu.Unlock()

	if err := sess.bootstrap(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Source returns the debugger-global Source for path, creating it if this
// is the first reference — the embedder's entry point for declaring a
// Breakpoint against a file before any Session has reported it via a
// stackTrace frame or loadedSource event (spec.md §4.7 scenario A: "a
// breakpoint at script.js:3" declared ahead of launch).
func (d *Debugger) Source(path string) *Source {
	return d.resolveSource(path, SourceHint{Path: path})
}

// resolveSource returns the existing Source for key, or creates one scoped
// to the debugger (spec.md §4.6: "global, deduplicated").
func (d *Debugger) resolveSource(key string, hint SourceHint) *Source {
	d.sourcesMu.Lock()
	defer d.sourcesMu.Unlock()
	if src, ok := d.sources[key]; ok {
		src.applyHint(hint)
		return src
	}
	uri := store.Child("", "source", key)
	src := newSource(d, key, hint)
	d.sources[key] = src
	d.store.Add(uri, "source", src, d.scope.Child())
	d.store.SetField(uri, "correlation_key", key)
	return src
}

// breakpointsFor returns every Breakpoint attached to src, enabled or not,
// in declaration order; callers use it to create Bindings, and the
// breakpoint push algorithm (spec.md §4.4) skips disabled ones itself.
func (d *Debugger) breakpointsFor(src *Source) []*Breakpoint {
	view := d.store.Where("breakpoint", "source_key", src.key)
	var out []*Breakpoint
	for _, e := range view.Iter() {
		bp := e.Value.(*Breakpoint)
		out = append(out, bp)
	}
	return out
}

// exceptionFiltersFor returns the filter catalog registered for a session's
// adapter logical type.
func (d *Debugger) exceptionFiltersFor(logicalType string) []*ExceptionFilter {
	d.filtersMu.Lock()
	defer d.filtersMu.Unlock()
	return append([]*ExceptionFilter(nil), d.filters[logicalType]...)
}

package neodap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Aetherall/neodap-sub014/protocol"
	"github.com/Aetherall/neodap-sub014/reactive"
	"github.com/Aetherall/neodap-sub014/store"
	"github.com/google/go-dap"
)

// SessionState is one of the states of spec.md §4.4: "initializing →
// running ⇄ stopped → terminated (terminal). No state resurrects."
type SessionState string

const (
	SessionInitializing SessionState = "initializing"
	SessionRunning      SessionState = "running"
	SessionStopped      SessionState = "stopped"
	SessionTerminated   SessionState = "terminated"
)

// initTimeout is the one adapter-level timeout spec.md §5 mandates
// ("default 5s on initialization exchanges"); it doubles as the safety cap
// on the hit-attribution causality barrier (SPEC_FULL.md §9 OQ1).
const initTimeout = 5 * time.Second

// SessionConfig is the launch/attach payload and adapter selection for a
// new Session (spec.md §6 "Adapter configuration").
type SessionConfig struct {
	AdapterType string
	Adapter     Adapter
	Request     string // "launch" | "attach"
	Launch      json.RawMessage
	Attach      json.RawMessage
	Restart     bool // the __restart flag (native-restart fallback path)
}

// breakpointSyncState backs the per-source causality barrier of SPEC_FULL.md
// §9 OQ1: a `stopped` event without hitBreakpointIds waits on this instead
// of a fixed timer before falling back to location-based inference.
type breakpointSyncState struct {
	mu   sync.Mutex
	done chan struct{} // closed when the in-flight setBreakpoints settles
}

// Session is one client-side connection and state machine for one adapter
// instance (spec.md Glossary, §4.4).
type Session struct {
	debugger *Debugger
	parent   *Session
	logical  string
	config   SessionConfig
	adapter  Adapter

	id    string
	uri   store.URI
	scope *reactive.Scope

	client         *protocol.Client
	state          *reactive.Signal[SessionState]
	capabilities   *reactive.Signal[dap.Capabilities]
	startMethod    *reactive.Signal[string]
	processID      *reactive.Signal[int]
	isAutoAttached *reactive.Signal[bool]

	sourceBindingsMu sync.Mutex
	sourceBindingsBy map[string]*SourceBinding

	breakpointSyncMu sync.Mutex
	breakpointSync   map[string]*breakpointSyncState

	outputSeqMu sync.Mutex
	outputSeq   int

	threadsMu   sync.Mutex
	threadsByID map[int]*Thread

	onThread                 *reactive.Emitter[*Thread]
	onBinding                *reactive.Emitter[*Binding]
	onOutput                 *reactive.Emitter[*Output]
	onChild                  *reactive.Emitter[*Session]
	onRestart                *reactive.Emitter[struct{}]
	onRestarted              *reactive.Emitter[*Session]
	onSource                 *reactive.Emitter[*Source]
	onExceptionFilterBinding *reactive.Emitter[*ExceptionFilterBinding]
}

func newSession(d *Debugger, parent *Session, config SessionConfig, scope *reactive.Scope) (*Session, error) {
	id := newSessionID()
	uri := store.Child("", "session", id)
	sess := &Session{
		debugger:         d,
		parent:           parent,
		logical:          config.Adapter.Type(),
		config:           config,
		adapter:          config.Adapter,
		id:               id,
		uri:              uri,
		scope:            scope,
		state:            reactive.NewSignal(SessionInitializing),
		capabilities:     reactive.NewSignal(dap.Capabilities{}),
		startMethod:      reactive.NewSignal(""),
		processID:        reactive.NewSignal(0),
		isAutoAttached:   reactive.NewSignal(false),
		sourceBindingsBy: make(map[string]*SourceBinding),
		breakpointSync:   make(map[string]*breakpointSyncState),
		threadsByID:      make(map[int]*Thread),
		onThread:                 reactive.NewEmitter[*Thread](),
		onBinding:                reactive.NewEmitter[*Binding](),
		onOutput:                 reactive.NewEmitter[*Output](),
		onChild:                  reactive.NewEmitter[*Session](),
		onRestart:                reactive.NewEmitter[struct{}](),
		onRestarted:              reactive.NewEmitter[*Session](),
		onSource:                 reactive.NewEmitter[*Source](),
		onExceptionFilterBinding: reactive.NewEmitter[*ExceptionFilterBinding](),
	}

	var edges []store.Edge
	if parent != nil {
		edges = append(edges, store.Edge{From: parent.uri, Label: "children"})
	}
	d.store.Add(uri, "session", sess, scope, edges...)
	d.store.SetField(uri, "logical_type", sess.logical)
	if parent != nil {
		d.store.SetField(uri, "parent_id", parent.id)
	}

	scope.OnDispose(func() {
		d.sessionsMu.Lock()
		delete(d.sessions, id)
		d.sessionsMu.Unlock()
	})

	return sess, nil
}

func (s *Session) URI() store.URI          { return s.uri }
func (s *Session) ID() string              { return s.id }
func (s *Session) Logical() string         { return s.logical }
func (s *Session) State() SessionState     { return s.state.Get() }
func (s *Session) Capabilities() dap.Capabilities { return s.capabilities.Get() }
func (s *Session) Parent() *Session        { return s.parent }
func (s *Session) StartMethod() string     { return s.startMethod.Get() }
func (s *Session) ProcessID() int          { return s.processID.Get() }

// IsAutoAttached reports spec.md §4.4's "attachForSuspendedLaunch" process
// start method: a launch that handed the debuggee to a suspended attach
// rather than spawning it directly under the adapter.
func (s *Session) IsAutoAttached() bool { return s.isAutoAttached.Get() }

func (s *Session) Threads() *store.View        { return s.debugger.store.Where("thread", "session_id", s.id) }
func (s *Session) Bindings() *store.View       { return s.debugger.store.Where("binding", "session_id", s.id) }
func (s *Session) Children() *store.View       { return s.debugger.store.Where("session", "parent_id", s.id) }
func (s *Session) Outputs() *store.View        { return s.debugger.store.Where("output", "session_id", s.id) }
func (s *Session) SourceBindings() *store.View { return s.debugger.store.Where("sourcebinding", "session_id", s.id) }
func (s *Session) Variables() *store.View      { return s.debugger.store.Where("var", "session_id", s.id) }

// Sources returns the global Source entities this session currently holds a
// SourceBinding for. Source entities are stored debugger-wide with no
// per-session index field (spec.md §4.6), so this is a snapshot over
// sourceBindingsBy rather than a store.View like the others.
func (s *Session) Sources() []*Source {
	s.sourceBindingsMu.Lock()
	defer s.sourceBindingsMu.Unlock()
	out := make([]*Source, 0, len(s.sourceBindingsBy))
	for _, sb := range s.sourceBindingsBy {
		out = append(out, sb.source)
	}
	return out
}

func (s *Session) OnThread(fn func(*Thread)) reactive.Cleanup   { return s.onThread.On(fn) }
func (s *Session) OnBinding(fn func(*Binding)) reactive.Cleanup { return s.onBinding.On(fn) }
func (s *Session) OnOutput(fn func(*Output)) reactive.Cleanup   { return s.onOutput.On(fn) }
func (s *Session) OnChild(fn func(*Session)) reactive.Cleanup   { return s.onChild.On(fn) }
func (s *Session) OnRestarted(fn func(*Session)) reactive.Cleanup { return s.onRestarted.On(fn) }
func (s *Session) OnSource(fn func(*Source)) reactive.Cleanup   { return s.onSource.On(fn) }
func (s *Session) OnExceptionFilterBinding(fn func(*ExceptionFilterBinding)) reactive.Cleanup {
	return s.onExceptionFilterBinding.On(fn)
}
func (s *Session) OnRestart(fn func()) reactive.Cleanup {
	return s.onRestart.On(func(struct{}) { fn() })
}

// bootstrap runs the full initialization contract of spec.md §4.4.
func (s *Session) bootstrap(ctx context.Context) error {
	transport, err := s.adapter.Connect(ctx)
	if err != nil {
		return fmt.Errorf("neodap: adapter connect failed: %w", err)
	}
	s.client = protocol.New(transport, s.debugger.logger.With().Str("session_id", s.id).Logger())
	s.wireEvents()
	s.wireReverseRequests()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- s.client.Run(context.Background()) }()

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	s.ensureExceptionFilterBindings()

	initializedCh := make(chan struct{}, 1)
	s.client.OnEvent("initialized", func(any) {
		select {
		case initializedCh <- struct{}{}:
		default:
		}
	})

	resp, err := s.client.Request(initCtx, "initialize", map[string]any{
		"clientID":                    "neodap",
		"adapterID":                   s.logical,
		"linesStartAt1":               true,
		"columnsStartAt1":             true,
		"supportsRunInTerminalRequest": true,
		"supportsStartDebuggingRequest": true,
	})
	if err != nil {
		return err
	}
	s.capabilities.SetForce(resp.(*dap.InitializeResponse).Body)

	launchCmd := "launch"
	payload := s.config.Launch
	if s.config.Request == "attach" {
		launchCmd = "attach"
		payload = s.config.Attach
	}
	var args map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return fmt.Errorf("neodap: invalid %s payload: %w", launchCmd, err)
		}
	} else {
		args = map[string]any{}
	}
	if s.config.Restart {
		args["__restart"] = true
	}

	launchErrCh := make(chan error, 1)
	go func() {
		_, err := s.client.Request(initCtx, launchCmd, args)
		launchErrCh <- err
	}()

	select {
	case <-initializedCh:
	case err := <-launchErrCh:
		if err != nil {
			return err
		}
		select {
		case <-initializedCh:
		case <-initCtx.Done():
			return fmt.Errorf("neodap: timed out waiting for initialized event: %w", initCtx.Err())
		}
	case <-initCtx.Done():
		return fmt.Errorf("neodap: timed out waiting for initialized event: %w", initCtx.Err())
	}

	s.syncAllBreakpoints()
	s.pushExceptionFilters()

	if _, err := s.client.Request(initCtx, "configurationDone", nil); err != nil {
		return err
	}

	if err := <-launchErrCh; err != nil {
		return err
	}

	s.state.Set(SessionRunning)
	return nil
}

// ensureBinding creates the Binding for bp if one does not already exist
// (invariant 6: at most one per (Breakpoint, Session)).
func (s *Session) ensureBinding(bp *Breakpoint) *Binding {
	uri := store.Child(s.uri, "binding", bp.id)
	if e := s.debugger.store.Get(uri); e != nil {
		return e.Value.(*Binding)
	}
	b := newBinding(s, bp)
	s.onBinding.Emit(b)
	return b
}

// ensureAllBindingsForSource auto-populates a Binding for every existing
// Breakpoint attached to src (spec.md §4.7 "Binding auto-populates... when
// a new Session is created").
func (s *Session) ensureAllBindingsForSource(src *Source) {
	for _, bp := range s.debugger.breakpointsFor(src) {
		s.ensureBinding(bp)
	}
}

// syncAllBreakpoints pushes every known source once, used on `initialized`.
func (s *Session) syncAllBreakpoints() {
	s.debugger.sourcesMu.Lock()
	sources := make([]*Source, 0, len(s.debugger.sources))
	for _, src := range s.debugger.sources {
		sources = append(sources, src)
	}
	s.debugger.sourcesMu.Unlock()

	for _, src := range sources {
		s.ensureAllBindingsForSource(src)
		s.pushBreakpointsForSource(src)
	}
}

// pushBreakpointsForSource implements the breakpoint push algorithm of
// spec.md §4.4, serialized per (Session, Source) via breakpointSync.
func (s *Session) pushBreakpointsForSource(src *Source) {
	sync := s.syncStateFor(src.key)
	sync.mu.Lock()
	defer sync.mu.Unlock()

	done := make(chan struct{})
	sync.done = done
	defer close(done)

	if s.client == nil {
		// Session hasn't connected yet: bootstrap's own syncAllBreakpoints
		// call will cover src once the client exists.
		return
	}

	descriptor, ok := src.dapDescriptor(s)
	if !ok {
		// No SourceBinding for this virtual source in this session: the
		// breakpoints are not portable here (SPEC_FULL.md §9 OQ2).
		return
	}

	bindings := s.bindingsForSource(src)
	var dapBreakpoints []dap.SourceBreakpoint
	var ordered []*Binding
	for _, b := range bindings {
		if !b.breakpoint.Enabled() {
			continue
		}
		dapBreakpoints = append(dapBreakpoints, dap.SourceBreakpoint{
			Line:         b.breakpoint.line,
			Column:       b.breakpoint.column,
			Condition:    b.breakpoint.condition.Get(),
			HitCondition: b.breakpoint.hitCondition.Get(),
			LogMessage:   b.breakpoint.logMessage.Get(),
		})
		ordered = append(ordered, b)
	}

	resp, err := s.client.Request(context.Background(), "setBreakpoints", map[string]any{
		"source":      descriptor,
		"breakpoints": dapBreakpoints,
	})
	if err != nil {
		s.debugger.logger.Warn().Err(err).Str("source", src.key).Msg("setBreakpoints refused")
		return
	}
	body := resp.(*dap.SetBreakpointsResponse).Body
	if len(body.Breakpoints) != len(ordered) {
		s.debugger.logger.Warn().Str("source", src.key).Msg("setBreakpoints response length mismatch")
		return
	}
	for i, rb := range body.Breakpoints {
		ordered[i].applyAdapterResult(rb.Id, rb.Verified, rb.Message, rb.Line, rb.Column)
	}
}

func (s *Session) bindingsForSource(src *Source) []*Binding {
	var out []*Binding
	for _, e := range s.Bindings().Iter() {
		b := e.Value.(*Binding)
		if b.breakpoint.source.key == src.key {
			out = append(out, b)
		}
	}
	return out
}

func (s *Session) syncStateFor(key string) *breakpointSyncState {
	s.breakpointSyncMu.Lock()
	defer s.breakpointSyncMu.Unlock()
	st, ok := s.breakpointSync[key]
	if !ok {
		st = &breakpointSyncState{}
		s.breakpointSync[key] = st
	}
	return st
}

// awaitBreakpointSync blocks until any in-flight setBreakpoints for key
// settles, or initTimeout elapses — the causality barrier of SPEC_FULL.md
// §9 OQ1, replacing a fixed grace period.
func (s *Session) awaitBreakpointSync(key string) {
	s.breakpointSyncMu.Lock()
	st, ok := s.breakpointSync[key]
	s.breakpointSyncMu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	done := st.done
	st.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(initTimeout):
	}
}

func (s *Session) sourceBinding(key string) *SourceBinding {
	s.sourceBindingsMu.Lock()
	defer s.sourceBindingsMu.Unlock()
	return s.sourceBindingsBy[key]
}

// pushExceptionFilters implements spec.md §4.8.
func (s *Session) pushExceptionFilters() {
	filters := s.debugger.exceptionFiltersFor(s.logical)
	var enabledIDs []string
	var ordered []*ExceptionFilterBinding
	for _, f := range filters {
		uri := store.Child(s.uri, "excfilterbinding", f.FilterID)
		e := s.debugger.store.Get(uri)
		if e == nil {
			continue
		}
		efb := e.Value.(*ExceptionFilterBinding)
		if f.Enabled() {
			enabledIDs = append(enabledIDs, f.FilterID)
			ordered = append(ordered, efb)
		}
	}
	if s.client == nil {
		return
	}
	resp, err := s.client.Request(context.Background(), "setExceptionBreakpoints", map[string]any{"filters": enabledIDs})
	if err != nil {
		s.debugger.logger.Warn().Err(err).Msg("setExceptionBreakpoints refused")
		return
	}
	body := resp.(*dap.SetExceptionBreakpointsResponse).Body
	for i, rb := range body.Breakpoints {
		if i < len(ordered) {
			ordered[i].applyAdapterResult(rb.Verified, rb.Message)
		}
	}
}

// ensureExceptionFilterBindings is called once at session creation so every
// catalog entry for this logical type has a Binding before configurationDone
// (spec.md §4.8).
func (s *Session) ensureExceptionFilterBindings() {
	for _, f := range s.debugger.exceptionFiltersFor(s.logical) {
		efb := newExceptionFilterBinding(s, f)
		s.onExceptionFilterBinding.Emit(efb)
	}
}

// activateFrameBindings implements spec.md §4.5 "Frame ↔ Binding
// activation" for the top (index 0) frame of a newly-built current stack.
func (s *Session) activateFrameBindings(frame *Frame) {
	if frame.index != 0 || frame.stack.reason != "breakpoint" {
		return
	}
	for _, e := range s.Bindings().Iter() {
		b := e.Value.(*Binding)
		if b.breakpoint.source.key != frame.sourceKey {
			continue
		}
		if b.breakpoint.line == frame.line || b.actualLine.Get() == frame.line {
			b.setActiveFrame(frame.uri)
		}
	}
}

// Continue resumes execution; all current stacks for this session are
// expired and every binding's hit/active_frame cleared (spec.md §4.4
// `continued` event, but applied eagerly here since the `continue` response
// and the `continued` event carry the same information for a single-thread
// continue; the `continued` event handler is idempotent against this).
func (s *Session) Continue(ctx context.Context, threadID int) error {
	_, err := s.client.Request(ctx, "continue", map[string]any{"threadId": threadID})
	if err != nil {
		return err
	}
	s.handleContinued(threadID, true)
	return nil
}

func (s *Session) Next(ctx context.Context, threadID int) error {
	_, err := s.client.Request(ctx, "next", map[string]any{"threadId": threadID})
	return err
}

func (s *Session) StepIn(ctx context.Context, threadID int) error {
	_, err := s.client.Request(ctx, "stepIn", map[string]any{"threadId": threadID})
	return err
}

func (s *Session) StepOut(ctx context.Context, threadID int) error {
	_, err := s.client.Request(ctx, "stepOut", map[string]any{"threadId": threadID})
	return err
}

func (s *Session) Pause(ctx context.Context, threadID int) error {
	_, err := s.client.Request(ctx, "pause", map[string]any{"threadId": threadID})
	return err
}

// FetchThreads issues threads, the adapter's authoritative thread list,
// updating Thread.Name() for threads already tracked via the `thread`
// event and creating entries for any the adapter reports that this
// Session hasn't seen yet (spec.md §6's minimum command set).
func (s *Session) FetchThreads(ctx context.Context) ([]*Thread, error) {
	resp, err := s.client.Request(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.ThreadsResponse).Body
	out := make([]*Thread, 0, len(body.Threads))
	for _, dt := range body.Threads {
		t := s.threadByID(dt.Id)
		t.name.Set(dt.Name)
		out = append(out, t)
	}
	return out, nil
}

// BreakpointLocations issues breakpointLocations for src between line and
// endLine, the optional verification query of spec.md §6's minimum
// command set used to preview where a breakpoint would actually bind
// before calling AddBreakpoint.
func (s *Session) BreakpointLocations(ctx context.Context, src *Source, line, endLine int) ([]dap.BreakpointLocation, error) {
	descriptor, ok := src.dapDescriptor(s)
	if !ok {
		return nil, &ErrExpired{URI: src.key}
	}
	args := map[string]any{"source": descriptor, "line": line}
	if endLine != 0 {
		args["endLine"] = endLine
	}
	resp, err := s.client.Request(ctx, "breakpointLocations", args)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.BreakpointLocationsResponse).Body.Breakpoints, nil
}

// FetchLoadedSources issues loadedSources and folds each result through the
// same resolve/bind/push path as an unsolicited `loadedSource` event
// (spec.md §6's minimum command set; §4.6 correlation).
func (s *Session) FetchLoadedSources(ctx context.Context) ([]*Source, error) {
	resp, err := s.client.Request(ctx, "loadedSources", nil)
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.LoadedSourcesResponse).Body
	out := make([]*Source, 0, len(body.Sources))
	for _, ds := range body.Sources {
		out = append(out, s.resolveLoadedSource(sourceHintFromDAP(ds)))
	}
	return out, nil
}

// resolveLoadedSource is the common body of FetchLoadedSources and the
// `loadedSource` "new" event handler: resolve the global Source, bind it to
// this session, push any pending breakpoints, and notify OnSource.
func (s *Session) resolveLoadedSource(hint SourceHint) *Source {
	key := correlationKey(hint)
	s.sourceBindingsMu.Lock()
	_, exists := s.sourceBindingsBy[key]
	s.sourceBindingsMu.Unlock()
	if exists {
		return s.debugger.resolveSource(key, hint)
	}

	src := s.debugger.resolveSource(key, hint)
	sb := newSourceBinding(s, src, hint.SourceReference, nil)
	s.sourceBindingsMu.Lock()
	s.sourceBindingsBy[key] = sb
	s.sourceBindingsMu.Unlock()
	s.ensureAllBindingsForSource(src)
	s.pushBreakpointsForSource(src)
	s.onSource.Emit(src)
	return src
}

// Disconnect issues disconnect, gated on nothing (always available).
func (s *Session) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	_, err := s.client.Request(ctx, "disconnect", map[string]any{"terminateDebuggee": terminateDebuggee})
	return err
}

// Terminate is gated on supportsTerminateRequest (spec.md §7).
func (s *Session) Terminate(ctx context.Context) error {
	if !s.capabilities.Get().SupportsTerminateRequest {
		return &ErrUnsupportedCapability{Capability: "terminate"}
	}
	_, err := s.client.Request(ctx, "terminate", nil)
	return err
}

// Restart implements spec.md §4.4 "Restart": native when supported, else
// disconnect-and-spawn. The returned bool is sameURI (SPEC_FULL.md §9 OQ3).
func (s *Session) Restart(ctx context.Context) (sameURI bool, newSession *Session, err error) {
	s.onRestart.Emit(struct{}{})

	if s.capabilities.Get().SupportsRestartRequest {
		if _, err := s.client.Request(ctx, "restart", nil); err != nil {
			return false, nil, err
		}
		s.disposeEphemeral()
		s.onRestarted.Emit(s)
		return true, s, nil
	}

	if err := s.Disconnect(ctx, true); err != nil {
		return false, nil, err
	}
	cfg := s.config
	cfg.Restart = true
	next, err := newSession(s.debugger, s.parent, cfg, s.debugger.scope.Child())
	if err != nil {
		return false, nil, err
	}
	s.debugger.sessionsMu.Lock()
	s.debugger.sessions[next.id] = next
	s.debugger.sessionsMu.Unlock()
	if err := next.bootstrap(ctx); err != nil {
		return false, nil, err
	}
	next.onRestarted.Emit(next)
	return false, next, nil
}

// disposeEphemeral tears down threads and outputs but keeps the Session
// itself (spec.md §4.4 native-restart branch).
func (s *Session) disposeEphemeral() {
	for _, e := range s.Threads().Iter() {
		e.Value.(*Thread).dispose()
	}
	for _, e := range s.debugger.store.Where("output", "session_id", s.id).Iter() {
		s.debugger.store.Dispose(e.URI)
	}
}

func (s *Session) nextOutputIndex() int {
	s.outputSeqMu.Lock()
	defer s.outputSeqMu.Unlock()
	s.outputSeq++
	return s.outputSeq
}

package neodap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
)

// wireEvents registers every adapter event handler of spec.md §4.4's event
// wiring table. Handlers run on the Client's single dispatch-loop goroutine.
func (s *Session) wireEvents() {
	s.client.OnEvent("thread", func(payload any) { s.handleThreadEvent(payload.(*dap.ThreadEvent)) })
	s.client.OnEvent("stopped", func(payload any) { s.handleStoppedEvent(payload.(*dap.StoppedEvent)) })
	s.client.OnEvent("continued", func(payload any) { s.handleContinuedEvent(payload.(*dap.ContinuedEvent)) })
	s.client.OnEvent("output", func(payload any) { s.handleOutputEvent(payload.(*dap.OutputEvent)) })
	s.client.OnEvent("breakpoint", func(payload any) { s.handleBreakpointEvent(payload.(*dap.BreakpointEvent)) })
	s.client.OnEvent("loadedSource", func(payload any) { s.handleLoadedSourceEvent(payload.(*dap.LoadedSourceEvent)) })
	s.client.OnEvent("process", func(payload any) { s.handleProcessEvent(payload.(*dap.ProcessEvent)) })
	s.client.OnEvent("terminated", func(payload any) { s.handleTerminatedEvent() })
	s.client.OnEvent("exited", func(payload any) { s.handleTerminatedEvent() })
}

func (s *Session) wireReverseRequests() {
	s.client.OnRequest("runInTerminal", func(args any) (any, error) {
		req := args.(*dap.RunInTerminalRequest)
		kind := TerminalIntegrated
		if req.Arguments.Kind == "external" {
			kind = TerminalExternal
		}
		pid, err := s.adapter.SpawnTerminal(context.Background(), TerminalRequest{
			Kind:  kind,
			Title: req.Arguments.Title,
			Cwd:   req.Arguments.Cwd,
			Args:  req.Arguments.Args,
			Env:   flattenEnv(req.Arguments.Env),
		})
		if err != nil {
			return nil, err
		}
		return dap.RunInTerminalResponseBody{ProcessId: pid}, nil
	})

	s.client.OnRequest("startDebugging", func(args any) (any, error) {
		req := args.(*dap.StartDebuggingRequest)
		cfg := SessionConfig{
			AdapterType: s.logical,
			Adapter:     s.adapter,
			Request:     req.Arguments.Request,
		}
		raw, err := dapRawArguments(req.Arguments.Configuration)
		if err != nil {
			return nil, err
		}
		if cfg.Request == "attach" {
			cfg.Attach = raw
		} else {
			cfg.Launch = raw
		}

		child, err := newSession(s.debugger, s, cfg, s.scope.Child())
		if err != nil {
			return nil, err
		}
		s.debugger.sessionsMu.Lock()
		s.debugger.sessions[child.id] = child
		s.debugger.sessionsMu.Unlock()

		go func() {
			if err := child.bootstrap(context.Background()); err != nil {
				s.debugger.logger.Warn().Err(err).Str("child_session", child.id).Msg("child session bootstrap failed")
				return
			}
			s.onChild.Emit(child)
		}()
		return struct{}{}, nil
	})
}

func (s *Session) handleThreadEvent(ev *dap.ThreadEvent) {
	switch ev.Body.Reason {
	case "started":
		t := newThread(s, ev.Body.ThreadId, "")
		s.threadsMu.Lock()
		s.threadsByID[ev.Body.ThreadId] = t
		s.threadsMu.Unlock()
		s.onThread.Emit(t)
	case "exited":
		s.threadsMu.Lock()
		t, ok := s.threadsByID[ev.Body.ThreadId]
		delete(s.threadsByID, ev.Body.ThreadId)
		s.threadsMu.Unlock()
		if ok {
			t.dispose()
		}
	}
}

func (s *Session) threadByID(id int) *Thread {
	s.threadsMu.Lock()
	defer s.threadsMu.Unlock()
	t, ok := s.threadsByID[id]
	if !ok {
		t = newThread(s, id, "")
		s.threadsByID[id] = t
	}
	return t
}

// handleStoppedEvent implements spec.md §4.4 `stopped` wiring and §4.7 hit
// attribution (precise and inferred paths).
func (s *Session) handleStoppedEvent(ev *dap.StoppedEvent) {
	s.state.Set(SessionStopped)
	t := s.threadByID(ev.Body.ThreadId)
	t.state.Set("stopped")
	t.stopReason.Set(ev.Body.Reason)
	t.expireCurrentStack()

	if ev.Body.Reason != "breakpoint" {
		return
	}

	if len(ev.Body.HitBreakpointIds) > 0 {
		s.attributeHitsPrecise(ev.Body.HitBreakpointIds)
		return
	}
	go s.attributeHitsInferred(t)
}

func (s *Session) attributeHitsPrecise(dapIDs []int) {
	for _, e := range s.Bindings().Iter() {
		b := e.Value.(*Binding)
		for _, id := range dapIDs {
			if b.DapID() == id {
				b.setHit(true)
			}
		}
	}
}

// attributeHitsInferred implements SPEC_FULL.md §9 OQ1: wait for any
// in-flight setBreakpoints for the stopped thread's top-frame source before
// falling back to location matching, instead of a fixed grace period.
func (s *Session) attributeHitsInferred(t *Thread) {
	stack, err := t.Stack(context.Background())
	if err != nil || stack == nil || len(stack.frames) == 0 {
		return
	}
	top := stack.frames[0]
	s.awaitBreakpointSync(top.sourceKey)

	for _, e := range s.Bindings().Iter() {
		b := e.Value.(*Binding)
		if b.breakpoint.source.key != top.sourceKey {
			continue
		}
		if b.breakpoint.line == top.line || b.actualLine.Get() == top.line {
			b.setHit(true)
		}
	}
}

func (s *Session) handleContinuedEvent(ev *dap.ContinuedEvent) {
	s.handleContinued(ev.Body.ThreadId, ev.Body.AllThreadsContinued)
}

// handleContinued clears hit/active_frame for this session's bindings and
// expires current stacks (spec.md §4.4, invariant 3 via Universal Invariant
// 3). Called both from the `continued` event and eagerly from Continue.
func (s *Session) handleContinued(threadID int, allThreads bool) {
	for _, e := range s.Bindings().Iter() {
		e.Value.(*Binding).setHit(false)
	}
	s.threadsMu.Lock()
	threads := make([]*Thread, 0, len(s.threadsByID))
	for id, t := range s.threadsByID {
		if allThreads || id == threadID {
			threads = append(threads, t)
		}
	}
	s.threadsMu.Unlock()
	for _, t := range threads {
		t.state.Set("running")
		t.expireCurrentStack()
	}
	s.state.Set(SessionRunning)
}

func (s *Session) handleOutputEvent(ev *dap.OutputEvent) {
	idx := s.nextOutputIndex()
	o := newOutput(s, idx, ev.Body)
	s.onOutput.Emit(o)
}

func (s *Session) handleBreakpointEvent(ev *dap.BreakpointEvent) {
	for _, e := range s.Bindings().Iter() {
		b := e.Value.(*Binding)
		if b.DapID() == ev.Body.Breakpoint.Id {
			b.applyAdapterResult(ev.Body.Breakpoint.Id, ev.Body.Breakpoint.Verified,
				ev.Body.Breakpoint.Message, ev.Body.Breakpoint.Line, ev.Body.Breakpoint.Column)
		}
	}
}

// handleLoadedSourceEvent implements spec.md §4.4/§4.6 and SPEC_FULL.md §9
// OQ2: the Source and its Breakpoints are kept on `removed`; only the
// SourceBinding is disposed, which already prevents repush because
// pushBreakpointsForSource skips sessions with no SourceBinding for a
// virtual source.
func (s *Session) handleLoadedSourceEvent(ev *dap.LoadedSourceEvent) {
	hint := sourceHintFromDAP(ev.Body.Source)
	key := correlationKey(hint)

	switch ev.Body.Reason {
	case "removed":
		s.sourceBindingsMu.Lock()
		sb, ok := s.sourceBindingsBy[key]
		delete(s.sourceBindingsBy, key)
		s.sourceBindingsMu.Unlock()
		if ok {
			sb.dispose()
		}
		return
	case "changed":
		src := s.debugger.resolveSource(key, hint)
		s.onSource.Emit(src)
		return
	default: // "new"
		s.resolveLoadedSource(hint)
	}
}

func (s *Session) handleProcessEvent(ev *dap.ProcessEvent) {
	s.processID.Set(ev.Body.SystemProcessId)
	s.startMethod.Set(ev.Body.StartMethod)
	s.isAutoAttached.Set(ev.Body.StartMethod == "attachForSuspendedLaunch")
}

// handleTerminatedEvent disposes every session-scoped entity via the
// session's own reactive.Scope, then the session entity itself (spec.md
// §4.4 `terminated` wiring).
func (s *Session) handleTerminatedEvent() {
	if s.state.Get() == SessionTerminated {
		return
	}
	s.state.Set(SessionTerminated)
	s.debugger.store.Dispose(s.uri)
}

func flattenEnv(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func dapRawArguments(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

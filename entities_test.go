package neodap

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/Aetherall/neodap-sub014/protocol"
	"github.com/google/go-dap"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// pipeConn glues a pair of io.Pipe halves into one ReadWriteCloser, the same
// fake transport protocol/client_test.go uses for its adapter-side harness.
type pipeConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeConn) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func newPipePair() (clientSide, adapterSide *pipeConn) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	clientSide = &pipeConn{r: r2, w: w1}
	adapterSide = &pipeConn{r: r1, w: w2}
	return
}

// newTestSession builds a Session with a live protocol.Client wired to a
// pipe, bypassing Debugger.Start/Session.bootstrap's handshake so tests can
// drive individual requests directly.
func newTestSession(t *testing.T) (*Session, *pipeConn) {
	t.Helper()
	d := New()
	clientConn, adapterConn := newPipePair()
	cfg := SessionConfig{AdapterType: "node", Adapter: &stubAdapter{}, Request: "launch"}
	sess, err := newSession(d, nil, cfg, d.scope.Child())
	require.NoError(t, err)
	sess.client = protocol.New(clientConn, zerolog.Nop())
	sess.wireEvents()
	sess.wireReverseRequests()
	go sess.client.Run(context.Background())
	d.sessionsMu.Lock()
	d.sessions[sess.id] = sess
	d.sessionsMu.Unlock()
	return sess, adapterConn
}

func TestThreadStackMemoizesAndSharesInFlightFetch(t *testing.T) {
	sess, adapterConn := newTestSession(t)

	var calls int
	done := make(chan struct{})
	go func() {
		r := bufio.NewReader(adapterConn)
		msg, err := dap.ReadProtocolMessage(r)
		require.NoError(t, err)
		calls++
		resp := &dap.StackTraceResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
				RequestSeq:      msg.GetSeq(), Success: true, Command: "stackTrace",
			},
			Body: dap.StackTraceResponseBody{StackFrames: []dap.StackFrame{
				{Id: 1, Name: "main", Line: 3, Column: 1},
			}},
		}
		require.NoError(t, dap.WriteProtocolMessage(adapterConn, resp))
		close(done)
	}()

	thread := sess.threadByID(1)

	results := make(chan *Stack, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := thread.Stack(context.Background())
			require.NoError(t, err)
			results <- s
		}()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stackTrace request")
	}

	first := <-results
	second := <-results
	require.Same(t, first, second, "concurrent callers must share the same fetch")
	require.Equal(t, 1, calls, "stackTrace must be requested at most once (invariant 5)")
	require.Len(t, first.Frames(), 1)
	require.Equal(t, 3, first.Frames()[0].Line())
}

func TestStackExpireCascadesToFrameScopeVariable(t *testing.T) {
	sess, _ := newTestSession(t)
	thread := sess.threadByID(1)

	stack := newStack(thread, 1, []dap.StackFrame{{Id: 1, Name: "main", Line: 3}})
	frame := stack.Frames()[0]
	scope := newScope(frame, dap.Scope{Name: "Local", VariablesReference: 100})
	frame.mu.Lock()
	frame.scopes = append(frame.scopes, scope)
	frame.mu.Unlock()
	v := newVariable(sess, scope.uri, dap.Variable{Name: "x", Value: "1"})
	scope.mu.Lock()
	scope.variables = append(scope.variables, v)
	scope.mu.Unlock()

	require.True(t, stack.IsCurrent())
	require.True(t, frame.IsCurrent())
	require.True(t, scope.IsCurrent())
	require.True(t, v.IsCurrent())

	stack.expire()

	require.False(t, stack.IsCurrent())
	require.False(t, frame.IsCurrent())
	require.False(t, scope.IsCurrent())
	require.False(t, v.IsCurrent())
}

func TestStackExpireIsIdempotent(t *testing.T) {
	sess, _ := newTestSession(t)
	thread := sess.threadByID(1)
	stack := newStack(thread, 1, []dap.StackFrame{{Id: 1, Name: "main", Line: 3}})

	stack.expire()
	require.NotPanics(t, func() { stack.expire() })
	require.False(t, stack.IsCurrent())
}

func TestFrameEvaluateReturnsErrExpiredOnStaleFrame(t *testing.T) {
	sess, _ := newTestSession(t)
	thread := sess.threadByID(1)
	stack := newStack(thread, 1, []dap.StackFrame{{Id: 1, Name: "main", Line: 3}})
	frame := stack.Frames()[0]

	stack.expire()

	_, err := frame.Evaluate(context.Background(), "x", "watch")
	require.Error(t, err)
	var expired *ErrExpired
	require.ErrorAs(t, err, &expired)
}

func TestFrameScopesReturnsErrExpiredOnStaleFrame(t *testing.T) {
	sess, _ := newTestSession(t)
	thread := sess.threadByID(1)
	stack := newStack(thread, 1, []dap.StackFrame{{Id: 1, Name: "main", Line: 3}})
	frame := stack.Frames()[0]

	stack.expire()

	_, err := frame.Scopes(context.Background())
	require.Error(t, err)
	var expired *ErrExpired
	require.ErrorAs(t, err, &expired)
}

func TestScopeVariablesReturnsErrExpiredOnStaleFrame(t *testing.T) {
	sess, _ := newTestSession(t)
	thread := sess.threadByID(1)
	stack := newStack(thread, 1, []dap.StackFrame{{Id: 1, Name: "main", Line: 3}})
	frame := stack.Frames()[0]
	scope := newScope(frame, dap.Scope{Name: "Local", VariablesReference: 100})
	frame.mu.Lock()
	frame.scopes = append(frame.scopes, scope)
	frame.mu.Unlock()

	stack.expire()

	_, err := scope.Variables(context.Background())
	require.Error(t, err)
	var expired *ErrExpired
	require.ErrorAs(t, err, &expired)
}

func TestVariableChildrenReturnsErrExpiredOnStaleFrame(t *testing.T) {
	sess, _ := newTestSession(t)
	thread := sess.threadByID(1)
	stack := newStack(thread, 1, []dap.StackFrame{{Id: 1, Name: "main", Line: 3}})
	frame := stack.Frames()[0]
	scope := newScope(frame, dap.Scope{Name: "Local", VariablesReference: 100})
	frame.mu.Lock()
	frame.scopes = append(frame.scopes, scope)
	frame.mu.Unlock()
	v := newVariable(sess, scope.uri, dap.Variable{Name: "x", Value: "1", VariablesReference: 7})
	scope.mu.Lock()
	scope.variables = append(scope.variables, v)
	scope.mu.Unlock()

	stack.expire()

	_, err := v.Children(context.Background())
	require.Error(t, err)
	var expired *ErrExpired
	require.ErrorAs(t, err, &expired)
}

func TestVariableSetValueUnsupportedWithoutParentOrEvaluateName(t *testing.T) {
	sess, _ := newTestSession(t)
	v := newVariable(sess, sess.uri, dap.Variable{Name: "orphan", Value: "1"})

	err := v.SetValue(context.Background(), "2")
	require.Error(t, err)
	var unsupported *ErrUnsupportedCapability
	require.ErrorAs(t, err, &unsupported)
}

func TestThreadStackExpireAllowsRefetch(t *testing.T) {
	sess, adapterConn := newTestSession(t)
	thread := sess.threadByID(1)

	respond := func(line int) {
		r := bufio.NewReader(adapterConn)
		msg, err := dap.ReadProtocolMessage(r)
		require.NoError(t, err)
		resp := &dap.StackTraceResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
				RequestSeq:      msg.GetSeq(), Success: true, Command: "stackTrace",
			},
			Body: dap.StackTraceResponseBody{StackFrames: []dap.StackFrame{{Id: 1, Name: "main", Line: line}}},
		}
		require.NoError(t, dap.WriteProtocolMessage(adapterConn, resp))
	}

	go respond(3)
	first, err := thread.Stack(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.Frames()[0].Line())

	thread.expireCurrentStack()
	require.False(t, first.IsCurrent())

	go respond(9)
	second, err := thread.Stack(context.Background())
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, 9, second.Frames()[0].Line())
}

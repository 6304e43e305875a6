package protocol_test

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

// pipeConn glues a pair of io.Pipe halves into a single ReadWriteCloser,
// simulating the "message-framed full-duplex byte stream" spec.md §1
// assumes an adapter transport to be.
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
	r1, w1 := io.Pipe() // client -> adapter
	r2, w2 := io.Pipe() // adapter -> client
	clientSide = &pipeConn{r: r2, w: w1}
	adapterSide = &pipeConn{r: r1, w: w2}
	return
}

func TestClientRequestResponseRoundTrip(t *testing.T) {
	clientConn, adapterConn := newPipePair()
	client := protocol.New(clientConn, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	go func() {
		r := bufio.NewReader(adapterConn)
		msg, err := dap.ReadProtocolMessage(r)
		require.NoError(t, err)
		resp := &dap.InitializeResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
				RequestSeq:      msg.GetSeq(),
				Success:         true,
				Command:         "initialize",
			},
			Body: dap.Capabilities{SupportsConfigurationDoneRequest: true},
		}
		require.NoError(t, dap.WriteProtocolMessage(adapterConn, resp))
	}()

	resp, err := client.Request(ctx, "initialize", map[string]any{"clientID": "neodap"})
	require.NoError(t, err)
	init, ok := resp.(*dap.InitializeResponse)
	require.True(t, ok)
	require.True(t, init.Body.SupportsConfigurationDoneRequest)
}

func TestClientRequestSurfacesAdapterRefusal(t *testing.T) {
	clientConn, adapterConn := newPipePair()
	client := protocol.New(clientConn, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	go func() {
		r := bufio.NewReader(adapterConn)
		msg, err := dap.ReadProtocolMessage(r)
		require.NoError(t, err)
		resp := &dap.LaunchResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
				RequestSeq:      msg.GetSeq(),
				Success:         false,
				Command:         "launch",
				Message:         "program not found",
			},
		}
		require.NoError(t, dap.WriteProtocolMessage(adapterConn, resp))
	}()

	_, err := client.Request(ctx, "launch", map[string]any{"program": "missing.js"})
	require.Error(t, err)
	var adapterErr *protocol.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, "program not found", adapterErr.Message)
}

func TestClientDispatchesEventsInOrder(t *testing.T) {
	clientConn, adapterConn := newPipePair()
	client := protocol.New(clientConn, zerolog.Nop())

	var received []string
	done := make(chan struct{}, 2)
	client.OnEvent("thread", func(any) {
		received = append(received, "thread")
		done <- struct{}{}
	})
	client.OnEvent("stopped", func(any) {
		received = append(received, "stopped")
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	go func() {
		_ = dap.WriteProtocolMessage(adapterConn, &dap.ThreadEvent{
			Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "event"}, Event: "thread"},
			Body:  dap.ThreadEventBody{Reason: "started", ThreadId: 1},
		})
		_ = dap.WriteProtocolMessage(adapterConn, &dap.StoppedEvent{
			Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "event"}, Event: "stopped"},
			Body:  dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	require.Equal(t, []string{"thread", "stopped"}, received)
}

func TestClientAnswersReverseRequest(t *testing.T) {
	clientConn, adapterConn := newPipePair()
	client := protocol.New(clientConn, zerolog.Nop())

	client.OnRequest("runInTerminal", func(args any) (any, error) {
		return dap.RunInTerminalResponseBody{ProcessId: 4242}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	adapterReader := bufio.NewReader(adapterConn)
	require.NoError(t, dap.WriteProtocolMessage(adapterConn, &dap.RunInTerminalRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 9, Type: "request"}, Command: "runInTerminal"},
	}))

	msg, err := dap.ReadProtocolMessage(adapterReader)
	require.NoError(t, err)
	resp, ok := msg.(*dap.RunInTerminalResponse)
	require.True(t, ok)
	require.True(t, resp.Success)
	require.Equal(t, 4242, resp.Body.ProcessId)
}

func TestClientCloseRejectsPendingRequests(t *testing.T) {
	clientConn, _ := newPipePair()
	client := protocol.New(clientConn, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	resultCh := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), "threads", nil)
		resultCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-resultCh:
		require.ErrorIs(t, err, protocol.ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request to be rejected")
	}
}

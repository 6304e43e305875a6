// Package protocol implements the DAP wire Client: frame-exact transport,
// request/response correlation, event dispatch, and reverse-request
// handling (spec.md §4.3, §6).
//
// Framing and the message type zoo are grounded on github.com/google/go-dap,
// the one concrete DAP-types library present in the retrieval pack (seen
// paired with a structured logger in the fernandormoraes/inox debug session,
// and used for framing in docker-buildx's DAP server). go-dap generates one
// struct per DAP command/event with no shared response interface beyond
// Message.GetSeq(); Client.Request correlates and classifies generically
// via reflection over the generated struct's promoted RequestSeq/Success/
// Message fields instead of a ~25-case type switch (see DESIGN.md).
//
// Run supervises its reader goroutine with golang.org/x/sync/errgroup, the
// same pairing docker-buildx's DAP server uses around its own
// ReadProtocolMessage loop.
package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Transport is the full-duplex, message-framed byte stream to an adapter
// process or server (spec.md §1: "assumed: a message-framed full-duplex
// byte stream... JSON over stdio or TCP is the canonical choice").
type Transport = io.ReadWriteCloser

// ErrTransportClosed is returned by pending and future requests once the
// Client has been closed or the transport has failed (spec.md §7).
var ErrTransportClosed = errors.New("protocol: transport closed")

// AdapterError wraps a DAP response with success:false (spec.md §7
// "Adapter refusal").
type AdapterError struct {
	Command string
	Message string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("protocol: %s refused: %s", e.Command, e.Message)
}

// EventHandler receives the concrete go-dap event pointer (e.g.
// *dap.StoppedEvent) for the event it was registered against.
type EventHandler func(event any)

// RequestHandler answers a reverse request (adapter → client) with a body
// to embed in the response, or an error to report as a failed response.
type RequestHandler func(args any) (body any, err error)

// Client is one adapter connection's protocol handling. It owns a single
// reader goroutine; all event and reverse-request dispatch happens on the
// caller's dispatch loop goroutine via Run, preserving the single-threaded
// entity-mutation model of spec.md §5 — the reader goroutine only frames
// and routes bytes, it never touches caller state.
type Client struct {
	transport Transport
	writer    io.Writer
	reader    *bufio.Reader
	logger    zerolog.Logger

	sendMu sync.Mutex

	seq int64

	pendingMu sync.Mutex
	pending   map[int]chan dap.Message

	inbox chan inboxItem

	onEvent   map[string][]EventHandler
	onRequest map[string]RequestHandler

	closed atomic.Bool
	closeErr atomic.Value
	done    chan struct{}
}

type inboxItem struct {
	event   *dapEvent
	request *dapReverseRequest
}

type dapEvent struct {
	name    string
	payload any
}

type dapReverseRequest struct {
	seq     int
	command string
	payload any
}

// New creates a Client over transport. Call Run to start the reader
// goroutine and begin dispatching.
func New(transport Transport, logger zerolog.Logger) *Client {
	return &Client{
		transport: transport,
		writer:    transport,
		reader:    bufio.NewReader(transport),
		logger:    logger,
		pending:   make(map[int]chan dap.Message),
		inbox:     make(chan inboxItem, 64),
		onEvent:   make(map[string][]EventHandler),
		onRequest: make(map[string]RequestHandler),
		done:      make(chan struct{}),
	}
}

// OnEvent registers a handler for a named DAP event ("stopped", "output",
// ...). Multiple handlers may be registered for the same event.
func (c *Client) OnEvent(name string, h EventHandler) {
	c.onEvent[name] = append(c.onEvent[name], h)
}

// OnRequest registers the single handler answering a reverse request
// ("startDebugging", "runInTerminal").
func (c *Client) OnRequest(command string, h RequestHandler) {
	c.onRequest[command] = h
}

// Run starts the reader goroutine and blocks, dispatching events and
// reverse requests in reception order on the calling goroutine, until the
// transport closes or ctx is cancelled. This calling goroutine is the
// single logical executor of spec.md §5.
func (c *Client) Run(ctx context.Context) error {
	var eg errgroup.Group
	readErrCh := make(chan error, 1)
	eg.Go(func() error {
		err := c.readLoop()
		readErrCh <- err
		return err
	})

	for {
		select {
		case <-ctx.Done():
			c.Close()
			eg.Wait()
			return ctx.Err()
		case err := <-readErrCh:
			c.failAll(err)
			eg.Wait()
			return err
		case item := <-c.inbox:
			c.dispatch(item)
		}
	}
}

func (c *Client) dispatch(item inboxItem) {
	if item.event != nil {
		for _, h := range c.onEvent[item.event.name] {
			h(item.event.payload)
		}
		return
	}
	req := item.request
	handler, ok := c.onRequest[req.command]
	if !ok {
		c.sendErrorResponse(req.seq, req.command, "unsupported reverse request")
		return
	}
	body, err := handler(req.payload)
	if err != nil {
		c.sendErrorResponse(req.seq, req.command, err.Error())
		return
	}
	c.sendResponse(req.seq, req.command, body)
}

// readLoop reads and routes frames until the transport errors or closes;
// grounded on docker-buildx's DAP server, which pairs an errgroup.Group with
// its blocking ReadProtocolMessage loop the same way (see package doc).
func (c *Client) readLoop() error {
	for {
		msg, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			return err
		}
		c.route(msg)
	}
}

func (c *Client) route(msg dap.Message) {
	switch m := msg.(type) {
	case *dap.InitializedEvent, *dap.StoppedEvent, *dap.ContinuedEvent, *dap.ThreadEvent,
		*dap.OutputEvent, *dap.BreakpointEvent, *dap.LoadedSourceEvent, *dap.ProcessEvent,
		*dap.TerminatedEvent, *dap.ExitedEvent:
		name := eventName(m)
		select {
		case c.inbox <- inboxItem{event: &dapEvent{name: name, payload: m}}:
		case <-c.done:
		}
		return
	case *dap.RunInTerminalRequest:
		select {
		case c.inbox <- inboxItem{request: &dapReverseRequest{seq: m.Seq, command: "runInTerminal", payload: m}}:
		case <-c.done:
		}
		return
	case *dap.StartDebuggingRequest:
		select {
		case c.inbox <- inboxItem{request: &dapReverseRequest{seq: m.Seq, command: "startDebugging", payload: m}}:
		case <-c.done:
		}
		return
	}

	// Anything else is a response to a request we issued.
	requestSeq, _, _ := responseMeta(msg)
	c.pendingMu.Lock()
	ch, ok := c.pending[requestSeq]
	if ok {
		delete(c.pending, requestSeq)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	} else {
		c.logger.Warn().Int("request_seq", requestSeq).Msg("unmatched DAP response, dropped")
	}
}

func eventName(m any) string {
	switch m.(type) {
	case *dap.InitializedEvent:
		return "initialized"
	case *dap.StoppedEvent:
		return "stopped"
	case *dap.ContinuedEvent:
		return "continued"
	case *dap.ThreadEvent:
		return "thread"
	case *dap.OutputEvent:
		return "output"
	case *dap.BreakpointEvent:
		return "breakpoint"
	case *dap.LoadedSourceEvent:
		return "loadedSource"
	case *dap.ProcessEvent:
		return "process"
	case *dap.TerminatedEvent:
		return "terminated"
	case *dap.ExitedEvent:
		return "exited"
	default:
		return ""
	}
}

// genericRequest lets Client.Request send any DAP command without
// depending on go-dap's per-command Arguments struct: JSON shape is fully
// determined by tags on the args value the caller supplies, which is
// sufficient because encoding/json does not care which Go type produced a
// given structure.
type genericRequest struct {
	dap.Request
	Arguments any `json:"arguments,omitempty"`
}

// Request issues command with args, and blocks until the matching response
// arrives, ctx is cancelled, or the transport closes. Ordering: responses
// may arrive out of order; correlation is by sequence number (spec.md
// §4.3).
func (c *Client) Request(ctx context.Context, command string, args any) (dap.Message, error) {
	if c.closed.Load() {
		return nil, ErrTransportClosed
	}

	seq := int(atomic.AddInt64(&c.seq, 1))
	reqMsg := &genericRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: args,
	}

	replyCh := make(chan dap.Message, 1)
	c.pendingMu.Lock()
	c.pending[seq] = replyCh
	c.pendingMu.Unlock()

	c.sendMu.Lock()
	err := dap.WriteProtocolMessage(c.writer, reqMsg)
	c.sendMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		if c.closed.Load() {
			return nil, ErrTransportClosed
		}
		return nil, err
	}

	c.logger.Debug().Str("command", command).Int("seq", seq).Msg("dap request sent")

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrTransportClosed
	case resp := <-replyCh:
		if resp == nil {
			return nil, ErrTransportClosed
		}
		_, success, msg := responseMeta(resp)
		if !success {
			return nil, &AdapterError{Command: command, Message: msg}
		}
		return resp, nil
	}
}

func (c *Client) sendResponse(requestSeq int, command string, body any) {
	seq := int(atomic.AddInt64(&c.seq, 1))
	resp := &genericResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "response"},
			RequestSeq:      requestSeq,
			Success:         true,
			Command:         command,
		},
		Body: body,
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := dap.WriteProtocolMessage(c.writer, resp); err != nil {
		c.logger.Warn().Err(err).Str("command", command).Msg("failed to write reverse-request response")
	}
}

func (c *Client) sendErrorResponse(requestSeq int, command, message string) {
	seq := int(atomic.AddInt64(&c.seq, 1))
	resp := &genericResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "response"},
			RequestSeq:      requestSeq,
			Success:         false,
			Command:         command,
			Message:         message,
		},
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = dap.WriteProtocolMessage(c.writer, resp)
}

type genericResponse struct {
	dap.Response
	Body any `json:"body,omitempty"`
}

// responseMeta extracts the fields common to every go-dap-generated
// response type via reflection over promoted fields, avoiding a type
// switch across the ~25 concrete response structs (see package doc).
func responseMeta(msg any) (requestSeq int, success bool, message string) {
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if f := v.FieldByName("RequestSeq"); f.IsValid() {
		requestSeq = int(f.Int())
	}
	if f := v.FieldByName("Success"); f.IsValid() {
		success = f.Bool()
	}
	if f := v.FieldByName("Message"); f.IsValid() {
		message = f.String()
	}
	return
}

// IsClosing reports whether Close has been called.
func (c *Client) IsClosing() bool {
	return c.closed.Load()
}

// Close shuts the client down: the transport is closed and every pending
// request is rejected with ErrTransportClosed (spec.md §4.3).
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	err := c.transport.Close()
	c.failAll(ErrTransportClosed)
	return err
}

func (c *Client) failAll(err error) {
	c.closed.Store(true)
	c.closeErr.Store(err)
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int]chan dap.Message)
	c.pendingMu.Unlock()
	for _, ch := range pending {
		ch <- nil
	}
}

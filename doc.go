// Package neodap is the in-process core of a Debug Adapter Protocol client
// runtime: it multiplexes concurrent debug Sessions, maintains a reactive
// entity graph of all debugger state (threads, stacks, frames, scopes,
// variables, sources, breakpoints), and exposes lifecycle hooks and query
// views for a presentation layer to attach to.
//
// The runtime mediates every DAP message through protocol.Client, enforces
// protocol sequencing through the Session state machine, owns lazy resource
// fetches (Thread.Stack, Frame.Scopes, Scope.Variables), propagates stop/
// continue expiration across derived entities, and synchronizes
// user-declared Breakpoints and ExceptionFilters across sessions.
//
// Rendering, launch-config discovery, CLI entry points, and the transport
// to an adapter process are the embedder's responsibility; see the Adapter
// interface for the seam.
package neodap

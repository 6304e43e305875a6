package neodap

import (
	"context"

	"github.com/Aetherall/neodap-sub014/protocol"
)

// TerminalKind distinguishes the two runInTerminal request flavors DAP
// defines.
type TerminalKind string

const (
	TerminalIntegrated TerminalKind = "integrated"
	TerminalExternal   TerminalKind = "external"
)

// TerminalRequest mirrors the fields of a runInTerminal reverse request an
// embedder needs to actually spawn a process.
type TerminalRequest struct {
	Kind  TerminalKind
	Title string
	Cwd   string
	Args  []string
	Env   map[string]string
}

// Adapter is the host-provided seam of spec.md §6 "Adapter configuration":
// this module ships no concrete adapter, only the interface an embedder
// implements to supply a transport, a logical type name, and a terminal
// spawner for runInTerminal reverse requests.
type Adapter interface {
	// Type returns the logical adapter-family identifier (spec.md
	// Glossary: "Logical type"), e.g. "node", used to scope global
	// ExceptionFilters and to pick the adapter a spawned child session
	// reuses.
	Type() string

	// Connect establishes the framed transport to the adapter process or
	// server. Each Session calls Connect exactly once.
	Connect(ctx context.Context) (protocol.Transport, error)

	// SpawnTerminal answers a runInTerminal reverse request by spawning
	// req in a terminal the embedder controls, returning the resulting
	// process id.
	SpawnTerminal(ctx context.Context, req TerminalRequest) (processID int, err error)
}

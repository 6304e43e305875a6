package neodap

import (
	"context"
	"io"
)

// stubAdapter is a minimal Adapter for white-box tests that never call
// Connect/SpawnTerminal — it only exists to satisfy SessionConfig.Adapter.
type stubAdapter struct{}

func (stubAdapter) Type() string { return "stub" }

func (stubAdapter) Connect(ctx context.Context) (io.ReadWriteCloser, error) {
	return nil, nil
}

func (stubAdapter) SpawnTerminal(ctx context.Context, req TerminalRequest) (int, error) {
	return 0, nil
}

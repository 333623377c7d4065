// Package simulator implements the Simulator Pool (C2): the CPU-bound
// worker pool that speculatively executes each transaction against a
// snapshot view, producing a SimulatedTx or dropping the transaction
// with a logged warning.
package simulator

import (
	"context"

	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

// Result is what a successful simulation produces: the tentative effect
// set, emitted logs, and the exact read/write set touched.
type Result struct {
	Effects []types.StateMutation
	Logs    []types.LogRecord
	RwSet   types.RwSet
}

// EVM is the narrow boundary this module treats the EVM interpreter as
// an opaque collaborator behind (§6): simulate(tx, snapshot) returning
// one of three outcomes.
//
//   - (*Result, nil):      normal — effects/logs/rw-set recorded
//   - (nil, nil):          reverted or skipped — drop tx, no effects
//   - (nil, err):          hard failure — drop tx, log at warn
//
// Implementations must be deterministic given (tx, view) and must read
// only from view — writes are captured in memory, never applied.
type EVM interface {
	Simulate(ctx context.Context, tx types.IndexedTx, view snapshot.View) (*Result, error)
}

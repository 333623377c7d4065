package simulator

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/sslab-labs/optme/log"
	"github.com/sslab-labs/optme/metrics"
	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

var simLog = log.Default().Module("evm")

// Pool fans simulation work out across a bounded CPU work-stealing pool
// (§5), grounded on ParallelProcessor.ProcessParallel's goroutine
// fan-out, upgraded to errgroup for clean error propagation. A dropped
// or errored simulation never aborts the group — it is reported through
// the result slot, matching §7's "drop tx" policy for TxSimulationRevert
// and TxSimulationError. Only a panic inside a simulation is treated as
// a fatal bug and allowed to propagate (§4.2).
type Pool struct {
	EVM         EVM
	Concurrency int
	Meter       *metrics.Meter
}

// NewPool creates a Pool bounded to concurrency workers. concurrency <= 0
// means unbounded (errgroup.SetLimit(-1)).
func NewPool(evm EVM, concurrency int) *Pool {
	return &Pool{EVM: evm, Concurrency: concurrency}
}

// Run simulates every tx in txs against view, in parallel, and returns
// the resulting SimulatedTx values sorted by id (§5: "Simulation order
// across workers is unconstrained; results are collected and
// sorted/indexed by id before the ACG step").
func (p *Pool) Run(ctx context.Context, txs []types.IndexedTx, view snapshot.View) ([]types.SimulatedTx, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	if p.Meter != nil {
		stop := p.Meter.Time()
		defer stop()
	}

	results := make([]*types.SimulatedTx, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = -1
	}
	g.SetLimit(limit)

	for i, tx := range txs {
		i, tx := i, tx
		g.Go(func() error {
			res, err := p.EVM.Simulate(gctx, tx, view)
			if err != nil {
				simLog.Warn("simulation failed", "id", tx.ID, "err", err)
				return nil
			}
			if res == nil {
				simLog.Trace("simulation reverted or skipped", "id", tx.ID)
				return nil
			}
			results[i] = &types.SimulatedTx{
				ID:      tx.ID,
				RwSet:   res.RwSet,
				Effects: res.Effects,
				Logs:    res.Logs,
				Raw:     tx,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.SimulatedTx, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

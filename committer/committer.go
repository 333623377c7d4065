// Package committer implements the Concurrent Committer (C4): a pure
// scheduling wrapper around the snapshot store that applies one epoch's
// effects in parallel, never starting epoch e+1 until epoch e is fully
// applied.
package committer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sslab-labs/optme/log"
	"github.com/sslab-labs/optme/metrics"
	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

var commitLog = log.Default().Module("commit")

// Committer applies scheduled effects to a Store. It owns no state of
// its own — grounded on ParallelProcessor.ProcessParallel's single-tx
// shortcut / goroutine-per-item fan-out, generalized from per-block
// receipts to per-epoch FinalizedTx effect application.
type Committer struct {
	Store       *snapshot.Store
	Concurrency int
	Meter       *metrics.Meter
}

// New creates a Committer writing to store.
func New(store *snapshot.Store, concurrency int) *Committer {
	return &Committer{Store: store, Concurrency: concurrency}
}

// CommitEpoch applies every transaction's effects in epoch in parallel.
// Safe because epoch-scheduled writes are pairwise key-disjoint (§4.3
// invariant) — the committer itself never checks this, it trusts the
// scheduler's partition.
func (c *Committer) CommitEpoch(ctx context.Context, epoch []types.FinalizedTx) error {
	if len(epoch) == 0 {
		return nil
	}
	if c.Meter != nil {
		stop := c.Meter.Time()
		defer stop()
	}

	if len(epoch) == 1 {
		c.Store.Apply(epoch[0].Effects)
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit <= 0 {
		limit = -1
	}
	g.SetLimit(limit)

	for _, tx := range epoch {
		tx := tx
		g.Go(func() error {
			c.Store.Apply(tx.Effects)
			return nil
		})
	}
	return g.Wait()
}

// CommitAll applies every epoch in order, establishing the
// happens-before edge required by §5: all applies of epoch e complete
// before epoch e+1 begins.
func (c *Committer) CommitAll(ctx context.Context, epochs [][]types.FinalizedTx) error {
	for i, epoch := range epochs {
		if err := c.CommitEpoch(ctx, epoch); err != nil {
			return err
		}
		commitLog.Debug("epoch committed", "epoch", i+1, "txs", len(epoch))
	}
	return nil
}

// Package reexecutor implements the Optimistic Re-executor (C5):
// re-simulates one sub-epoch of aborted transactions against the
// post-commit snapshot, validates pairwise write-disjointness in id
// order, and commits the valid subset.
package reexecutor

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sslab-labs/optme/committer"
	"github.com/sslab-labs/optme/log"
	"github.com/sslab-labs/optme/simulator"
	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

var reexLog = log.Default().Module("reexec")

// Result reports the outcome of re-executing one sub-epoch.
type Result struct {
	// Committed holds the ids of transactions whose effects were
	// applied to the snapshot.
	Committed []uint64
	// Invalid holds every aborted transaction that did not commit,
	// whether because re-simulation dropped it (revert/hard failure)
	// or because the optimistic validator rejected it. Per the
	// documented decision in DESIGN.md (§9 open question 1), these are
	// reported to the caller and never automatically retried.
	Invalid []types.AbortedTx
}

// ReExecutor drives re-simulation, validation, and commit for one
// sub-epoch at a time.
type ReExecutor struct {
	Pool      *simulator.Pool
	Committer *committer.Committer
}

// New creates a ReExecutor backed by pool for re-simulation and c for
// committing the validated subset.
func New(pool *simulator.Pool, c *committer.Committer) *ReExecutor {
	return &ReExecutor{Pool: pool, Committer: c}
}

// Run re-executes subEpoch against view (the current, post-first-round-
// commit snapshot view — §5 requires the first-round commit to
// happen-before this re-simulation), validates, and commits.
func (r *ReExecutor) Run(ctx context.Context, subEpoch []types.AbortedTx, view snapshot.View) (Result, error) {
	if len(subEpoch) == 0 {
		return Result{}, nil
	}

	txs := make([]types.IndexedTx, len(subEpoch))
	for i, a := range subEpoch {
		txs[i] = a.Raw
	}

	simulated, err := r.Pool.Run(ctx, txs, view)
	if err != nil {
		return Result{}, err
	}
	sort.Slice(simulated, func(i, j int) bool { return simulated[i].ID < simulated[j].ID })

	// Shortcut (§4.5): a single-transaction sub-epoch needs no
	// validation — there is nothing else it could conflict with.
	if len(subEpoch) == 1 {
		if len(simulated) == 0 {
			return Result{Invalid: subEpoch}, nil
		}
		finalized := []types.FinalizedTx{{ID: simulated[0].ID, Effects: simulated[0].Effects}}
		if err := r.Committer.CommitEpoch(ctx, finalized); err != nil {
			return Result{}, err
		}
		return Result{Committed: []uint64{simulated[0].ID}}, nil
	}

	W := mapset.NewThreadUnsafeSet[types.SlotKey]()
	var accepted []types.FinalizedTx
	rejected := make(map[uint64]bool)

	for _, s := range simulated {
		conflict := false
		for _, k := range types.SortedKeys(s.RwSet.Writes) {
			if W.Contains(k) {
				conflict = true
				break
			}
		}
		if conflict {
			rejected[s.ID] = true
			reexLog.Debug("optimistically invalid", "id", s.ID)
			continue
		}
		accepted = append(accepted, types.FinalizedTx{ID: s.ID, Effects: s.Effects})
		for _, k := range types.SortedKeys(s.RwSet.Writes) {
			W.Add(k)
		}
	}

	if err := r.Committer.CommitEpoch(ctx, accepted); err != nil {
		return Result{}, err
	}

	committedIDs := make([]uint64, 0, len(accepted))
	for _, a := range accepted {
		committedIDs = append(committedIDs, a.ID)
	}

	simulatedIDs := make(map[uint64]bool, len(simulated))
	for _, s := range simulated {
		simulatedIDs[s.ID] = true
	}
	var invalid []types.AbortedTx
	for _, a := range subEpoch {
		if rejected[a.ID] || !simulatedIDs[a.ID] {
			invalid = append(invalid, a)
		}
	}

	return Result{Committed: committedIDs, Invalid: invalid}, nil
}

package conflictgraph

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sslab-labs/optme/types"
)

// Schedule runs the full ACG pipeline over the graph: write-ownership
// resolution (first-updater-wins, or last-committer-wins when
// DisableEarlyDetection is set), hierarchical epoch assignment, reader
// reorder, extraction into epoch-partitioned FinalizedTx groups, and
// (unless DisableRescheduling) sub-epoch partitioning of the abort set.
//
// Infallible given well-formed rw-sets, per §4.3's failure semantics —
// the only error path is ErrSchedulerInvariant, a sanity check that is
// never expected to trigger in practice.
func (g *Graph) Schedule() (types.ScheduledInfo, error) {
	order := g.processingOrder()
	owner := g.assignOwnership(order)
	if err := g.assignEpochs(order, owner); err != nil {
		return types.ScheduledInfo{}, err
	}
	g.reorder(owner)

	scheduled, aborted, err := g.extract(order)
	if err != nil {
		return types.ScheduledInfo{}, err
	}

	info := types.ScheduledInfo{ScheduledTxs: scheduled, AbortedTxs: aborted}
	if !g.cfg.DisableRescheduling {
		info.AbortedSubEpochs = rescheduleAborted(aborted)
	}
	return info, nil
}

// processingOrder returns arena indices sorted by ascending id — the
// order the hierarchical sort's formula is defined over (§4.3).
func (g *Graph) processingOrder() []TxIndex {
	order := make([]TxIndex, len(g.arena))
	for i := range order {
		order[i] = TxIndex(i)
	}
	sort.Slice(order, func(i, j int) bool { return g.arena[order[i]].id < g.arena[order[j]].id })
	return order
}

// assignOwnership resolves, for every key written by more than one
// transaction, which transaction keeps the slot: the lowest-id writer
// under first-updater-wins (default), or the highest-id writer under
// last-committer-wins (DisableEarlyDetection). Losing writers are
// marked aborted; the returned map holds the surviving owner for every
// written key and is what the epoch-assignment pass escalates against.
func (g *Graph) assignOwnership(order []TxIndex) map[types.SlotKey]TxIndex {
	owner := make(map[types.SlotKey]TxIndex)

	if g.cfg.DisableEarlyDetection {
		// last-committer-wins: each key's owner is whichever writer
		// processes last in id order — a plain overwrite as we scan
		// ascending, since order is already id-sorted.
		for _, idx := range order {
			for _, k := range g.arena[idx].writes {
				owner[k] = idx
			}
		}
	} else {
		// first-updater-wins: each key's owner is whichever writer
		// processes first in id order — keep the earliest claim.
		for _, idx := range order {
			for _, k := range g.arena[idx].writes {
				if _, claimed := owner[k]; !claimed {
					owner[k] = idx
				}
			}
		}
	}

	for _, idx := range order {
		n := g.arena[idx]
		for _, k := range n.writes {
			if owner[k] != idx {
				n.aborted = true
				break
			}
		}
	}
	return owner
}

// assignEpochs implements §4.3's hierarchical sort formula, restricted
// to the surviving write-owners: seq(t) = 1 + max(seq(u): u.id < t.id
// and u owns a key t reads or writes). A node with no such owner starts
// a fresh epoch at seq 1.
func (g *Graph) assignEpochs(order []TxIndex, owner map[types.SlotKey]TxIndex) error {
	for _, idx := range order {
		n := g.arena[idx]
		if n.aborted {
			continue
		}

		var maxSeq uint32
		for _, k := range n.reads {
			if w := ownerNode(g, owner, k, n.id); w != nil && w.seq > maxSeq {
				maxSeq = w.seq
			}
		}
		for _, k := range n.writes {
			if w := ownerNode(g, owner, k, n.id); w != nil && w.seq > maxSeq {
				maxSeq = w.seq
			}
		}
		n.seq = maxSeq + 1

		// Defensive sanity check (§4.3): owner's epoch must be strictly
		// below n's for every key n writes. Provably unreachable given
		// the formula above (seq(n) = max(...)+1 is strictly greater
		// than every owner's seq it was computed from), kept because
		// §4.3 states it as the abort condition.
		for _, k := range n.writes {
			w := ownerNode(g, owner, k, n.id)
			if w != nil && w.seq == n.seq {
				return fmt.Errorf("%w: tx %d collides with owner of key %s at epoch %d",
					ErrSchedulerInvariant, n.id, k.Hex(), n.seq)
			}
		}
	}
	return nil
}

// ownerNode returns the node owning key k, if it exists, is not the
// node itself, and has a strictly lower id than beforeID (the only
// owners a hierarchical-sort pass in ascending id order ever needs to
// look at).
func ownerNode(g *Graph, owner map[types.SlotKey]TxIndex, k types.SlotKey, beforeID uint64) *node {
	idx, ok := owner[k]
	if !ok {
		return nil
	}
	w := g.arena[idx]
	if w.id >= beforeID {
		return nil
	}
	return w
}

// reorder demotes pure readers (writes = ∅) to the earliest epoch their
// reads actually require, per §4.3's reorder rule. Under the formula in
// assignEpochs a pure reader's seq is already exactly this minimum (both
// passes consider the identical backward-owner set), so this is a no-op
// in practice; it is kept to mirror the documented pipeline stage rather
// than silently folding it into assignEpochs.
func (g *Graph) reorder(owner map[types.SlotKey]TxIndex) {
	for _, n := range g.arena {
		if n.aborted || len(n.writes) != 0 {
			continue
		}
		var minSeq uint32 = 1
		for _, k := range n.reads {
			if w := ownerNode(g, owner, k, n.id); w != nil && w.seq+1 > minSeq {
				minSeq = w.seq + 1
			}
		}
		if minSeq < n.seq {
			n.seq = minSeq
		}
	}
}

// extract groups scheduled nodes by epoch and flattens the abort set,
// both in deterministic (id-ordered) form.
func (g *Graph) extract(order []TxIndex) ([][]types.FinalizedTx, []types.AbortedTx, error) {
	var maxSeq uint32
	for _, idx := range order {
		n := g.arena[idx]
		if n.aborted {
			continue
		}
		if n.seq == 0 {
			return nil, nil, fmt.Errorf("%w: tx %d has seq=0 after sort", ErrSchedulerInvariant, n.id)
		}
		if n.seq > maxSeq {
			maxSeq = n.seq
		}
	}

	scheduled := make([][]types.FinalizedTx, maxSeq)
	var aborted []types.AbortedTx

	for _, idx := range order {
		n := g.arena[idx]
		if n.aborted {
			aborted = append(aborted, types.AbortedTx{ID: n.id, RwSet: n.rw, Raw: n.raw})
			continue
		}
		scheduled[n.seq-1] = append(scheduled[n.seq-1], types.FinalizedTx{ID: n.id, Effects: n.effects})
	}

	for _, epoch := range scheduled {
		sort.Slice(epoch, func(i, j int) bool { return epoch[i].ID < epoch[j].ID })
	}
	return scheduled, aborted, nil
}

// rescheduleAborted partitions the flat abort set into key-disjoint
// sub-epochs via binary probing over occupied-write-key sets (§4.3's
// "Aborted-set rescheduling"): for each aborted tx in id order, place it
// in the first sub-epoch whose occupied set doesn't intersect its own
// reads/writes, extending that sub-epoch's occupied set with its
// writes.
func rescheduleAborted(aborted []types.AbortedTx) [][]types.AbortedTx {
	var occupied []mapset.Set[types.SlotKey]
	var subEpochs [][]types.AbortedTx

	for _, t := range aborted {
		touched := t.RwSet.Reads.Union(t.RwSet.Writes)

		placed := false
		for i, occ := range occupied {
			if touched.Intersect(occ).Cardinality() == 0 {
				occupied[i] = occ.Union(t.RwSet.Writes)
				subEpochs[i] = append(subEpochs[i], t)
				placed = true
				break
			}
		}
		if !placed {
			occupied = append(occupied, t.RwSet.Writes.Clone())
			subEpochs = append(subEpochs, []types.AbortedTx{t})
		}
	}
	return subEpochs
}

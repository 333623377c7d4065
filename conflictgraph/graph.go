// Package conflictgraph implements the Address-Based Conflict Graph
// builder and scheduler (C3): it turns recorded rw-sets into epoch
// assignments, partitioning a window's simulated transactions into
// conflict-free epochs or the abort set.
//
// Per the REDESIGN FLAG in §9, ACG nodes live in an arena ([]*node)
// owned by Graph and are referenced everywhere by TxIndex, a plain int
// — never by a reference-counted pointer with interior mutability, which
// is how the original source models the back-linked write_units lists.
package conflictgraph

import (
	"errors"

	"github.com/sslab-labs/optme/types"
)

// ErrSchedulerInvariant is returned when a sanity check the builder
// relies on is violated — a SchedulerInvariant-class error per §7,
// treated as fatal by the caller.
var ErrSchedulerInvariant = errors.New("conflictgraph: scheduler invariant violated")

// TxIndex is an arena position, standing in for the pointer/Rc the
// original source used to link ACG nodes together.
type TxIndex int

// node is one transaction's position in the conflict graph.
type node struct {
	id      uint64
	index   TxIndex
	reads   []types.SlotKey
	writes  []types.SlotKey
	seq     uint32
	aborted bool

	rw      types.RwSet
	effects []types.StateMutation
	raw     types.IndexedTx
}

// Config toggles the two baseline-comparison switches exposed by §6.
type Config struct {
	// DisableEarlyDetection swaps first-updater-wins for
	// last-committer-wins when two transactions write the same key
	// (baseline comparison only, see §6/§9).
	DisableEarlyDetection bool
	// DisableRescheduling skips partitioning the abort set into
	// key-disjoint sub-epochs; ScheduledInfo.AbortedSubEpochs is left
	// nil and the caller treats the whole abort set as one sub-epoch.
	DisableRescheduling bool
}

// Graph is the arena of ACG nodes built from one window's simulated
// transactions, plus the scheduling config in effect for this window.
type Graph struct {
	arena []*node
	cfg   Config
}

// Build constructs the arena from a window's simulated transactions.
// Construction order is the input slice's order; the hierarchical sort
// itself always processes nodes by ascending id regardless of arena
// order (see processingOrder).
func Build(simulated []types.SimulatedTx, cfg Config) *Graph {
	arena := make([]*node, len(simulated))
	for i, s := range simulated {
		arena[i] = &node{
			id:      s.ID,
			index:   TxIndex(i),
			reads:   types.SortedKeys(s.RwSet.Reads),
			writes:  types.SortedKeys(s.RwSet.Writes),
			rw:      s.RwSet,
			effects: s.Effects,
			raw:     s.Raw,
		}
	}
	return &Graph{arena: arena, cfg: cfg}
}

// Len returns the number of transactions in the graph.
func (g *Graph) Len() int { return len(g.arena) }

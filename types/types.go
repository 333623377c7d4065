// Package types defines the data model shared across the executor's
// pipeline stages: decoded transactions, read/write sets, simulation
// results, and the scheduler's output shapes.
package types

import (
	"bytes"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SlotKey is a 256-bit digest over (contract address, storage slot), the
// content-addressable key the conflict graph keys everything on.
type SlotKey common.Hash

// NewSlotKey hashes an (address, slot) pair into a SlotKey.
func NewSlotKey(addr common.Address, slot common.Hash) SlotKey {
	buf := make([]byte, common.AddressLength+common.HashLength)
	copy(buf, addr.Bytes())
	copy(buf[common.AddressLength:], slot.Bytes())
	return SlotKey(crypto.Keccak256Hash(buf))
}

// accountSlot synthesizes a SlotKey for an account-level field (balance,
// nonce, code) that is not itself a storage slot. Keyed by address plus a
// short discriminator so balance/nonce/code never collide with each other
// or with real storage slots.
func accountSlot(addr common.Address, field string) SlotKey {
	buf := append(addr.Bytes(), []byte(field)...)
	return SlotKey(crypto.Keccak256Hash(buf))
}

// BalanceSlot returns the synthetic SlotKey backing addr's wei balance.
func BalanceSlot(addr common.Address) SlotKey { return accountSlot(addr, "balance") }

// NonceSlot returns the synthetic SlotKey backing addr's nonce.
func NonceSlot(addr common.Address) SlotKey { return accountSlot(addr, "nonce") }

// CodeSlot returns the synthetic SlotKey backing addr's code.
func CodeSlot(addr common.Address) SlotKey { return accountSlot(addr, "code") }

// Hex renders the key the way common.Hash does.
func (k SlotKey) Hex() string { return common.Hash(k).Hex() }

// Less gives SlotKey a total order so sets can be flattened into
// deterministic sorted slices.
func (k SlotKey) Less(o SlotKey) bool { return bytes.Compare(k[:], o[:]) < 0 }

// SortedKeys returns the contents of a key set as a deterministically
// ordered slice.
func SortedKeys(s mapset.Set[SlotKey]) []SlotKey {
	out := s.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// IndexedTx is a decoded transaction tagged with its position in the
// consensus window. ID is the total-order tiebreaker used throughout the
// scheduler.
type IndexedTx struct {
	ID      uint64
	Payload []byte
	Decoded *ethtypes.Transaction
}

// RwSet is the set of storage keys read and written while simulating one
// transaction.
type RwSet struct {
	Reads  mapset.Set[SlotKey]
	Writes mapset.Set[SlotKey]
}

// NewRwSet returns an empty RwSet. Each RwSet is built by exactly one
// simulation goroutine, so the backing sets are thread-unsafe by design.
func NewRwSet() RwSet {
	return RwSet{
		Reads:  mapset.NewThreadUnsafeSet[SlotKey](),
		Writes: mapset.NewThreadUnsafeSet[SlotKey](),
	}
}

// Conflicts reports whether t's reads or writes intersect u's writes —
// the conflict predicate the hierarchical sort is defined in terms of.
func (t RwSet) Conflicts(u RwSet) bool {
	for _, k := range SortedKeys(t.Writes) {
		if u.Writes.Contains(k) {
			return true
		}
	}
	for _, k := range SortedKeys(t.Reads) {
		if u.Writes.Contains(k) {
			return true
		}
	}
	return false
}

// StateMutation is a single key/value write produced by simulation. Value
// is opaque to everything but the EVM plug-in and the snapshot store.
type StateMutation struct {
	Key   SlotKey
	Value []byte
}

// LogRecord mirrors go-ethereum's types.Log, the shape emitted by
// simulation alongside state effects.
type LogRecord struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// SimulatedTx is the result of speculatively executing one IndexedTx
// against a snapshot view.
type SimulatedTx struct {
	ID       uint64
	RwSet    RwSet
	Effects  []StateMutation
	Logs     []LogRecord
	Raw      IndexedTx
}

// FinalizedTx is the minimal form fed to the committer: just enough to
// apply effects, with scheduling metadata stripped.
type FinalizedTx struct {
	ID      uint64
	Effects []StateMutation
}

// AbortedTx carries the rw-set recorded during a transaction's latest
// simulation plus the raw transaction, so it can be re-simulated later.
type AbortedTx struct {
	ID    uint64
	RwSet RwSet
	Raw   IndexedTx
}

// ReExecutedTx is the result of re-simulating an AbortedTx against the
// post-commit snapshot.
type ReExecutedTx struct {
	ID      uint64
	RwSet   RwSet
	Effects []StateMutation
	Logs    []LogRecord
	Raw     IndexedTx
}

// ScheduledInfo is the output of the ACG builder & scheduler: a
// partition of every simulated transaction into conflict-free epochs or
// the abort set.
//
// Invariant: union(ScheduledTxs) and union(AbortedTxs) are disjoint and
// together cover every simulated transaction.
type ScheduledInfo struct {
	// ScheduledTxs is epoch-indexed: ScheduledTxs[0] is epoch 1.
	ScheduledTxs [][]FinalizedTx
	// AbortedTxs is the flat abort set, in id order.
	AbortedTxs []AbortedTx
	// AbortedSubEpochs partitions AbortedTxs into key-disjoint sub-epochs
	// for the re-executor. Nil when rescheduling is disabled (§6
	// disable-rescheduling): the whole abort set is then treated by the
	// caller as a single sub-epoch.
	AbortedSubEpochs [][]AbortedTx
}

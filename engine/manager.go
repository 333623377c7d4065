// Package engine implements the Concurrency Manager (C6): the top-level
// entry point that unpacks consensus windows, drives the simulate/
// schedule/commit/re-execute pipeline, and reports digests back upstream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sslab-labs/optme/conflictgraph"
	"github.com/sslab-labs/optme/log"
	"github.com/sslab-labs/optme/metrics"
	"github.com/sslab-labs/optme/simulator"
	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

var engineLog = log.Default().Module("engine")

// State is the Manager's lifecycle state, grounded on
// node.LifecycleManager's ServiceState machine.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FatalError wraps a SchedulerInvariant or TxDecode class error (§7).
// The Manager panics with a *FatalError instead of calling os.Exit, so a
// caller can recover() and translate it.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("engine: fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Stats tracks cumulative execution statistics, grounded on
// core/block_executor.go's ExecutorStats-under-mutex idiom.
type Stats struct {
	mu              sync.RWMutex
	WindowsExecuted uint64
	TxsScheduled    uint64
	TxsAborted      uint64
	TxsReExecuted   uint64
	TxsStillInvalid uint64
}

func (s *Stats) record(info types.ScheduledInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WindowsExecuted++
	for _, epoch := range info.ScheduledTxs {
		s.TxsScheduled += uint64(len(epoch))
	}
	s.TxsStillInvalid += uint64(len(info.AbortedTxs))
}

// Snapshot returns a point-in-time copy of the stats.
func (s *Stats) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		WindowsExecuted: s.WindowsExecuted,
		TxsScheduled:    s.TxsScheduled,
		TxsAborted:      s.TxsAborted,
		TxsReExecuted:   s.TxsReExecuted,
		TxsStillInvalid: s.TxsStillInvalid,
	}
}

// WindowResult is returned to the caller once a window finishes
// executing: the digests confirmed for every batch in the window — always
// all of them, whether a batch's transactions landed in a scheduled epoch
// or were ultimately reported invalid (§6: the consensus layer is told
// about every batch it handed over, regardless of execution outcome) —
// plus the transactions still reported invalid after re-execution.
type WindowResult struct {
	Digests []common.Hash
	Invalid []types.AbortedTx
}

// Manager is the top-level Concurrency Manager driving one executor
// variant against a shared snapshot store.
type Manager struct {
	mu    sync.Mutex
	state State

	store *snapshot.Store
	exec  executor
	cfg   Config
	stats Stats

	lastExecutedSubDagIndex uint64

	meter *metrics.Meter
}

// NewManager creates a Manager running kind against store with cfg. evm
// is the EVM plug-in backing simulation; kind selects which executor
// variant to construct (OptME in production, Serial for equivalence
// tests). BlockSTM is rejected: it is a recognized tag, not a
// constructible variant (§1, §9).
func NewManager(kind ExecutorKind, evm simulator.EVM, store *snapshot.Store, cfg Config) (*Manager, error) {
	var exec executor
	switch kind {
	case OptME:
		exec = newOptMEExecutor(evm, store, cfg)
	case Serial:
		exec = newSerialExecutor(evm, store)
	case BlockSTM:
		return nil, fmt.Errorf("engine: %s is out of scope and cannot be constructed", kind)
	default:
		return nil, fmt.Errorf("engine: unrecognized executor kind %v", kind)
	}

	m := &Manager{
		state: StateCreated,
		store: store,
		exec:  exec,
		cfg:   cfg,
	}
	if cfg.Latency {
		m.meter = metrics.DefaultRegistry.Meter("engine.window")
	}
	return m, nil
}

// Start transitions the Manager into the running state. There is no
// background goroutine to launch — ExecuteWindow is driven synchronously
// by the caller, one window at a time (§5: the I/O pool is the calling
// goroutine).
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCreated && m.state != StateStopped {
		return fmt.Errorf("engine: cannot start from state %s", m.state)
	}
	m.state = StateStarting
	m.state = StateRunning
	return nil
}

// Stop transitions the Manager out of the running state. Per §5,
// cancellation only ever takes effect at a window boundary: Stop never
// interrupts an in-flight ExecuteWindow call, it only prevents the next
// one from starting.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return fmt.Errorf("engine: cannot stop from state %s", m.state)
	}
	m.state = StateStopping
	m.state = StateStopped
	return nil
}

// State reports the Manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastExecutedSubDagIndex reports the sub-DAG index of the most recently
// executed window, updated in-process after every ExecuteWindow call. Per
// the documented open-question decision (DESIGN.md §9 open question 2),
// this is in-memory bookkeeping only: there is no persistence or recovery
// of this value across restarts, since crash-recovery checkpointing is a
// consensus-layer concern outside this module's scope (§1 non-goals). A
// freshly created Manager that has not yet executed a window returns 0.
func (m *Manager) LastExecutedSubDagIndex() uint64 {
	return m.lastExecutedSubDagIndex
}

// Stats returns a snapshot of cumulative execution statistics.
func (m *Manager) Stats() Stats {
	return m.stats.Snapshot()
}

// ExecuteWindow unpacks one ConsensusOutput, validates every certificate's
// payload against its aligned batch, decodes transactions, runs the
// configured executor, and returns the confirmed digests plus the
// transactions still reported invalid.
//
// A TxDecode, batch-digest mismatch or SchedulerInvariant error is fatal
// per §7: ExecuteWindow panics with a *FatalError rather than returning
// one, so the caller must
// recover() at the call site if it wants to translate the failure instead
// of crashing the process.
func (m *Manager) ExecuteWindow(ctx context.Context, out types.ConsensusOutput) (WindowResult, error) {
	if m.State() != StateRunning {
		return WindowResult{}, fmt.Errorf("engine: window rejected, manager is %s", m.State())
	}

	var digests []common.Hash
	var executable []types.ExecutableEthereumBatch

	for i, certs := range out.Batches {
		cert := out.SubDag.Certificates[i]
		for _, batch := range certs {
			if err := types.VerifyPayload(cert, batch); err != nil {
				panic(&FatalError{Err: err})
			}
			decoded, err := types.DecodeBatch(batch)
			if err != nil {
				panic(&FatalError{Err: err})
			}
			digests = append(digests, batch.Digest)
			executable = append(executable, decoded)
		}
	}

	txs := types.IndexWindow(executable)

	var stop func()
	if m.meter != nil {
		stop = m.meter.Time()
	}
	view := m.store.View()
	info, err := m.exec.Execute(ctx, txs, view)
	if stop != nil {
		stop()
	}
	if err != nil {
		if errors.Is(err, conflictgraph.ErrSchedulerInvariant) {
			panic(&FatalError{Err: err})
		}
		return WindowResult{}, err
	}

	m.stats.record(info)
	m.lastExecutedSubDagIndex = out.SubDag.SubDagIndex

	engineLog.Debug("window executed",
		"batches", len(executable),
		"txs", len(txs),
		"epochs", len(info.ScheduledTxs),
		"invalid", len(info.AbortedTxs))

	return WindowResult{Digests: digests, Invalid: info.AbortedTxs}, nil
}

// PrepareExecution implements §4.6's top-level pipeline:
//
//	prepare_execution(batches):
//	  while batches non-empty:
//	    window ← take first min(concurrency_level, len(batches)) batches
//	    execute(window)
//
// backlog is the queue of consensus deliveries still waiting to execute.
// Each window holds at most cfg.ConcurrencyLevel consecutive deliveries,
// merged into a single ConsensusOutput and driven through one
// ExecuteWindow call — ConcurrencyLevel is the GLOSSARY's "concurrency
// level: an upper bound on the number of consensus batches processed in
// one invocation of the engine," a window-width policy knob, not the
// Config.CPUConcurrency pool-size knob §5 describes. PrepareExecution
// stops and returns the results gathered so far on the first window that
// errors; a fatal error (TxDecode, SchedulerInvariant) still panics with
// a *FatalError out of the underlying ExecuteWindow call, per §7.
func (m *Manager) PrepareExecution(ctx context.Context, backlog []types.ConsensusOutput) ([]WindowResult, error) {
	width := m.cfg.ConcurrencyLevel
	if width <= 0 {
		width = len(backlog)
	}

	var results []WindowResult
	for len(backlog) > 0 {
		n := width
		if n > len(backlog) {
			n = len(backlog)
		}
		window := mergeConsensusOutputs(backlog[:n])
		backlog = backlog[n:]

		res, err := m.ExecuteWindow(ctx, window)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// mergeConsensusOutputs concatenates a window's consensus deliveries into
// one ConsensusOutput: certificates and their aligned batches are
// appended in backlog order, and the merged SubDag carries the window's
// last delivery's metadata (the most recently committed sub-dag in it).
func mergeConsensusOutputs(outs []types.ConsensusOutput) types.ConsensusOutput {
	merged := types.ConsensusOutput{SubDag: outs[len(outs)-1].SubDag}
	merged.SubDag.Certificates = nil
	for _, o := range outs {
		merged.SubDag.Certificates = append(merged.SubDag.Certificates, o.SubDag.Certificates...)
		merged.Batches = append(merged.Batches, o.Batches...)
	}
	return merged
}

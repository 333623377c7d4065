package engine

// Config configures a Manager. There is no flag/env parsing layer here —
// this module has no CLI surface (§1 non-goals); a host binary is
// expected to populate this struct directly.
type Config struct {
	// ConcurrencyLevel is §6's "concurrency_level: usize — window width":
	// an upper bound on the number of consensus batches PrepareExecution
	// processes in one window (one ExecuteWindow call). This is a
	// scheduling-policy knob, distinct from CPUConcurrency below — the
	// GLOSSARY defines it as "an upper bound on the number of consensus
	// batches processed in one invocation of the engine," not a
	// goroutine-pool size. <= 0 means a single window holding everything.
	ConcurrencyLevel int
	// CPUConcurrency bounds the CPU work-stealing pool shared by the
	// simulator, committer, and re-executor (§5's hardware-parallelism-
	// sized pool). <= 0 means unbounded.
	CPUConcurrency int
	// DisableRescheduling skips sub-epoch partitioning of the abort set
	// (§6); the whole abort set is re-executed as a single sub-epoch.
	DisableRescheduling bool
	// DisableEarlyDetection swaps first-updater-wins for
	// last-committer-wins in the ACG's key-ownership rule (§6), a
	// baseline-comparison toggle only.
	DisableEarlyDetection bool
	// Latency enables fine-grained per-stage Meter recording across the
	// simulator, committer, and re-executor.
	Latency bool
}

// DefaultConfig returns a Config with the production defaults: a modest
// window width, bounded CPU concurrency, rescheduling and early detection
// both enabled, latency metering off.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLevel:      4,
		CPUConcurrency:        8,
		DisableRescheduling:   false,
		DisableEarlyDetection: false,
		Latency:               false,
	}
}

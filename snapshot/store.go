// Package snapshot implements the executor's read-mostly versioned
// key→value state store (C1): a single process-wide resource shared by
// every simulation worker, mutated only by the committer under the
// epoch barrier described in §5.
package snapshot

import (
	"sync"

	ethmetrics "github.com/ethereum/go-ethereum/metrics"

	"github.com/sslab-labs/optme/metrics"
	"github.com/sslab-labs/optme/types"
)

var (
	hitCounter  = ethmetrics.GetOrRegisterCounter("optme/snapshot/hits", nil)
	missCounter = ethmetrics.GetOrRegisterCounter("optme/snapshot/misses", nil)
)

// Store is a versioned key→value map. Readers never block on other
// readers; writes are only ever applied by the committer between
// epochs, each Apply bumping the version and establishing the
// happens-before edge required by §4.1.
type Store struct {
	mu      sync.RWMutex
	data    map[types.SlotKey][]byte
	order   []types.SlotKey // insertion order, grounded on stateCache's eviction bookkeeping
	version uint64

	reg *metrics.Registry
}

// New creates an empty Store. If reg is nil, metrics.DefaultRegistry is
// used (so callers never need to nil-check the registry themselves).
func New(reg *metrics.Registry) *Store {
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	return &Store{
		data: make(map[types.SlotKey][]byte),
		reg:  reg,
	}
}

// Get performs a lock-free-to-callers (RLock-guarded) read returning the
// last committed value for key.
func (s *Store) Get(key types.SlotKey) ([]byte, bool) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()

	if ok {
		hitCounter.Inc(1)
		s.reg.Counter("snapshot.hits").Inc(1)
	} else {
		missCounter.Inc(1)
		s.reg.Counter("snapshot.misses").Inc(1)
	}
	return v, ok
}

// Version returns the store's current generation counter, bumped once
// per Apply call.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Apply applies a set of state mutations. Idempotent with respect to
// identical effect inputs: applying the same StateMutation twice leaves
// the store in the same state as applying it once, since each mutation
// is a plain key overwrite rather than a delta.
//
// Callers are responsible for the key-disjointness invariant (§4.3):
// Apply holds the store's write lock, so concurrent calls never corrupt
// the map, but when their effect sets share a key, which value is left
// depends on the order the calls take the lock. The committer (C4) only ever
// calls Apply with effect sets it has established are pairwise
// key-disjoint within one epoch.
func (s *Store) Apply(effects []types.StateMutation) {
	if len(effects) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range effects {
		if _, exists := s.data[e.Key]; !exists {
			s.order = append(s.order, e.Key)
		}
		s.data[e.Key] = e.Value
	}
	s.version++
}

// View returns a logical read-view consistent across concurrent readers
// that began before any concurrent writer: a point-in-time copy taken
// under the store's read lock. Every simulation reads only from a View,
// never from the live Store, so in-flight writes during a later epoch
// can never be observed by a simulation that started earlier.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[types.SlotKey][]byte, len(s.data))
	for k, v := range s.data {
		cp[k] = v
	}
	return View{data: cp, version: s.version}
}

// View is an immutable, point-in-time read view of a Store.
type View struct {
	data    map[types.SlotKey][]byte
	version uint64
}

// Get reads key from the view.
func (v View) Get(key types.SlotKey) ([]byte, bool) {
	val, ok := v.data[key]
	return val, ok
}

// Version reports the Store generation this view was taken at.
func (v View) Version() uint64 { return v.version }

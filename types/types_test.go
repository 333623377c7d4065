package types

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

func TestNewSlotKeyDeterministic(t *testing.T) {
	addr := common.HexToAddress("0x1")
	slot := common.HexToHash("0x2")

	a := NewSlotKey(addr, slot)
	b := NewSlotKey(addr, slot)
	if a != b {
		t.Fatalf("NewSlotKey not deterministic: %x != %x", a, b)
	}

	other := NewSlotKey(common.HexToAddress("0x3"), slot)
	if a == other {
		t.Fatalf("distinct addresses produced the same slot key")
	}
}

func TestAccountSlotsDistinctFromEachOtherAndStorage(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	bal := BalanceSlot(addr)
	nonce := NonceSlot(addr)
	code := CodeSlot(addr)
	storage := NewSlotKey(addr, common.Hash{})

	seen := map[SlotKey]bool{}
	for _, k := range []SlotKey{bal, nonce, code, storage} {
		if seen[k] {
			t.Fatalf("account/storage slot collision: %x", k)
		}
		seen[k] = true
	}
}

func TestSortedKeysOrdersDeterministically(t *testing.T) {
	s := mapset.NewThreadUnsafeSet[SlotKey]()
	k1 := NewSlotKey(common.HexToAddress("0x1"), common.HexToHash("0x1"))
	k2 := NewSlotKey(common.HexToAddress("0x2"), common.HexToHash("0x2"))
	k3 := NewSlotKey(common.HexToAddress("0x3"), common.HexToHash("0x3"))
	s.Add(k2)
	s.Add(k3)
	s.Add(k1)

	out := SortedKeys(s)
	if len(out) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i-1].Less(out[i]) {
			t.Fatalf("SortedKeys not sorted at index %d", i)
		}
	}
}

func TestRwSetConflicts(t *testing.T) {
	k1 := NewSlotKey(common.HexToAddress("0x1"), common.Hash{})
	k2 := NewSlotKey(common.HexToAddress("0x2"), common.Hash{})

	t1 := NewRwSet()
	t1.Writes.Add(k1)

	u := NewRwSet()
	u.Writes.Add(k1)
	if !t1.Conflicts(u) {
		t.Fatalf("expected write-write conflict")
	}

	t2 := NewRwSet()
	t2.Reads.Add(k1)
	if !t2.Conflicts(u) {
		t.Fatalf("expected read-write conflict")
	}

	t3 := NewRwSet()
	t3.Writes.Add(k2)
	if t3.Conflicts(u) {
		t.Fatalf("expected no conflict on disjoint keys")
	}
}

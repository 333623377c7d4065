package committer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

func key(n byte) types.SlotKey {
	return types.NewSlotKey(common.BytesToAddress([]byte{n}), common.Hash{})
}

func TestCommitEpochSingleTxShortcut(t *testing.T) {
	store := snapshot.New(nil)
	c := New(store, 4)

	epoch := []types.FinalizedTx{
		{ID: 0, Effects: []types.StateMutation{{Key: key(1), Value: []byte("v1")}}},
	}
	if err := c.CommitEpoch(context.Background(), epoch); err != nil {
		t.Fatalf("CommitEpoch: %v", err)
	}
	v, ok := store.Get(key(1))
	if !ok || string(v) != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}
}

func TestCommitEpochParallelKeyDisjoint(t *testing.T) {
	store := snapshot.New(nil)
	c := New(store, 4)

	epoch := []types.FinalizedTx{
		{ID: 0, Effects: []types.StateMutation{{Key: key(1), Value: []byte("a")}}},
		{ID: 1, Effects: []types.StateMutation{{Key: key(2), Value: []byte("b")}}},
		{ID: 2, Effects: []types.StateMutation{{Key: key(3), Value: []byte("c")}}},
	}
	if err := c.CommitEpoch(context.Background(), epoch); err != nil {
		t.Fatalf("CommitEpoch: %v", err)
	}
	for i, want := range map[byte]string{1: "a", 2: "b", 3: "c"} {
		v, ok := store.Get(key(i))
		if !ok || string(v) != want {
			t.Fatalf("key %d: expected %q, got %q ok=%v", i, want, v, ok)
		}
	}
}

func TestCommitAllSequentialEpochOrder(t *testing.T) {
	store := snapshot.New(nil)
	c := New(store, 4)

	epochs := [][]types.FinalizedTx{
		{{ID: 0, Effects: []types.StateMutation{{Key: key(1), Value: []byte("epoch1")}}}},
		{{ID: 1, Effects: []types.StateMutation{{Key: key(1), Value: []byte("epoch2")}}}},
	}
	if err := c.CommitAll(context.Background(), epochs); err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	v, _ := store.Get(key(1))
	if string(v) != "epoch2" {
		t.Fatalf("expected later epoch's write to win, got %q", v)
	}
}

func TestCommitEpochEmptyIsNoop(t *testing.T) {
	store := snapshot.New(nil)
	c := New(store, 4)
	if err := c.CommitEpoch(context.Background(), nil); err != nil {
		t.Fatalf("CommitEpoch(nil): %v", err)
	}
}

package reexecutor

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sslab-labs/optme/committer"
	"github.com/sslab-labs/optme/simulator"
	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

func fundedKey(t *testing.T, store *snapshot.Store, amount byte) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	bal := make([]byte, 32)
	bal[31] = amount
	store.Apply([]types.StateMutation{{Key: types.BalanceSlot(addr), Value: bal}})
	return key, addr
}

func aborted(t *testing.T, id uint64, key *ecdsa.PrivateKey, signer ethtypes.Signer, to common.Address, nonce uint64, value int64) types.AbortedTx {
	t.Helper()
	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(value), 21000, big.NewInt(1), nil)
	signed, err := ethtypes.SignTx(tx, signer, key)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	raw := types.IndexedTx{ID: id, Decoded: signed}
	return types.AbortedTx{ID: id, RwSet: types.NewRwSet(), Raw: raw}
}

func TestRunSingleTxShortcut(t *testing.T) {
	store := snapshot.New(nil)
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))
	key, _ := fundedKey(t, store, 100)
	to := common.HexToAddress("0xbeef")

	pool := simulator.NewPool(simulator.NewMapEVM(signer), 4)
	c := committer.New(store, 4)
	r := New(pool, c)

	sub := []types.AbortedTx{aborted(t, 0, key, signer, to, 0, 10)}
	res, err := r.Run(context.Background(), sub, store.View())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Committed) != 1 || len(res.Invalid) != 0 {
		t.Fatalf("expected 1 committed 0 invalid, got %+v", res)
	}
}

func TestRunValidatesWriteDisjointness(t *testing.T) {
	store := snapshot.New(nil)
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))

	// Two senders, both paying into the SAME recipient — their writes
	// collide on the recipient's balance slot, so only the lower-id one
	// should survive optimistic validation.
	to := common.HexToAddress("0xbeef")
	keyA, _ := fundedKey(t, store, 100)
	keyB, _ := fundedKey(t, store, 100)

	pool := simulator.NewPool(simulator.NewMapEVM(signer), 4)
	c := committer.New(store, 4)
	r := New(pool, c)

	sub := []types.AbortedTx{
		aborted(t, 0, keyA, signer, to, 0, 10),
		aborted(t, 1, keyB, signer, to, 0, 10),
	}
	res, err := r.Run(context.Background(), sub, store.View())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Committed) != 1 || res.Committed[0] != 0 {
		t.Fatalf("expected only tx 0 to commit, got %+v", res)
	}
	if len(res.Invalid) != 1 || res.Invalid[0].ID != 1 {
		t.Fatalf("expected tx 1 reported invalid, got %+v", res.Invalid)
	}
}

func TestRunEmptySubEpoch(t *testing.T) {
	store := snapshot.New(nil)
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))
	pool := simulator.NewPool(simulator.NewMapEVM(signer), 4)
	c := committer.New(store, 4)
	r := New(pool, c)

	res, err := r.Run(context.Background(), nil, store.View())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Committed) != 0 || len(res.Invalid) != 0 {
		t.Fatalf("expected empty result for empty sub-epoch, got %+v", res)
	}
}

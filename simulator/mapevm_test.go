package simulator

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func signedIndexedTx(t *testing.T, id uint64, key *ecdsa.PrivateKey, signer ethtypes.Signer, to common.Address, nonce uint64, value int64) types.IndexedTx {
	t.Helper()
	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(value), 21000, big.NewInt(1), nil)
	signed, err := ethtypes.SignTx(tx, signer, key)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	payload, err := signed.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return types.IndexedTx{ID: id, Payload: payload, Decoded: signed}
}

func TestMapEVMTransferSuccess(t *testing.T) {
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))
	key := mustKey(t)
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0xbeef")

	store := snapshot.New(nil)
	store.Apply([]types.StateMutation{
		{Key: types.BalanceSlot(from), Value: func() []byte { b := make([]byte, 32); b[31] = 100; return b }()},
	})

	evm := NewMapEVM(signer)
	tx := signedIndexedTx(t, 0, key, signer, to, 0, 10)

	res, err := evm.Simulate(context.Background(), tx, store.View())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res == nil {
		t.Fatalf("expected a result, got revert/skip")
	}
	if res.RwSet.Writes.Cardinality() != 3 {
		t.Fatalf("expected 3 writes (sender balance, sender nonce, recipient balance), got %d", res.RwSet.Writes.Cardinality())
	}
	if len(res.Logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(res.Logs))
	}
}

func TestMapEVMNonceMismatchReverts(t *testing.T) {
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))
	key := mustKey(t)
	to := common.HexToAddress("0xbeef")

	store := snapshot.New(nil)
	evm := NewMapEVM(signer)
	tx := signedIndexedTx(t, 0, key, signer, to, 5, 1) // nonce 5, but account nonce is 0

	res, err := evm.Simulate(context.Background(), tx, store.View())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res != nil {
		t.Fatalf("expected revert (nil result) on nonce mismatch")
	}
}

func TestMapEVMInsufficientBalanceReverts(t *testing.T) {
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))
	key := mustKey(t)
	to := common.HexToAddress("0xbeef")

	store := snapshot.New(nil) // zero balance
	evm := NewMapEVM(signer)
	tx := signedIndexedTx(t, 0, key, signer, to, 0, 10)

	res, err := evm.Simulate(context.Background(), tx, store.View())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if res != nil {
		t.Fatalf("expected revert (nil result) on insufficient balance")
	}
}

func TestPoolRunSortsByID(t *testing.T) {
	signer := ethtypes.NewEIP155Signer(big.NewInt(1))
	to := common.HexToAddress("0xbeef")

	store := snapshot.New(nil)
	var txs []types.IndexedTx
	for i := uint64(0); i < 5; i++ {
		key := mustKey(t)
		from := crypto.PubkeyToAddress(key.PublicKey)
		store.Apply([]types.StateMutation{
			{Key: types.BalanceSlot(from), Value: func() []byte { b := make([]byte, 32); b[31] = 100; return b }()},
		})
		// Deliberately build the slice in reverse id order relative to
		// submission to exercise the pool's final sort.
		txs = append([]types.IndexedTx{signedIndexedTx(t, 4-i, key, signer, to, 0, 1)}, txs...)
	}

	pool := NewPool(NewMapEVM(signer), 4)
	out, err := pool.Run(context.Background(), txs, store.View())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected 5 simulated txs, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].ID >= out[i].ID {
			t.Fatalf("results not sorted by id: %d then %d", out[i-1].ID, out[i].ID)
		}
	}
}

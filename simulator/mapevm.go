package simulator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/sslab-labs/optme/snapshot"
	"github.com/sslab-labs/optme/types"
)

// MapEVM is a deterministic in-memory reference EVM, standing in for
// the real go-ethereum core/vm + core/state stack this module treats as
// an external plug-in (§1, §6). It implements simple balance-transfer
// and contract-creation semantics — enough to drive the scheduler
// end-to-end in tests without depending on an actual EVM interpreter,
// grounded on geth/processor.go's EVM-as-dependency pattern and
// core/state/memory_statedb.go's account model.
type MapEVM struct {
	Signer ethtypes.Signer
}

// NewMapEVM creates a MapEVM using signer to recover each transaction's
// sender. Signature verification itself is out of scope (§1 non-goals
// assume upstream pre-validation); Sender recovery here is only used to
// identify which account's balance/nonce to touch.
func NewMapEVM(signer ethtypes.Signer) *MapEVM {
	return &MapEVM{Signer: signer}
}

func decodeBalance(raw []byte, ok bool) *uint256.Int {
	if !ok {
		return uint256.NewInt(0)
	}
	var b [32]byte
	copy(b[32-len(raw):], raw)
	return new(uint256.Int).SetBytes32(b[:])
}

func encodeBalance(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func decodeNonce(raw []byte, ok bool) uint64 {
	if !ok {
		return 0
	}
	return new(big.Int).SetBytes(raw).Uint64()
}

func encodeNonce(n uint64) []byte {
	return new(big.Int).SetUint64(n).Bytes()
}

// Simulate executes tx against view. See EVM for the three-way result
// contract.
func (m *MapEVM) Simulate(_ context.Context, tx types.IndexedTx, view snapshot.View) (*Result, error) {
	from, err := ethtypes.Sender(m.Signer, tx.Decoded)
	if err != nil {
		return nil, err
	}

	rw := types.NewRwSet()

	senderBalKey := types.BalanceSlot(from)
	senderNonceKey := types.NonceSlot(from)
	rw.Reads.Add(senderBalKey)
	rw.Reads.Add(senderNonceKey)

	balRaw, balOK := view.Get(senderBalKey)
	balance := decodeBalance(balRaw, balOK)
	nonceRaw, nonceOK := view.Get(senderNonceKey)
	nonce := decodeNonce(nonceRaw, nonceOK)

	// Nonce mismatch: revert, matching the EVM's "Ok(None)" outcome —
	// dropped, not a hard failure.
	if nonce != tx.Decoded.Nonce() {
		return nil, nil
	}

	value, ok := uint256.FromBig(tx.Decoded.Value())
	if !ok {
		return nil, nil
	}
	// Only the transferred value is debited; no gas is charged.
	if balance.Lt(value) {
		return nil, nil
	}

	newSenderBalance := new(uint256.Int).Sub(balance, value)
	newNonce := nonce + 1

	effects := []types.StateMutation{
		{Key: senderBalKey, Value: encodeBalance(newSenderBalance)},
		{Key: senderNonceKey, Value: encodeNonce(newNonce)},
	}
	rw.Writes.Add(senderBalKey)
	rw.Writes.Add(senderNonceKey)

	var logs []types.LogRecord
	if to := tx.Decoded.To(); to != nil {
		recipientBalKey := types.BalanceSlot(*to)
		rw.Reads.Add(recipientBalKey)
		recipRaw, recipOK := view.Get(recipientBalKey)
		recipBalance := decodeBalance(recipRaw, recipOK)
		newRecipBalance := new(uint256.Int).Add(recipBalance, value)
		effects = append(effects, types.StateMutation{Key: recipientBalKey, Value: encodeBalance(newRecipBalance)})
		rw.Writes.Add(recipientBalKey)

		logs = append(logs, types.LogRecord{
			Address: *to,
			Topics:  []common.Hash{tx.Decoded.Hash()},
			Data:    tx.Decoded.Data(),
		})
	} else {
		// Contract creation: deploy at the CREATE address derived from
		// (from, nonce), writing its code slot.
		contract := ethtypes.CreateAddress(from, nonce)
		codeKey := types.CodeSlot(contract)
		effects = append(effects, types.StateMutation{Key: codeKey, Value: tx.Decoded.Data()})
		rw.Writes.Add(codeKey)

		logs = append(logs, types.LogRecord{
			Address: contract,
			Topics:  []common.Hash{tx.Decoded.Hash()},
		})
	}

	return &Result{Effects: effects, Logs: logs, RwSet: rw}, nil
}

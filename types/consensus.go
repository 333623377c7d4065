package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrBatchDigestMismatch is returned when a certificate's payload does
// not contain the digest of its aligned batch — a fatal, upstream-caused
// condition per §7's TxDecode class.
var ErrBatchDigestMismatch = errors.New("types: batch digest not found in certificate payload")

// ErrTxDecode wraps RLP-decode failures for a batch transaction. Per §6,
// a transaction that fails to decode is fatal: upstream is responsible
// for validation.
var ErrTxDecode = errors.New("types: failed to decode transaction")

// Certificate is the consensus metadata accompanying one batch in a
// sub-DAG. Payload lists the batch digests the certificate's author
// claims to have sequenced.
type Certificate struct {
	Header CertificateHeader
}

// CertificateHeader carries the payload digests asserted by a certificate.
type CertificateHeader struct {
	Payload []common.Hash
}

// SubDag describes one committed sub-DAG from the consensus layer.
type SubDag struct {
	LeaderRound     uint64
	SubDagIndex     uint64
	CommitTimestamp uint64
	Certificates    []Certificate
}

// Batch is a consensus-sequenced group of RLP-encoded signed transactions.
type Batch struct {
	Digest       common.Hash
	Transactions [][]byte
}

// ConsensusOutput is the inbound unit of work from the consensus layer:
// a committed sub-DAG plus the batches aligned 1:1 with its certificates.
type ConsensusOutput struct {
	SubDag  SubDag
	Batches [][]Batch
}

// ExecutableEthereumBatch is the decoded form of a Batch, produced by
// DecodeBatch and flattened by IndexWindow. It is not sent back to the
// consensus layer: the engine returns only the batch digests.
type ExecutableEthereumBatch struct {
	Digest       common.Hash
	Transactions []*ethtypes.Transaction
}

// VerifyPayload asserts that cert's payload contains batch's digest, per
// §6's "certificate.header.payload contains each batch's digest; a
// mismatch is fatal."
func VerifyPayload(cert Certificate, batch Batch) error {
	for _, d := range cert.Header.Payload {
		if d == batch.Digest {
			return nil
		}
	}
	return fmt.Errorf("%w: digest %s", ErrBatchDigestMismatch, batch.Digest.Hex())
}

// DecodeBatch RLP-decodes every transaction in a batch into an
// ExecutableEthereumBatch. A decode failure is fatal per §6 and is
// returned wrapped in ErrTxDecode for the caller to treat as such.
func DecodeBatch(b Batch) (ExecutableEthereumBatch, error) {
	out := ExecutableEthereumBatch{
		Digest:       b.Digest,
		Transactions: make([]*ethtypes.Transaction, 0, len(b.Transactions)),
	}
	for i, raw := range b.Transactions {
		tx := new(ethtypes.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return ExecutableEthereumBatch{}, fmt.Errorf("%w: batch %s tx %d: %v", ErrTxDecode, b.Digest.Hex(), i, err)
		}
		out.Transactions = append(out.Transactions, tx)
	}
	return out, nil
}

// IndexWindow flattens a window's batches into IndexedTx values, assigning
// IDs monotonically by position — the total-order tiebreaker used
// throughout the scheduler (§3).
func IndexWindow(batches []ExecutableEthereumBatch) []IndexedTx {
	var out []IndexedTx
	var id uint64
	for _, b := range batches {
		for _, tx := range b.Transactions {
			payload, err := tx.MarshalBinary()
			if err != nil {
				// Transactions already round-tripped through
				// UnmarshalBinary in DecodeBatch; re-encoding cannot
				// fail without that having been a decode bug.
				payload = nil
			}
			out = append(out, IndexedTx{ID: id, Payload: payload, Decoded: tx})
			id++
		}
	}
	return out
}

// Package txprep makes transactions signable and submittable against a
// target network: checkpoint injection, signing, persistence, submission
// and confirmation.
package txprep

import (
	"github.com/go-faster/errors"

	"multisig-console/internal/solana"
)

// Checkpoint is the block reference a transaction must carry to be accepted.
type Checkpoint struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	Slot                 uint64
}

// Inject stamps cp into tx.
//
// A legacy transaction is updated in place and returned; when it has no fee
// payer the key of its first signer slot becomes the fee payer. Signatures
// made over the previous blockhash are cleared, signer slots are kept. A versioned
// message is never mutated: a copy carrying the new blockhash is wrapped in a
// new transaction with empty signature slots.
func Inject(tx solana.Transaction, cp Checkpoint) (solana.Transaction, error) {
	switch t := tx.(type) {
	case *solana.LegacyTransaction:
		if t.RecentBlockhash != cp.Blockhash {
			for i := range t.Signatures {
				t.Signatures[i].Signature = nil
			}
		}
		t.RecentBlockhash = cp.Blockhash
		t.LastValidBlockHeight = cp.LastValidBlockHeight
		if t.FeePayer == nil && len(t.Signatures) > 0 {
			payer := t.Signatures[0].PublicKey
			t.FeePayer = &payer
		}
		return t, nil
	case *solana.VersionedTransaction:
		return solana.NewVersionedTransaction(t.Message.WithRecentBlockhash(cp.Blockhash)), nil
	default:
		return nil, errors.Errorf("unsupported transaction type %T", tx)
	}
}

// RecentBlockhash returns the block reference carried by tx.
func RecentBlockhash(tx solana.Transaction) solana.Hash {
	switch t := tx.(type) {
	case *solana.LegacyTransaction:
		return t.RecentBlockhash
	case *solana.VersionedTransaction:
		return t.Message.RecentBlockhash
	default:
		return solana.Hash{}
	}
}

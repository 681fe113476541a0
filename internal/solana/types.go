package solana

import "github.com/mr-tron/base58"

// Commitment is a confirmation level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Rank orders commitment levels; unknown levels rank lowest.
func (c Commitment) Rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// AccountInfo represents on-chain account information with decoded data.
type AccountInfo struct {
	Lamports   uint64
	Owner      PublicKey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// KeyedAccount is an account returned by getProgramAccounts.
type KeyedAccount struct {
	Pubkey  PublicKey
	Account AccountInfo
}

// Filter is a getProgramAccounts filter. Exactly one field is set.
type Filter struct {
	Memcmp   *MemcmpFilter
	DataSize *uint64
}

// MemcmpFilter matches Bytes at Offset within account data.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// Memcmp builds a memcmp filter.
func Memcmp(offset uint64, b []byte) Filter {
	return Filter{Memcmp: &MemcmpFilter{Offset: offset, Bytes: b}}
}

// DataSize builds a data size filter.
func DataSize(n uint64) Filter {
	return Filter{DataSize: &n}
}

func (f Filter) params() map[string]interface{} {
	switch {
	case f.Memcmp != nil:
		return map[string]interface{}{
			"memcmp": map[string]interface{}{
				"offset": f.Memcmp.Offset,
				"bytes":  base58.Encode(f.Memcmp.Bytes),
			},
		}
	case f.DataSize != nil:
		return map[string]interface{}{"dataSize": *f.DataSize}
	default:
		return nil
	}
}

// ProgramAccountsOpts configures getProgramAccounts.
type ProgramAccountsOpts struct {
	Commitment Commitment
	Filters    []Filter
}

// LatestBlockhash is the result of getLatestBlockhash.
type LatestBlockhash struct {
	Slot                 uint64
	Blockhash            Hash
	LastValidBlockHeight uint64
}

// SendOptions configures sendTransaction.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
	// MaxRetries is forwarded to the node; nil leaves the node default.
	MaxRetries *uint
}

// SignatureStatus is an entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	Err                interface{}
	ConfirmationStatus Commitment
}

// Failed reports whether the transaction failed on-chain.
func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}

// Reached reports whether the status satisfies the requested commitment.
func (s *SignatureStatus) Reached(c Commitment) bool {
	if s == nil {
		return false
	}
	if s.ConfirmationStatus == "" {
		// Older nodes only report confirmations; nil means rooted.
		return s.Confirmations == nil || c != CommitmentFinalized
	}
	return s.ConfirmationStatus.Rank() >= c.Rank()
}

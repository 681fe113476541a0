// Package multisig reads and validates multisig program accounts.
package multisig

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"multisig-console/internal/solana"
)

// LegacyProgramID is the previous major version of the multisig program.
// Accounts owned by it are reported as a program version mismatch.
var LegacyProgramID = solana.MustPublicKey("SMPLecH534NA9acpos4G6x7uf3LWbCAwZQE9e8ZekMu")

// Member permission bits.
const (
	PermissionInitiate uint8 = 1 << iota
	PermissionVote
	PermissionExecute
)

// Member is a multisig member key with its permission mask.
type Member struct {
	Key         solana.PublicKey
	Permissions uint8
}

// Has reports whether the member holds permission p.
func (m Member) Has(p uint8) bool { return m.Permissions&p == p }

// Multisig is a decoded multisig configuration account.
type Multisig struct {
	Address               solana.PublicKey
	CreateKey             solana.PublicKey
	ConfigAuthority       solana.PublicKey
	Threshold             uint16
	TimeLock              uint32
	TransactionIndex      uint64
	StaleTransactionIndex uint64
	RentCollector         *solana.PublicKey
	Bump                  uint8
	Members               []Member

	ProgramID solana.PublicKey
	ChainID   string
}

// Voters returns the number of members allowed to vote.
func (m *Multisig) Voters() int {
	n := 0
	for _, mem := range m.Members {
		if mem.Has(PermissionVote) {
			n++
		}
	}
	return n
}

// IsMember reports whether key is a member.
func (m *Multisig) IsMember(key solana.PublicKey) bool {
	for _, mem := range m.Members {
		if mem.Key == key {
			return true
		}
	}
	return false
}

// Validate checks 1 <= threshold <= voters. Reads never fail on a violation;
// it is surfaced to the caller through this method.
func (m *Multisig) Validate() error {
	voters := m.Voters()
	if m.Threshold < 1 || int(m.Threshold) > voters {
		return fmt.Errorf("multisig %s: threshold %d outside 1..%d voters", m.Address, m.Threshold, voters)
	}
	return nil
}

// Clone returns a deep copy.
func (m *Multisig) Clone() *Multisig {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Members = append([]Member(nil), m.Members...)
	if m.RentCollector != nil {
		rc := *m.RentCollector
		cp.RentCollector = &rc
	}
	return &cp
}

// ProposalStatus is the closed set of proposal states.
type ProposalStatus int

const (
	StatusActive ProposalStatus = iota
	StatusApproved
	StatusRejected
	StatusExecuted
	StatusCancelled
)

func (s ProposalStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	case StatusExecuted:
		return "Executed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("ProposalStatus(%d)", int(s))
	}
}

// Proposal is a decoded proposal account. Executed and Cancelled mirror Status.
type Proposal struct {
	Address          solana.PublicKey
	MultisigAddress  solana.PublicKey
	TransactionIndex uint64
	// Creator comes from the transaction record at the same index and is
	// zero when that record could not be read.
	Creator          solana.PublicKey
	Status           ProposalStatus
	StatusTimestamp  int64
	Bump             uint8
	Approvals        []solana.PublicKey
	Rejections       []solana.PublicKey
	Cancellations    []solana.PublicKey
	Executed         bool
	Cancelled        bool
}

// SetStatus sets Status and keeps the mirrored flags consistent.
func (p *Proposal) SetStatus(s ProposalStatus) {
	p.Status = s
	p.Executed = s == StatusExecuted
	p.Cancelled = s == StatusCancelled
}

// Clone returns a deep copy.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Approvals = append([]solana.PublicKey(nil), p.Approvals...)
	cp.Rejections = append([]solana.PublicKey(nil), p.Rejections...)
	cp.Cancellations = append([]solana.PublicKey(nil), p.Cancellations...)
	return &cp
}

// VaultTransaction is a decoded vault transaction record. Message is kept
// as the program encodes it.
type VaultTransaction struct {
	Address              solana.PublicKey
	MultisigAddress      solana.PublicKey
	Creator              solana.PublicKey
	Index                uint64
	Bump                 uint8
	VaultIndex           uint8
	VaultBump            uint8
	EphemeralSignerBumps []byte
	Message              []byte
}

// Clone returns a deep copy.
func (t *VaultTransaction) Clone() *VaultTransaction {
	if t == nil {
		return nil
	}
	cp := *t
	cp.EphemeralSignerBumps = append([]byte(nil), t.EphemeralSignerBumps...)
	cp.Message = append([]byte(nil), t.Message...)
	return &cp
}

// ConfigTransaction is a decoded config transaction record. Actions are kept
// as the program encodes them.
type ConfigTransaction struct {
	Address         solana.PublicKey
	MultisigAddress solana.PublicKey
	Creator         solana.PublicKey
	Index           uint64
	Bump            uint8
	Actions         []byte
}

// Clone returns a deep copy.
func (t *ConfigTransaction) Clone() *ConfigTransaction {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Actions = append([]byte(nil), t.Actions...)
	return &cp
}

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// FormatLamports renders lamports as a decimal SOL amount without trailing zeros.
func FormatLamports(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9).String()
}

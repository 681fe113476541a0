package multisig

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/go-faster/errors"

	"multisig-console/internal/solana"
)

// SystemProgramID is the native system program.
var SystemProgramID = solana.PublicKey{}

// VoteArgs identifies a member's vote on a proposal.
type VoteArgs struct {
	Multisig         solana.PublicKey
	Member           solana.PublicKey
	TransactionIndex uint64
	Memo             string
}

// InstructionBuilder produces program instructions. The encoding belongs to
// the on-chain program.
type InstructionBuilder interface {
	ProposalApprove(program solana.PublicKey, args VoteArgs) (solana.Instruction, error)
	ProposalReject(program solana.PublicKey, args VoteArgs) (solana.Instruction, error)
	ProposalCancel(program solana.PublicKey, args VoteArgs) (solana.Instruction, error)
}

// InstructionDiscriminator returns the 8 byte selector of a program method.
func InstructionDiscriminator(method string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + method))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// SquadsInstructions builds v4 vote instructions.
type SquadsInstructions struct{}

// ProposalApprove implements InstructionBuilder.
func (SquadsInstructions) ProposalApprove(program solana.PublicKey, args VoteArgs) (solana.Instruction, error) {
	return voteInstruction(program, "proposal_approve", args, false)
}

// ProposalReject implements InstructionBuilder.
func (SquadsInstructions) ProposalReject(program solana.PublicKey, args VoteArgs) (solana.Instruction, error) {
	return voteInstruction(program, "proposal_reject", args, false)
}

// ProposalCancel implements InstructionBuilder. Cancelling may grow the
// proposal account, so the system program is passed along.
func (SquadsInstructions) ProposalCancel(program solana.PublicKey, args VoteArgs) (solana.Instruction, error) {
	return voteInstruction(program, "proposal_cancel_v2", args, true)
}

func voteInstruction(program solana.PublicKey, method string, args VoteArgs, withSystem bool) (solana.Instruction, error) {
	if args.Multisig.IsZero() || args.Member.IsZero() {
		return solana.Instruction{}, errors.New("multisig and member are required")
	}
	if len(args.Memo) > 0xffff {
		return solana.Instruction{}, errors.Errorf("memo too long: %d bytes", len(args.Memo))
	}
	proposal, err := ProposalAddress(program, args.Multisig, args.TransactionIndex)
	if err != nil {
		return solana.Instruction{}, errors.Wrap(err, "derive proposal")
	}

	disc := InstructionDiscriminator(method)
	data := append([]byte(nil), disc[:]...)
	if args.Memo == "" {
		data = append(data, 0)
	} else {
		data = append(data, 1)
		data = binary.LittleEndian.AppendUint32(data, uint32(len(args.Memo)))
		data = append(data, args.Memo...)
	}

	accounts := []solana.AccountMeta{
		{PublicKey: args.Multisig},
		{PublicKey: args.Member, IsSigner: true, IsWritable: true},
		{PublicKey: proposal, IsWritable: true},
	}
	if withSystem {
		accounts = append(accounts, solana.AccountMeta{PublicKey: SystemProgramID})
	}
	return solana.Instruction{ProgramID: program, Accounts: accounts, Data: data}, nil
}

// Compile-time interface check.
var _ InstructionBuilder = SquadsInstructions{}

package multisig

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multisig-console/internal/chain"
	"multisig-console/internal/solana"
)

func TestSquadsInstructions_Approve(t *testing.T) {
	args := VoteArgs{
		Multisig:         solana.PublicKey{0x01},
		Member:           solana.PublicKey{0x02},
		TransactionIndex: 3,
	}
	ix, err := SquadsInstructions{}.ProposalApprove(chain.DefaultProgramID, args)
	require.NoError(t, err)

	disc := InstructionDiscriminator("proposal_approve")
	assert.Equal(t, chain.DefaultProgramID, ix.ProgramID)
	assert.Equal(t, append(disc[:], 0), ix.Data)

	proposal, err := ProposalAddress(chain.DefaultProgramID, args.Multisig, 3)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 3)
	assert.Equal(t, solana.AccountMeta{PublicKey: args.Multisig}, ix.Accounts[0])
	assert.Equal(t, solana.AccountMeta{PublicKey: args.Member, IsSigner: true, IsWritable: true}, ix.Accounts[1])
	assert.Equal(t, solana.AccountMeta{PublicKey: proposal, IsWritable: true}, ix.Accounts[2])
}

func TestSquadsInstructions_Memo(t *testing.T) {
	args := VoteArgs{
		Multisig: solana.PublicKey{0x01},
		Member:   solana.PublicKey{0x02},
		Memo:     "lgtm",
	}
	ix, err := SquadsInstructions{}.ProposalReject(chain.DefaultProgramID, args)
	require.NoError(t, err)

	disc := InstructionDiscriminator("proposal_reject")
	require.Len(t, ix.Data, 8+1+4+4)
	assert.Equal(t, disc[:], ix.Data[:8])
	assert.Equal(t, byte(1), ix.Data[8])
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(ix.Data[9:13]))
	assert.Equal(t, "lgtm", string(ix.Data[13:]))
}

func TestSquadsInstructions_Cancel(t *testing.T) {
	args := VoteArgs{Multisig: solana.PublicKey{0x01}, Member: solana.PublicKey{0x02}}
	ix, err := SquadsInstructions{}.ProposalCancel(chain.DefaultProgramID, args)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 4)
	assert.Equal(t, SystemProgramID, ix.Accounts[3].PublicKey)

	approve, err := SquadsInstructions{}.ProposalApprove(chain.DefaultProgramID, args)
	require.NoError(t, err)
	assert.NotEqual(t, approve.Data[:8], ix.Data[:8])
}

func TestSquadsInstructions_Invalid(t *testing.T) {
	_, err := SquadsInstructions{}.ProposalApprove(chain.DefaultProgramID, VoteArgs{Member: solana.PublicKey{0x02}})
	assert.Error(t, err)

	_, err = SquadsInstructions{}.ProposalApprove(chain.DefaultProgramID, VoteArgs{
		Multisig: solana.PublicKey{0x01},
		Member:   solana.PublicKey{0x02},
		Memo:     strings.Repeat("x", 0x10000),
	})
	assert.Error(t, err)
}

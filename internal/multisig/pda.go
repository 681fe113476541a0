package multisig

import (
	"multisig-console/internal/solana"
)

var (
	seedPrefix      = []byte("multisig")
	seedTransaction = []byte("transaction")
	seedProposal    = []byte("proposal")
	seedVault       = []byte("vault")
)

// TransactionAddress derives the vault or config transaction record at index.
func TransactionAddress(program, multisig solana.PublicKey, index uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		seedPrefix, multisig.Bytes(), seedTransaction, solana.U64LE(index),
	}, program)
	return addr, err
}

// ProposalAddress derives the proposal for the transaction at index.
func ProposalAddress(program, multisig solana.PublicKey, index uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		seedPrefix, multisig.Bytes(), seedTransaction, solana.U64LE(index), seedProposal,
	}, program)
	return addr, err
}

// VaultAddress derives the vault account that holds the multisig's funds.
func VaultAddress(program, multisig solana.PublicKey, vaultIndex uint8) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		seedPrefix, multisig.Bytes(), seedVault, {vaultIndex},
	}, program)
	return addr, err
}

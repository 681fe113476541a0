package solana

import "context"

// RPCClient defines the JSON-RPC surface the pipeline consumes.
type RPCClient interface {
	// GetAccountInfo retrieves an account. Returns nil, nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey PublicKey) (*AccountInfo, error)

	// GetMultipleAccounts retrieves several accounts; missing accounts are nil entries.
	GetMultipleAccounts(ctx context.Context, pubkeys []PublicKey) ([]*AccountInfo, error)

	// GetProgramAccounts retrieves all accounts owned by program matching the filters.
	GetProgramAccounts(ctx context.Context, program PublicKey, opts *ProgramAccountsOpts) ([]KeyedAccount, error)

	// GetLatestBlockhash retrieves the latest blockhash at the given commitment.
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (*LatestBlockhash, error)

	// GetBlockHeight retrieves the current block height.
	GetBlockHeight(ctx context.Context, commitment Commitment) (uint64, error)

	// GetBalance retrieves the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey PublicKey) (uint64, error)

	// SendTransaction submits a serialized, signed transaction.
	SendTransaction(ctx context.Context, raw []byte, opts SendOptions) (Signature, error)

	// GetSignatureStatuses retrieves statuses for signatures; unknown signatures are nil entries.
	GetSignatureStatuses(ctx context.Context, sigs []Signature, searchHistory bool) ([]*SignatureStatus, error)
}

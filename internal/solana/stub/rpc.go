package stub

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"multisig-console/internal/solana"
)

// ErrNotScripted is returned when a method has no scripted result.
var ErrNotScripted = errors.New("stub: no scripted result")

// RPCClient implements solana.RPCClient for testing. Failures queued with
// FailNext are returned, in order, before the stored data is consulted.
type RPCClient struct {
	mu sync.Mutex

	Accounts        map[solana.PublicKey]*solana.AccountInfo
	ProgramAccounts map[solana.PublicKey][]solana.KeyedAccount
	Blockhash       *solana.LatestBlockhash
	BlockHeight     uint64
	Statuses        map[solana.Signature]*solana.SignatureStatus

	// Sent records raw transactions passed to SendTransaction.
	Sent [][]byte
	// SendSignature overrides the signature returned by SendTransaction.
	SendSignature *solana.Signature
	// LastProgramAccountsOpts records the options of the latest query.
	LastProgramAccountsOpts *solana.ProgramAccountsOpts

	failures map[string][]error
	calls    map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:        make(map[solana.PublicKey]*solana.AccountInfo),
		ProgramAccounts: make(map[solana.PublicKey][]solana.KeyedAccount),
		Statuses:        make(map[solana.Signature]*solana.SignatureStatus),
		failures:        make(map[string][]error),
		calls:           make(map[string]int),
	}
}

// FailNext queues errs to be returned by the next calls of method.
func (c *RPCClient) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// SetAccount stores an account.
func (c *RPCClient) SetAccount(key solana.PublicKey, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[key] = info
}

// AddProgramAccount stores an account and lists it under its owner.
func (c *RPCClient) AddProgramAccount(key solana.PublicKey, info solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[key] = &info
	c.ProgramAccounts[info.Owner] = append(c.ProgramAccounts[info.Owner], solana.KeyedAccount{Pubkey: key, Account: info})
}

// SetStatus stores a signature status.
func (c *RPCClient) SetStatus(sig solana.Signature, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[sig] = status
}

func (c *RPCClient) enter(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	if q := c.failures[method]; len(q) > 0 {
		c.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

// GetAccountInfo implements solana.RPCClient.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey solana.PublicKey) (*solana.AccountInfo, error) {
	if err := c.enter("getAccountInfo"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// GetMultipleAccounts implements solana.RPCClient.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, pubkeys []solana.PublicKey) ([]*solana.AccountInfo, error) {
	if err := c.enter("getMultipleAccounts"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, k := range pubkeys {
		if info, ok := c.Accounts[k]; ok {
			cp := *info
			out[i] = &cp
		}
	}
	return out, nil
}

// GetProgramAccounts implements solana.RPCClient, applying memcmp and dataSize filters.
func (c *RPCClient) GetProgramAccounts(_ context.Context, program solana.PublicKey, opts *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	if err := c.enter("getProgramAccounts"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastProgramAccountsOpts = opts

	var out []solana.KeyedAccount
	for _, acc := range c.ProgramAccounts[program] {
		if opts == nil || matches(acc.Account.Data, opts.Filters) {
			out = append(out, acc)
		}
	}
	return out, nil
}

func matches(data []byte, filters []solana.Filter) bool {
	for _, f := range filters {
		switch {
		case f.Memcmp != nil:
			end := f.Memcmp.Offset + uint64(len(f.Memcmp.Bytes))
			if end > uint64(len(data)) || !bytes.Equal(data[f.Memcmp.Offset:end], f.Memcmp.Bytes) {
				return false
			}
		case f.DataSize != nil:
			if uint64(len(data)) != *f.DataSize {
				return false
			}
		}
	}
	return true
}

// GetLatestBlockhash implements solana.RPCClient.
func (c *RPCClient) GetLatestBlockhash(_ context.Context, _ solana.Commitment) (*solana.LatestBlockhash, error) {
	if err := c.enter("getLatestBlockhash"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Blockhash == nil {
		return nil, ErrNotScripted
	}
	cp := *c.Blockhash
	return &cp, nil
}

// GetBlockHeight implements solana.RPCClient.
func (c *RPCClient) GetBlockHeight(_ context.Context, _ solana.Commitment) (uint64, error) {
	if err := c.enter("getBlockHeight"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BlockHeight, nil
}

// GetBalance implements solana.RPCClient.
func (c *RPCClient) GetBalance(_ context.Context, pubkey solana.PublicKey) (uint64, error) {
	if err := c.enter("getBalance"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.Accounts[pubkey]; ok {
		return info.Lamports, nil
	}
	return 0, nil
}

// SendTransaction implements solana.RPCClient. The returned signature is the
// first signature slot of the raw transaction unless SendSignature is set.
func (c *RPCClient) SendTransaction(_ context.Context, raw []byte, _ solana.SendOptions) (solana.Signature, error) {
	if err := c.enter("sendTransaction"); err != nil {
		return solana.Signature{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, append([]byte(nil), raw...))
	if c.SendSignature != nil {
		return *c.SendSignature, nil
	}
	tx, err := solana.DecodeTransaction(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	return tx.FirstSignature(), nil
}

// GetSignatureStatuses implements solana.RPCClient.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, sigs []solana.Signature, _ bool) ([]*solana.SignatureStatus, error) {
	if err := c.enter("getSignatureStatuses"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(sigs))
	for i, s := range sigs {
		if st, ok := c.Statuses[s]; ok {
			cp := *st
			out[i] = &cp
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

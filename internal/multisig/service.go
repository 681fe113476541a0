package multisig

import (
	"context"
	"fmt"
	"sort"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"multisig-console/internal/cache"
	"multisig-console/internal/chain"
	"multisig-console/internal/failure"
	"multisig-console/internal/observability"
	"multisig-console/internal/retry"
	"multisig-console/internal/solana"
)

// DefaultBatchConcurrency bounds GetMultisigs fan-out.
const DefaultBatchConcurrency = 4

// Service resolves multisig program accounts with ownership validation and
// cache-first reads.
type Service struct {
	clients     solana.ClientSource
	cache       *cache.TTL[any]
	reader      *retry.Reader
	classifier  *failure.Classifier
	codec       Codec
	legacy      map[solana.PublicKey]string
	concurrency int
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache injects the snapshot cache. By default every Service owns a
// fresh one.
func WithCache(c *cache.TTL[any]) Option {
	return func(s *Service) { s.cache = c }
}

// WithReader sets the retrying reader used for every RPC read.
func WithReader(r *retry.Reader) Option {
	return func(s *Service) { s.reader = r }
}

// WithClassifier sets the classifier that annotates returned errors.
func WithClassifier(c *failure.Classifier) Option {
	return func(s *Service) { s.classifier = c }
}

// WithCodec replaces the account decoder.
func WithCodec(c Codec) Option {
	return func(s *Service) { s.codec = c }
}

// WithLegacyProgram registers another known program version. Accounts it
// owns fail with a program version error instead of a plain owner mismatch.
func WithLegacyProgram(id solana.PublicKey, label string) Option {
	return func(s *Service) { s.legacy[id] = label }
}

// WithBatchConcurrency bounds concurrent reads of GetMultisigs.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service reading through clients.
func NewService(clients solana.ClientSource, opts ...Option) *Service {
	s := &Service{
		clients:     clients,
		codec:       SquadsCodec{},
		legacy:      map[solana.PublicKey]string{LegacyProgramID: "v3"},
		concurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cache == nil {
		s.cache = cache.New[any](cache.WithName("accounts"))
	}
	if s.reader == nil {
		s.reader = retry.New(retry.WithLogger(s.logger))
	}
	if s.classifier == nil {
		s.classifier = failure.Default()
	}
	return s
}

// Cache returns the snapshot cache.
func (s *Service) Cache() *cache.TTL[any] { return s.cache }

func multisigKey(address, program solana.PublicKey) string {
	return fmt.Sprintf("multisig:%s:%s", address, program)
}

func proposalsKey(multisig, program solana.PublicKey) string {
	return fmt.Sprintf("proposals:%s:%s", multisig, program)
}

func proposalKey(multisig solana.PublicKey, index uint64, program solana.PublicKey) string {
	return fmt.Sprintf("proposal:%s:%d:%s", multisig, index, program)
}

func vaultTxKey(multisig solana.PublicKey, index uint64, program solana.PublicKey) string {
	return fmt.Sprintf("vault_tx:%s:%d:%s", multisig, index, program)
}

func configTxKey(multisig solana.PublicKey, index uint64, program solana.PublicKey) string {
	return fmt.Sprintf("config_tx:%s:%d:%s", multisig, index, program)
}

// fail annotates err for display. Kinds and chains are preserved.
func (s *Service) fail(err error) error {
	return s.classifier.Annotate(err)
}

// fetchOwned loads address and checks that it exists and is owned by the
// chain's program. It never decodes.
func (s *Service) fetchOwned(ctx context.Context, c chain.Context, address solana.PublicKey, accountType, op string) (*solana.AccountInfo, error) {
	rpc := s.clients.Client(c.RPCEndpoint)
	info, err := retry.Read(ctx, s.reader, "getAccountInfo", func(ctx context.Context) (*solana.AccountInfo, error) {
		return rpc.GetAccountInfo(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, failure.New(failure.KindNotFound, op,
			fmt.Sprintf("%s account %s not found on %s", accountType, address, c.ID))
	}
	if info.Owner != c.ProgramID {
		if version, ok := s.legacy[info.Owner]; ok {
			return nil, failure.New(failure.KindWrongProgramVersion, op,
				fmt.Sprintf("account %s is owned by the %s program %s: wrong program version", address, version, info.Owner))
		}
		return nil, failure.New(failure.KindWrongOwner, op,
			fmt.Sprintf("account %s has wrong owner %s, not a %s of program %s", address, info.Owner, accountType, c.ProgramID))
	}
	return info, nil
}

func corrupt(err error, op, accountType string, address solana.PublicKey) error {
	return failure.Wrap(err, failure.KindCorruptFormat, op,
		fmt.Sprintf("failed to decode %s account %s, incompatible format", accountType, address))
}

// GetMultisig returns the multisig at address.
func (s *Service) GetMultisig(ctx context.Context, c chain.Context, address solana.PublicKey, useCache bool) (*Multisig, error) {
	const op = "multisig.GetMultisig"
	key := multisigKey(address, c.ProgramID)
	if useCache {
		if v, ok := s.cache.Get(key); ok {
			return v.(*Multisig).Clone(), nil
		}
	}

	info, err := s.fetchOwned(ctx, c, address, "multisig", op)
	if err != nil {
		return nil, s.fail(err)
	}
	ms, err := s.codec.DecodeMultisig(info.Data)
	if err != nil {
		return nil, s.fail(corrupt(err, op, "multisig", address))
	}
	ms.Address = address
	ms.ProgramID = c.ProgramID
	ms.ChainID = c.ID

	if err := ms.Validate(); err != nil {
		s.logger.Warn("multisig violates threshold invariant", zap.Stringer("address", address), zap.Error(err))
	}

	s.cache.Set(key, ms)
	return ms.Clone(), nil
}

// GetMultisigs reads several multisigs concurrently through the cache. The
// result has one slot per address; failed reads leave nil and contribute to
// the combined error.
func (s *Service) GetMultisigs(ctx context.Context, c chain.Context, addresses []solana.PublicKey) ([]*Multisig, error) {
	out := make([]*Multisig, len(addresses))
	errs := make([]error, len(addresses))

	it := iter.Iterator[solana.PublicKey]{MaxGoroutines: s.concurrency}
	it.ForEachIdx(addresses, func(i int, addr *solana.PublicKey) {
		out[i], errs[i] = s.GetMultisig(ctx, c, *addr, true)
	})
	return out, multierr.Combine(errs...)
}

// GetMultisigsByCreator lists multisigs whose create key is creator. The
// result is never cached; undecodable accounts are dropped.
func (s *Service) GetMultisigsByCreator(ctx context.Context, c chain.Context, creator solana.PublicKey) ([]*Multisig, error) {
	accounts, err := s.programAccounts(ctx, c, s.codec.MultisigFilters(creator))
	if err != nil {
		return nil, s.fail(err)
	}

	out := make([]*Multisig, 0, len(accounts))
	skipped := 0
	for _, acc := range accounts {
		ms, err := s.codec.DecodeMultisig(acc.Account.Data)
		if err != nil {
			skipped++
			s.logger.Debug("skipping undecodable multisig", zap.Stringer("address", acc.Pubkey), zap.Error(err))
			continue
		}
		ms.Address = acc.Pubkey
		ms.ProgramID = c.ProgramID
		ms.ChainID = c.ID
		out = append(out, ms)
	}
	observability.RecordSkippedAccounts("multisig", skipped)
	return out, nil
}

// ProposalPage is a proposal listing together with what had to be skipped.
type ProposalPage struct {
	Proposals []*Proposal
	// Skipped counts accounts that matched the query but failed to decode.
	Skipped int
	// SkipErr combines the decode errors of the skipped accounts.
	SkipErr error
}

// ListProposals queries every proposal of multisig, sorted by transaction
// index. Undecodable proposals are reported in the page instead of failing
// the call. Results are not cached.
func (s *Service) ListProposals(ctx context.Context, c chain.Context, multisig solana.PublicKey) (*ProposalPage, error) {
	accounts, err := s.programAccounts(ctx, c, s.codec.ProposalFilters(multisig))
	if err != nil {
		return nil, s.fail(err)
	}

	page := &ProposalPage{Proposals: make([]*Proposal, 0, len(accounts))}
	for _, acc := range accounts {
		p, err := s.codec.DecodeProposal(acc.Account.Data)
		if err != nil {
			page.Skipped++
			page.SkipErr = multierr.Append(page.SkipErr, fmt.Errorf("proposal %s: %w", acc.Pubkey, err))
			continue
		}
		p.Address = acc.Pubkey
		page.Proposals = append(page.Proposals, p)
	}
	sort.Slice(page.Proposals, func(i, j int) bool {
		return page.Proposals[i].TransactionIndex < page.Proposals[j].TransactionIndex
	})
	s.fillCreators(ctx, c, page.Proposals)

	if page.Skipped > 0 {
		s.logger.Debug("dropped undecodable proposals",
			zap.Stringer("multisig", multisig),
			zap.Int("skipped", page.Skipped),
			zap.Error(page.SkipErr))
	}
	observability.RecordSkippedAccounts("proposal", page.Skipped)
	return page, nil
}

// GetProposalsByMultisig returns the decodable proposals of multisig.
// Proposals that fail to decode are silently left out.
func (s *Service) GetProposalsByMultisig(ctx context.Context, c chain.Context, multisig solana.PublicKey, useCache bool) ([]*Proposal, error) {
	key := proposalsKey(multisig, c.ProgramID)
	if useCache {
		if v, ok := s.cache.Get(key); ok {
			return cloneProposals(v.([]*Proposal)), nil
		}
	}

	page, err := s.ListProposals(ctx, c, multisig)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, page.Proposals)
	return cloneProposals(page.Proposals), nil
}

func cloneProposals(in []*Proposal) []*Proposal {
	out := make([]*Proposal, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// GetProposal returns the proposal of the transaction at index.
func (s *Service) GetProposal(ctx context.Context, c chain.Context, multisig solana.PublicKey, index uint64, useCache bool) (*Proposal, error) {
	const op = "multisig.GetProposal"
	key := proposalKey(multisig, index, c.ProgramID)
	if useCache {
		if v, ok := s.cache.Get(key); ok {
			return v.(*Proposal).Clone(), nil
		}
	}

	address, err := ProposalAddress(c.ProgramID, multisig, index)
	if err != nil {
		return nil, s.fail(err)
	}
	info, err := s.fetchOwned(ctx, c, address, "proposal", op)
	if err != nil {
		return nil, s.fail(err)
	}
	p, err := s.codec.DecodeProposal(info.Data)
	if err != nil {
		return nil, s.fail(corrupt(err, op, "proposal", address))
	}
	p.Address = address
	s.fillCreators(ctx, c, []*Proposal{p})

	s.cache.Set(key, p)
	return p.Clone(), nil
}

// GetVaultTransaction returns the vault transaction record at index.
func (s *Service) GetVaultTransaction(ctx context.Context, c chain.Context, multisig solana.PublicKey, index uint64, useCache bool) (*VaultTransaction, error) {
	const op = "multisig.GetVaultTransaction"
	key := vaultTxKey(multisig, index, c.ProgramID)
	if useCache {
		if v, ok := s.cache.Get(key); ok {
			return v.(*VaultTransaction).Clone(), nil
		}
	}

	address, err := TransactionAddress(c.ProgramID, multisig, index)
	if err != nil {
		return nil, s.fail(err)
	}
	info, err := s.fetchOwned(ctx, c, address, "vault transaction", op)
	if err != nil {
		return nil, s.fail(err)
	}
	tx, err := s.codec.DecodeVaultTransaction(info.Data)
	if err != nil {
		return nil, s.fail(corrupt(err, op, "vault transaction", address))
	}
	tx.Address = address

	s.cache.Set(key, tx)
	return tx.Clone(), nil
}

// GetConfigTransaction returns the config transaction record at index.
func (s *Service) GetConfigTransaction(ctx context.Context, c chain.Context, multisig solana.PublicKey, index uint64, useCache bool) (*ConfigTransaction, error) {
	const op = "multisig.GetConfigTransaction"
	key := configTxKey(multisig, index, c.ProgramID)
	if useCache {
		if v, ok := s.cache.Get(key); ok {
			return v.(*ConfigTransaction).Clone(), nil
		}
	}

	address, err := TransactionAddress(c.ProgramID, multisig, index)
	if err != nil {
		return nil, s.fail(err)
	}
	info, err := s.fetchOwned(ctx, c, address, "config transaction", op)
	if err != nil {
		return nil, s.fail(err)
	}
	tx, err := s.codec.DecodeConfigTransaction(info.Data)
	if err != nil {
		return nil, s.fail(corrupt(err, op, "config transaction", address))
	}
	tx.Address = address

	s.cache.Set(key, tx)
	return tx.Clone(), nil
}

// VaultAddress derives vault vaultIndex of multisig on c.
func (s *Service) VaultAddress(c chain.Context, multisig solana.PublicKey, vaultIndex uint8) (solana.PublicKey, error) {
	return VaultAddress(c.ProgramID, multisig, vaultIndex)
}

// GetVaultBalance returns the lamport balance of vault vaultIndex.
func (s *Service) GetVaultBalance(ctx context.Context, c chain.Context, multisig solana.PublicKey, vaultIndex uint8) (uint64, error) {
	vault, err := s.VaultAddress(c, multisig, vaultIndex)
	if err != nil {
		return 0, s.fail(err)
	}
	rpc := s.clients.Client(c.RPCEndpoint)
	balance, err := retry.Read(ctx, s.reader, "getBalance", func(ctx context.Context) (uint64, error) {
		return rpc.GetBalance(ctx, vault)
	})
	if err != nil {
		return 0, s.fail(err)
	}
	return balance, nil
}

// InvalidateCache drops every cached entry that mentions address.
func (s *Service) InvalidateCache(address solana.PublicKey) int {
	n := s.cache.InvalidatePattern(address.String())
	s.logger.Debug("invalidated cache entries", zap.Stringer("address", address), zap.Int("removed", n))
	return n
}

// InvalidateProposalCache drops the cached proposal listing of multisig.
func (s *Service) InvalidateProposalCache(multisig, program solana.PublicKey) {
	s.cache.Invalidate(proposalsKey(multisig, program))
}

// InvalidateMultisigCache drops the cached multisig at address.
func (s *Service) InvalidateMultisigCache(address, program solana.PublicKey) {
	s.cache.Invalidate(multisigKey(address, program))
}

// maxMultipleAccounts is the key limit of one getMultipleAccounts request.
const maxMultipleAccounts = 100

// fillCreators copies each proposal's creator from its transaction record.
// Missing or unreadable records leave Creator zero.
func (s *Service) fillCreators(ctx context.Context, c chain.Context, proposals []*Proposal) {
	rpc := s.clients.Client(c.RPCEndpoint)
	for start := 0; start < len(proposals); start += maxMultipleAccounts {
		batch := proposals[start:min(start+maxMultipleAccounts, len(proposals))]
		addrs := make([]solana.PublicKey, len(batch))
		for i, p := range batch {
			addr, err := TransactionAddress(c.ProgramID, p.MultisigAddress, p.TransactionIndex)
			if err != nil {
				return
			}
			addrs[i] = addr
		}
		infos, err := retry.Read(ctx, s.reader, "getMultipleAccounts", func(ctx context.Context) ([]*solana.AccountInfo, error) {
			return rpc.GetMultipleAccounts(ctx, addrs)
		})
		if err != nil {
			s.logger.Debug("transaction records unavailable, proposal creators left unset", zap.Error(err))
			return
		}
		for i, info := range infos {
			if i >= len(batch) || info == nil || !info.Owner.Equals(c.ProgramID) {
				continue
			}
			if creator, err := s.codec.DecodeTransactionCreator(info.Data); err == nil {
				batch[i].Creator = creator
			}
		}
	}
}

func (s *Service) programAccounts(ctx context.Context, c chain.Context, filters []solana.Filter) ([]solana.KeyedAccount, error) {
	rpc := s.clients.Client(c.RPCEndpoint)
	return retry.Read(ctx, s.reader, "getProgramAccounts", func(ctx context.Context) ([]solana.KeyedAccount, error) {
		return rpc.GetProgramAccounts(ctx, c.ProgramID, &solana.ProgramAccountsOpts{
			Commitment: solana.CommitmentConfirmed,
			Filters:    filters,
		})
	})
}

package txprep

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"multisig-console/internal/chain"
	"multisig-console/internal/failure"
	"multisig-console/internal/observability"
	"multisig-console/internal/retry"
	"multisig-console/internal/signer"
	"multisig-console/internal/solana"
	"multisig-console/internal/storage"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultConfirmTimeout = 90 * time.Second
)

// Dialer opens a subscription client for a websocket endpoint.
type Dialer func(ctx context.Context, endpoint string) (solana.WSClient, error)

// Preparer runs the cross-network transaction pipeline. Steps of one call are
// strictly sequential; a Preparer is safe for concurrent calls.
type Preparer struct {
	clients        solana.ClientSource
	reader         *retry.Reader
	dispatcher     *signer.Dispatcher
	pending        storage.PendingTxStore
	journal        storage.SubmissionJournal
	dial           Dialer
	classifier     *failure.Classifier
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithReader sets the retrying reader used for RPC calls.
func WithReader(r *retry.Reader) Option {
	return func(p *Preparer) { p.reader = r }
}

// WithDispatcher sets the signer dispatcher.
func WithDispatcher(d *signer.Dispatcher) Option {
	return func(p *Preparer) { p.dispatcher = d }
}

// WithPendingStore enables persisting signed payloads before submission.
func WithPendingStore(s storage.PendingTxStore) Option {
	return func(p *Preparer) { p.pending = s }
}

// WithJournal records submissions and confirmation outcomes.
func WithJournal(j storage.SubmissionJournal) Option {
	return func(p *Preparer) { p.journal = j }
}

// WithDialer makes ConfirmTransaction wait on a signature subscription
// instead of polling.
func WithDialer(d Dialer) Option {
	return func(p *Preparer) { p.dial = d }
}

// WithClassifier sets the classifier that annotates returned errors.
func WithClassifier(c *failure.Classifier) Option {
	return func(p *Preparer) { p.classifier = c }
}

// WithPollInterval sets the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Preparer) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithConfirmTimeout bounds ConfirmTransaction.
func WithConfirmTimeout(d time.Duration) Option {
	return func(p *Preparer) {
		if d > 0 {
			p.confirmTimeout = d
		}
	}
}

// WithLogger sets the preparer logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Preparer) { p.logger = l }
}

// New creates a Preparer resolving RPC clients through clients.
func New(clients solana.ClientSource, opts ...Option) *Preparer {
	p := &Preparer{
		clients:        clients,
		pollInterval:   DefaultPollInterval,
		confirmTimeout: DefaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.reader == nil {
		p.reader = retry.New(retry.WithLogger(p.logger))
	}
	if p.dispatcher == nil {
		p.dispatcher = signer.NewDispatcher(signer.WithLogger(p.logger))
	}
	if p.classifier == nil {
		p.classifier = failure.Default()
	}
	return p
}

// ExecuteOptions configures ExecuteTransaction and SubmitRaw.
type ExecuteOptions struct {
	Send solana.SendOptions
	// PersistID, when set, stores the signed payload under this id before
	// submission.
	PersistID string
}

// GetRecentCheckpoint reads the latest finalized block reference of endpoint.
func (p *Preparer) GetRecentCheckpoint(ctx context.Context, endpoint string) (Checkpoint, error) {
	rpc := p.clients.Client(endpoint)
	bh, err := retry.Read(ctx, p.reader, "getLatestBlockhash", func(ctx context.Context) (*solana.LatestBlockhash, error) {
		return rpc.GetLatestBlockhash(ctx, solana.CommitmentFinalized)
	})
	if err != nil {
		return Checkpoint{}, p.classifier.Annotate(err)
	}
	return Checkpoint{
		Blockhash:            bh.Blockhash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
		Slot:                 bh.Slot,
	}, nil
}

// InjectCheckpoint stamps the latest checkpoint of target into tx. See Inject
// for how each encoding is treated.
func (p *Preparer) InjectCheckpoint(ctx context.Context, tx solana.Transaction, target chain.Context) (solana.Transaction, error) {
	out, _, err := p.inject(ctx, tx, target)
	return out, err
}

func (p *Preparer) inject(ctx context.Context, tx solana.Transaction, target chain.Context) (solana.Transaction, Checkpoint, error) {
	cp, err := p.GetRecentCheckpoint(ctx, target.RPCEndpoint)
	if err != nil {
		return nil, Checkpoint{}, err
	}
	out, err := Inject(tx, cp)
	if err != nil {
		return nil, Checkpoint{}, err
	}
	p.logger.Debug("checkpoint injected",
		zap.String("chain", target.ID),
		zap.Stringer("encoding", out.Encoding()),
		zap.Stringer("blockhash", cp.Blockhash),
		zap.Uint64("last_valid_block_height", cp.LastValidBlockHeight))
	return out, cp, nil
}

// SendSignedTransaction submits raw signed bytes to target and returns the
// signature.
func (p *Preparer) SendSignedTransaction(ctx context.Context, raw []byte, target chain.Context, opts solana.SendOptions) (string, error) {
	return p.send(ctx, raw, target, opts, "")
}

func (p *Preparer) send(ctx context.Context, raw []byte, target chain.Context, opts solana.SendOptions, persistID string) (string, error) {
	const op = "txprep.SendSignedTransaction"
	rpc := p.clients.Client(target.RPCEndpoint)

	sig, err := retry.Read(ctx, p.reader, "sendTransaction", func(ctx context.Context) (solana.Signature, error) {
		return rpc.SendTransaction(ctx, raw, opts)
	})
	if err != nil {
		observability.RecordSubmission(target.ID, string(storage.OutcomeSendError))
		if tx, derr := solana.DecodeTransaction(raw); derr == nil && !tx.FirstSignature().IsZero() {
			p.record(ctx, &storage.Submission{
				Signature: tx.FirstSignature().String(),
				ChainID:   target.ID,
				PersistID: persistID,
				Outcome:   storage.OutcomeSendError,
				Error:     err.Error(),
			})
		}
		p.logger.Warn("submission failed", zap.String("chain", target.ID), zap.Error(err))
		return "", p.classifier.Annotate(errors.Wrap(err, op))
	}

	observability.RecordSubmission(target.ID, string(storage.OutcomeSubmitted))
	p.record(ctx, &storage.Submission{
		Signature: sig.String(),
		ChainID:   target.ID,
		PersistID: persistID,
		Outcome:   storage.OutcomeSubmitted,
	})
	p.logger.Info("transaction submitted",
		zap.String("chain", target.ID),
		zap.Stringer("signature", sig),
		zap.String("explorer", target.ExplorerTxURL(sig)))
	return sig.String(), nil
}

// ConfirmTransaction waits until signature reaches commitment on target. It
// returns false without an error when the network reports that the
// transaction failed, and a timeout error when the wait exceeds the
// confirmation bound.
func (p *Preparer) ConfirmTransaction(ctx context.Context, signature string, target chain.Context, commitment solana.Commitment) (bool, error) {
	const op = "txprep.ConfirmTransaction"
	sig, err := solana.ParseSignature(signature)
	if err != nil {
		return false, errors.Wrap(err, op)
	}
	if commitment == "" {
		commitment = solana.CommitmentConfirmed
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	ok, err := p.await(waitCtx, sig, target, commitment)
	observability.RecordConfirmationWait(target.ID, string(commitment), time.Since(start).Seconds())

	entry := &storage.Submission{Signature: signature, ChainID: target.ID, Commitment: string(commitment)}
	switch {
	case err == nil && ok:
		entry.Outcome = storage.OutcomeConfirmed
		p.logger.Info("transaction confirmed",
			zap.String("chain", target.ID),
			zap.String("signature", signature),
			zap.String("commitment", string(commitment)))
	case err == nil:
		entry.Outcome = storage.OutcomeFailed
		rejected := failure.New(failure.KindSubmissionRejected, op,
			fmt.Sprintf("transaction %s failed on %s", signature, target.ID))
		entry.Error = rejected.Error()
		p.logger.Warn("transaction failed on chain", zap.Error(rejected))
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		entry.Outcome = storage.OutcomeTimeout
		err = failure.Wrap(err, failure.KindTimeout, op,
			fmt.Sprintf("transaction %s not %s on %s within %s", signature, commitment, target.ID, p.confirmTimeout))
		entry.Error = err.Error()
		p.logger.Warn("confirmation timed out", zap.Error(err))
	default:
		return false, p.classifier.Annotate(err)
	}

	p.record(ctx, entry)
	if err != nil {
		return false, p.classifier.Annotate(err)
	}
	return ok, nil
}

// await prefers a signature subscription and falls back to polling when no
// dialer is configured or the subscription cannot be set up.
func (p *Preparer) await(ctx context.Context, sig solana.Signature, target chain.Context, commitment solana.Commitment) (bool, error) {
	if p.dial != nil {
		ok, err := p.awaitSubscription(ctx, sig, target, commitment)
		if !errors.Is(err, errNoSubscription) {
			return ok, err
		}
		p.logger.Debug("signature subscription unavailable, polling", zap.String("chain", target.ID))
	}
	return p.poll(ctx, sig, target, commitment)
}

var errNoSubscription = errors.New("subscription unavailable")

func (p *Preparer) awaitSubscription(ctx context.Context, sig solana.Signature, target chain.Context, commitment solana.Commitment) (bool, error) {
	ws, err := p.dial(ctx, target.WebsocketEndpoint())
	if err != nil {
		p.logger.Debug("websocket dial failed", zap.Error(err))
		return false, errNoSubscription
	}
	defer ws.Close()

	ch, err := ws.SubscribeSignature(ctx, sig, commitment)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Debug("signature subscribe failed", zap.Error(err))
		return false, errNoSubscription
	}

	// The transaction may have landed before the subscription existed.
	if status, err := p.status(ctx, sig, target); err == nil && status != nil {
		if status.Failed() {
			return false, nil
		}
		if status.Reached(commitment) {
			return true, nil
		}
	}

	select {
	case n, ok := <-ch:
		if !ok {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, errNoSubscription
		}
		return n.Err == nil, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Preparer) poll(ctx context.Context, sig solana.Signature, target chain.Context, commitment solana.Commitment) (bool, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		status, err := p.status(ctx, sig, target)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, err
		}
		if status.Failed() {
			return false, nil
		}
		if status.Reached(commitment) {
			return true, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (p *Preparer) status(ctx context.Context, sig solana.Signature, target chain.Context) (*solana.SignatureStatus, error) {
	rpc := p.clients.Client(target.RPCEndpoint)
	statuses, err := retry.Read(ctx, p.reader, "getSignatureStatuses", func(ctx context.Context) ([]*solana.SignatureStatus, error) {
		return rpc.GetSignatureStatuses(ctx, []solana.Signature{sig}, true)
	})
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	return statuses[0], nil
}

// ExecuteTransaction runs the full pipeline on target: inject checkpoint,
// sign, persist the signed payload when opts.PersistID is set, submit. It
// returns the transaction signature.
func (p *Preparer) ExecuteTransaction(ctx context.Context, tx solana.Transaction, target chain.Context, wallet signer.Wallet, opts ExecuteOptions) (string, error) {
	injected, cp, err := p.inject(ctx, tx, target)
	if err != nil {
		return "", err
	}
	signed, err := p.dispatcher.Sign(ctx, wallet, injected)
	if err != nil {
		return "", p.classifier.Annotate(err)
	}
	raw, err := signed.Serialize()
	if err != nil {
		return "", errors.Wrap(err, "serialize signed transaction")
	}
	return p.submit(ctx, raw, signed.Encoding(), cp.LastValidBlockHeight, target, opts)
}

// SubmitRaw submits an already signed transaction, bypassing checkpoint
// injection and signing.
func (p *Preparer) SubmitRaw(ctx context.Context, raw []byte, target chain.Context, opts ExecuteOptions) (string, error) {
	tx, err := solana.DecodeTransaction(raw)
	if err != nil {
		return "", errors.Wrap(err, "decode signed transaction")
	}
	if tx.FirstSignature().IsZero() {
		return "", errors.New("transaction is not signed by its fee payer")
	}
	return p.submit(ctx, raw, tx.Encoding(), 0, target, opts)
}

// submit persists raw under opts.PersistID and sends it. A payload the node
// rejects outright is released, since the same bytes can never land.
func (p *Preparer) submit(ctx context.Context, raw []byte, enc solana.Encoding, lastValid uint64, target chain.Context, opts ExecuteOptions) (string, error) {
	if opts.PersistID != "" {
		if err := p.persist(ctx, opts.PersistID, raw, enc, lastValid, target); err != nil {
			return "", err
		}
	}
	sig, err := p.send(ctx, raw, target, opts.Send, opts.PersistID)
	if err != nil {
		p.releaseRejected(ctx, opts.PersistID, err)
		return "", err
	}
	return sig, nil
}

// rejectedByNode reports whether err is a JSON-RPC error answer to a send,
// as opposed to a transport failure or a rate limit where the outcome is
// unknown.
func rejectedByNode(err error) bool {
	var rpcErr *solana.RPCError
	return errors.As(err, &rpcErr) && !failure.Is(err, failure.KindRateLimited)
}

func (p *Preparer) releaseRejected(ctx context.Context, id string, sendErr error) {
	if id == "" || !rejectedByNode(sendErr) {
		return
	}
	if err := p.Release(ctx, id); err != nil {
		p.logger.Warn("rejected payload not released", zap.String("id", id), zap.Error(err))
		return
	}
	p.logger.Info("rejected payload released", zap.String("id", id))
}

func (p *Preparer) persist(ctx context.Context, id string, raw []byte, enc solana.Encoding, lastValid uint64, target chain.Context) error {
	if p.pending == nil {
		return errors.New("no pending payload store configured")
	}
	err := p.pending.Put(ctx, &storage.PendingTx{
		ID:                   id,
		ChainID:              target.ID,
		Payload:              base64.StdEncoding.EncodeToString(raw),
		Encoding:             enc.String(),
		LastValidBlockHeight: lastValid,
	})
	if err != nil {
		return errors.Wrapf(err, "persist signed payload %q", id)
	}
	observability.RecordPendingPayload("put")
	p.logger.Debug("signed payload persisted", zap.String("id", id), zap.String("chain", target.ID))
	return nil
}

// Release deletes the persisted payload id once its transaction is final.
func (p *Preparer) Release(ctx context.Context, id string) error {
	if p.pending == nil || id == "" {
		return nil
	}
	if err := p.pending.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(err, "release signed payload %q", id)
	}
	observability.RecordPendingPayload("release")
	return nil
}

// RecoverResult describes what Recover did with a persisted payload.
type RecoverResult struct {
	Signature string
	// Resent is false when the transaction had already landed.
	Resent    bool
	Confirmed bool
	// Expired is set when the network never saw the transaction and its
	// blockhash is no longer valid. The payload was dropped.
	Expired bool
}

// Recover finishes the submission of a payload persisted under id after a
// crash. A payload whose transaction already landed is not sent again, and
// one whose blockhash expired unseen is dropped instead of resent. The
// payload is deleted once the transaction is confirmed, has failed, or was
// rejected by the node.
func (p *Preparer) Recover(ctx context.Context, id string, target chain.Context, send solana.SendOptions, commitment solana.Commitment) (*RecoverResult, error) {
	if p.pending == nil {
		return nil, errors.New("no pending payload store configured")
	}
	pending, err := p.pending.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load signed payload %q", id)
	}
	if pending.ChainID != target.ID {
		return nil, errors.Errorf("payload %q belongs to chain %s, not %s", id, pending.ChainID, target.ID)
	}
	raw, err := base64.StdEncoding.DecodeString(pending.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "decode signed payload %q", id)
	}
	tx, err := solana.DecodeTransaction(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "decode signed payload %q", id)
	}
	sig := tx.FirstSignature()
	res := &RecoverResult{Signature: sig.String()}
	if commitment == "" {
		commitment = solana.CommitmentConfirmed
	}

	status, err := p.status(ctx, sig, target)
	if err != nil {
		return nil, p.classifier.Annotate(err)
	}
	switch {
	case status.Failed():
		p.logger.Info("recovered transaction had failed", zap.String("id", id), zap.Stringer("signature", sig))
		return res, p.Release(ctx, id)
	case status.Reached(commitment):
		res.Confirmed = true
		return res, p.Release(ctx, id)
	case status == nil:
		expired, err := p.expired(ctx, pending, target)
		if err != nil {
			return nil, err
		}
		if expired {
			p.logger.Info("recovered payload expired unseen",
				zap.String("id", id),
				zap.Stringer("signature", sig),
				zap.Uint64("last_valid_block_height", pending.LastValidBlockHeight))
			p.record(ctx, &storage.Submission{
				Signature: res.Signature,
				ChainID:   target.ID,
				PersistID: id,
				Outcome:   storage.OutcomeExpired,
			})
			res.Expired = true
			return res, p.Release(ctx, id)
		}
		if _, err := p.send(ctx, raw, target, send, id); err != nil {
			p.releaseRejected(ctx, id, err)
			return nil, err
		}
		res.Resent = true
	}

	ok, err := p.ConfirmTransaction(ctx, res.Signature, target, commitment)
	if err != nil {
		return res, err
	}
	res.Confirmed = ok
	return res, p.Release(ctx, id)
}

// expired reports whether the block height of target has passed the last
// valid height stored with pending. Payloads without a stored height never
// expire here.
func (p *Preparer) expired(ctx context.Context, pending *storage.PendingTx, target chain.Context) (bool, error) {
	if pending.LastValidBlockHeight == 0 {
		return false, nil
	}
	rpc := p.clients.Client(target.RPCEndpoint)
	height, err := retry.Read(ctx, p.reader, "getBlockHeight", func(ctx context.Context) (uint64, error) {
		return rpc.GetBlockHeight(ctx, solana.CommitmentConfirmed)
	})
	if err != nil {
		return false, p.classifier.Annotate(err)
	}
	return height > pending.LastValidBlockHeight, nil
}

// record journals s. Journal failures never fail the pipeline.
func (p *Preparer) record(ctx context.Context, s *storage.Submission) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Record(ctx, s); err != nil {
		p.logger.Warn("journal write failed",
			zap.String("signature", s.Signature),
			zap.String("outcome", string(s.Outcome)),
			zap.Error(err))
	}
}

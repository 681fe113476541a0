package txprep

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"multisig-console/internal/chain"
	"multisig-console/internal/failure"
	"multisig-console/internal/retry"
	"multisig-console/internal/signer"
	"multisig-console/internal/signer/localkey"
	"multisig-console/internal/solana"
	"multisig-console/internal/solana/stub"
	"multisig-console/internal/storage"
	"multisig-console/internal/storage/memory"
)

var testChain = chain.Context{
	ID:          "devnet",
	RPCEndpoint: "http://rpc.test",
	ExplorerURL: "https://explorer.test",
}

type fixture struct {
	rpc     *stub.RPCClient
	pending *memory.PendingTxStore
	journal *memory.SubmissionJournal
	wallet  signer.Wallet
	payer   solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key := localkey.FromSeed([]byte("txprep test seed 0123456789abcd"))
	payer, err := key.GetAddress(context.Background(), localkey.DefaultPath)
	require.NoError(t, err)

	rpc := stub.NewRPCClient()
	rpc.Blockhash = &solana.LatestBlockhash{Slot: 850, Blockhash: solana.Hash{0xbb}, LastValidBlockHeight: 900}
	return &fixture{
		rpc:     rpc,
		pending: memory.NewPendingTxStore(),
		journal: memory.NewSubmissionJournal(),
		wallet:  signer.HardwareWallet(key, localkey.DefaultPath),
		payer:   payer,
	}
}

func (f *fixture) preparer(t *testing.T, opts ...Option) *Preparer {
	logger := zaptest.NewLogger(t)
	base := []Option{
		WithLogger(logger),
		WithReader(retry.New(retry.WithBaseDelay(time.Millisecond), retry.WithLogger(logger))),
		WithPendingStore(f.pending),
		WithJournal(f.journal),
		WithPollInterval(5 * time.Millisecond),
		WithConfirmTimeout(time.Second),
	}
	return New(solana.Static{RPC: f.rpc}, append(base, opts...)...)
}

// signed returns a serialized transaction signed by the fixture wallet.
func (f *fixture) signed(t *testing.T) ([]byte, solana.Signature) {
	t.Helper()
	tx := legacyFor(f.payer)
	tx.RecentBlockhash = solana.Hash{0xbb}
	out, err := signer.NewDispatcher().Sign(context.Background(), f.wallet, tx)
	require.NoError(t, err)
	raw, err := out.Serialize()
	require.NoError(t, err)
	return raw, out.FirstSignature()
}

func outcomes(t *testing.T, j *memory.SubmissionJournal, sig string) []storage.Outcome {
	t.Helper()
	entries, err := j.ListBySignature(context.Background(), sig)
	require.NoError(t, err)
	var out []storage.Outcome
	for _, e := range entries {
		out = append(out, e.Outcome)
	}
	return out
}

func TestGetRecentCheckpoint_RetriesRateLimit(t *testing.T) {
	f := newFixture(t)
	f.rpc.FailNext("getLatestBlockhash", &solana.StatusError{StatusCode: http.StatusTooManyRequests})
	p := f.preparer(t)

	cp, err := p.GetRecentCheckpoint(context.Background(), testChain.RPCEndpoint)
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{Blockhash: solana.Hash{0xbb}, LastValidBlockHeight: 900, Slot: 850}, cp)
	assert.Equal(t, 2, f.rpc.Calls("getLatestBlockhash"))
}

func TestExecuteTransaction_Legacy(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t)

	sig, err := p.ExecuteTransaction(context.Background(), legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "op-1"})
	require.NoError(t, err)
	require.Len(t, f.rpc.Sent, 1)

	sent, err := solana.DecodeTransaction(f.rpc.Sent[0])
	require.NoError(t, err)
	assert.Equal(t, sig, sent.FirstSignature().String())
	assert.Equal(t, solana.Hash{0xbb}, RecentBlockhash(sent))

	persisted, err := f.pending.Get(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(f.rpc.Sent[0]), persisted.Payload)
	assert.Equal(t, "legacy", persisted.Encoding)
	assert.Equal(t, testChain.ID, persisted.ChainID)
	assert.Equal(t, uint64(900), persisted.LastValidBlockHeight)

	assert.Equal(t, []storage.Outcome{storage.OutcomeSubmitted}, outcomes(t, f.journal, sig))
}

func TestExecuteTransaction_Versioned(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t)
	tx := versionedFor(f.payer)

	sig, err := p.ExecuteTransaction(context.Background(), tx, testChain, f.wallet, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, solana.Hash{0x01}, tx.Message.RecentBlockhash)
	assert.True(t, tx.Signatures[0].IsZero())

	sent, err := solana.DecodeTransaction(f.rpc.Sent[0])
	require.NoError(t, err)
	assert.Equal(t, solana.EncodingVersioned, sent.Encoding())
	assert.Equal(t, solana.Hash{0xbb}, RecentBlockhash(sent))
	assert.Equal(t, sig, sent.FirstSignature().String())

	list, err := f.pending.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExecuteTransaction_PersistWithoutStore(t *testing.T) {
	f := newFixture(t)
	p := New(solana.Static{RPC: f.rpc}, WithLogger(zaptest.NewLogger(t)))

	_, err := p.ExecuteTransaction(context.Background(), legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "op-1"})
	require.Error(t, err)
	assert.Empty(t, f.rpc.Sent)
}

func TestExecuteTransaction_SignerFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t)

	_, err := p.ExecuteTransaction(context.Background(), legacyFor(f.payer), testChain, signer.Wallet{}, ExecuteOptions{PersistID: "op-1"})
	require.Error(t, err)
	assert.Equal(t, failure.KindUnsupportedWalletType, failure.KindOf(err))
	assert.Empty(t, f.rpc.Sent)

	_, err = f.pending.Get(context.Background(), "op-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSendSignedTransaction_Error(t *testing.T) {
	f := newFixture(t)
	f.rpc.FailNext("sendTransaction", errors.New("Transaction simulation failed: insufficient funds for fee"))
	p := f.preparer(t)
	raw, sig := f.signed(t)

	_, err := p.SendSignedTransaction(context.Background(), raw, testChain, solana.SendOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, f.rpc.Calls("sendTransaction"))

	_, ok := failure.DisplayOf(err)
	assert.True(t, ok)
	assert.Equal(t, []storage.Outcome{storage.OutcomeSendError}, outcomes(t, f.journal, sig.String()))
}

func blockhashNotFound() error {
	return &solana.RPCError{Code: -32002, Message: "Transaction simulation failed: Blockhash not found"}
}

func TestExecuteTransaction_RejectedSendReleasesPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	f.rpc.FailNext("sendTransaction", blockhashNotFound())
	_, err := p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-1"})
	require.Error(t, err)
	_, err = f.pending.Get(ctx, "approve-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The same vote can be retried under the same id.
	sig, err := p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-1"})
	require.NoError(t, err)
	require.Len(t, f.rpc.Sent, 1)
	_, err = f.pending.Get(ctx, "approve-1")
	assert.NoError(t, err)
	assert.Equal(t, []storage.Outcome{storage.OutcomeSendError, storage.OutcomeSubmitted}, outcomes(t, f.journal, sig))
}

func TestExecuteTransaction_TransportFailureKeepsPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	f.rpc.FailNext("sendTransaction", errors.New("connection reset by peer"))
	_, err := p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-2"})
	require.Error(t, err)

	_, err = f.pending.Get(ctx, "approve-2")
	require.NoError(t, err)
	_, err = p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-2"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSubmitRaw_RejectsUnsigned(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t)

	tx := legacyFor(f.payer)
	tx.RecentBlockhash = solana.Hash{0xbb}
	raw, err := tx.Serialize()
	require.NoError(t, err)

	_, err = p.SubmitRaw(context.Background(), raw, testChain, ExecuteOptions{})
	assert.Error(t, err)

	_, err = p.SubmitRaw(context.Background(), []byte{1, 2}, testChain, ExecuteOptions{})
	assert.Error(t, err)
	assert.Empty(t, f.rpc.Sent)
}

func TestConfirmTransaction_Polling(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t)
	ctx := context.Background()

	confirmed := solana.Signature{0x01}
	f.rpc.SetStatus(confirmed, &solana.SignatureStatus{Slot: 10, ConfirmationStatus: solana.CommitmentFinalized})
	ok, err := p.ConfirmTransaction(ctx, confirmed.String(), testChain, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []storage.Outcome{storage.OutcomeConfirmed}, outcomes(t, f.journal, confirmed.String()))

	failed := solana.Signature{0x02}
	f.rpc.SetStatus(failed, &solana.SignatureStatus{Slot: 11, Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}})
	ok, err = p.ConfirmTransaction(ctx, failed.String(), testChain, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []storage.Outcome{storage.OutcomeFailed}, outcomes(t, f.journal, failed.String()))
}

func TestConfirmTransaction_WaitsForCommitment(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t)
	sig := solana.Signature{0x03}
	f.rpc.SetStatus(sig, &solana.SignatureStatus{Slot: 12, ConfirmationStatus: solana.CommitmentProcessed})

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.rpc.SetStatus(sig, &solana.SignatureStatus{Slot: 12, ConfirmationStatus: solana.CommitmentConfirmed})
	}()

	ok, err := p.ConfirmTransaction(context.Background(), sig.String(), testChain, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, f.rpc.Calls("getSignatureStatuses"), 1)
}

func TestConfirmTransaction_Timeout(t *testing.T) {
	f := newFixture(t)
	p := f.preparer(t, WithConfirmTimeout(30*time.Millisecond))
	sig := solana.Signature{0x04}

	ok, err := p.ConfirmTransaction(context.Background(), sig.String(), testChain, solana.CommitmentFinalized)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
	assert.Equal(t, []storage.Outcome{storage.OutcomeTimeout}, outcomes(t, f.journal, sig.String()))
}

func TestConfirmTransaction_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	_, err := f.preparer(t).ConfirmTransaction(context.Background(), "not-a-signature", testChain, "")
	assert.Error(t, err)
}

type fakeWS struct {
	txErr  interface{}
	closed atomic.Bool
}

func (w *fakeWS) SubscribeSignature(_ context.Context, sig solana.Signature, _ solana.Commitment) (<-chan solana.SignatureNotification, error) {
	ch := make(chan solana.SignatureNotification, 1)
	ch <- solana.SignatureNotification{Signature: sig, Slot: 20, Err: w.txErr}
	close(ch)
	return ch, nil
}

func (w *fakeWS) Close() error {
	w.closed.Store(true)
	return nil
}

func TestConfirmTransaction_Subscription(t *testing.T) {
	f := newFixture(t)
	ws := &fakeWS{}
	var endpoint string
	p := f.preparer(t, WithDialer(func(_ context.Context, ep string) (solana.WSClient, error) {
		endpoint = ep
		return ws, nil
	}))

	ok, err := p.ConfirmTransaction(context.Background(), solana.Signature{0x05}.String(), testChain, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ws://rpc.test", endpoint)
	assert.True(t, ws.closed.Load())

	ws = &fakeWS{txErr: "InstructionError"}
	ok, err = p.ConfirmTransaction(context.Background(), solana.Signature{0x06}.String(), testChain, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmTransaction_DialFailureFallsBackToPolling(t *testing.T) {
	f := newFixture(t)
	sig := solana.Signature{0x07}
	f.rpc.SetStatus(sig, &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed})
	p := f.preparer(t, WithDialer(func(context.Context, string) (solana.WSClient, error) {
		return nil, errors.New("connection refused")
	}))

	ok, err := p.ConfirmTransaction(context.Background(), sig.String(), testChain, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecover_ResendsUnknownPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t, WithDialer(func(context.Context, string) (solana.WSClient, error) {
		return &fakeWS{}, nil
	}))

	f.rpc.FailNext("sendTransaction", errors.New("connection reset by peer"))
	raw, sig := f.signed(t)
	_, err := p.SubmitRaw(ctx, raw, testChain, ExecuteOptions{PersistID: "op-2"})
	require.Error(t, err)

	res, err := p.Recover(ctx, "op-2", testChain, solana.SendOptions{}, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Resent)
	assert.True(t, res.Confirmed)
	assert.Equal(t, sig.String(), res.Signature)
	require.Len(t, f.rpc.Sent, 1)
	assert.Equal(t, raw, f.rpc.Sent[0])

	_, err = f.pending.Get(ctx, "op-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t,
		[]storage.Outcome{storage.OutcomeSendError, storage.OutcomeSubmitted, storage.OutcomeConfirmed},
		outcomes(t, f.journal, sig.String()))
}

func TestRecover_ExpiredPayloadDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	f.rpc.FailNext("sendTransaction", errors.New("connection reset by peer"))
	sig, err := p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-3"})
	require.Error(t, err)
	assert.Empty(t, sig)
	f.rpc.BlockHeight = 901

	res, err := p.Recover(ctx, "approve-3", testChain, solana.SendOptions{}, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.True(t, res.Expired)
	assert.False(t, res.Resent)
	assert.False(t, res.Confirmed)
	assert.Empty(t, f.rpc.Sent)

	_, err = f.pending.Get(ctx, "approve-3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t,
		[]storage.Outcome{storage.OutcomeSendError, storage.OutcomeExpired},
		outcomes(t, f.journal, res.Signature))
}

func TestRecover_RejectedResendReleasesPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	f.rpc.FailNext("sendTransaction", errors.New("connection reset by peer"))
	_, err := p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-4"})
	require.Error(t, err)
	f.rpc.BlockHeight = 850

	f.rpc.FailNext("sendTransaction", blockhashNotFound())
	_, err = p.Recover(ctx, "approve-4", testChain, solana.SendOptions{}, solana.CommitmentConfirmed)
	require.Error(t, err)

	_, err = f.pending.Get(ctx, "approve-4")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = p.ExecuteTransaction(ctx, legacyFor(f.payer), testChain, f.wallet, ExecuteOptions{PersistID: "approve-4"})
	assert.NoError(t, err)
}

func TestRecover_AlreadyLanded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	raw, sig := f.signed(t)
	_, err := p.SubmitRaw(ctx, raw, testChain, ExecuteOptions{PersistID: "op-3"})
	require.NoError(t, err)
	f.rpc.SetStatus(sig, &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentFinalized})

	res, err := p.Recover(ctx, "op-3", testChain, solana.SendOptions{}, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.False(t, res.Resent)
	assert.True(t, res.Confirmed)
	assert.Len(t, f.rpc.Sent, 1)

	_, err = f.pending.Get(ctx, "op-3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecover_WrongChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	raw, _ := f.signed(t)
	_, err := p.SubmitRaw(ctx, raw, testChain, ExecuteOptions{PersistID: "op-4"})
	require.NoError(t, err)

	other := testChain
	other.ID = "mainnet"
	_, err = p.Recover(ctx, "op-4", other, solana.SendOptions{}, "")
	assert.Error(t, err)

	_, err = f.pending.Get(ctx, "op-4")
	assert.NoError(t, err)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.preparer(t)

	raw, _ := f.signed(t)
	_, err := p.SubmitRaw(ctx, raw, testChain, ExecuteOptions{PersistID: "op-5"})
	require.NoError(t, err)

	require.NoError(t, p.Release(ctx, "op-5"))
	require.NoError(t, p.Release(ctx, "op-5"))
	_, err = f.pending.Get(ctx, "op-5")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

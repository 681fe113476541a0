package signer_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"multisig-console/internal/failure"
	"multisig-console/internal/signer"
	"multisig-console/internal/signer/localkey"
	"multisig-console/internal/solana"
)

var program = solana.PublicKey{0x42}

func newKey(t *testing.T) (*localkey.Signer, solana.PublicKey) {
	t.Helper()
	key := localkey.FromSeed([]byte("dispatcher test seed 0123456789a"))
	addr, err := key.GetAddress(context.Background(), localkey.DefaultPath)
	require.NoError(t, err)
	return key, addr
}

func legacyTx(payer solana.PublicKey) *solana.LegacyTransaction {
	tx := solana.NewLegacyTransaction(&payer, solana.Instruction{
		ProgramID: program,
		Accounts:  []solana.AccountMeta{{PublicKey: payer, IsSigner: true, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	})
	tx.RecentBlockhash = solana.Hash{0x09}
	return tx
}

func versionedTx(payer solana.PublicKey) *solana.VersionedTransaction {
	return solana.NewVersionedTransaction(solana.MessageV0{
		Header: solana.MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlyUnsignedAccounts: 1,
		},
		StaticAccountKeys: []solana.PublicKey{payer, program},
		RecentBlockhash:   solana.Hash{0x09},
		Instructions: []solana.CompiledInstruction{
			{ProgramIDIndex: 1, Accounts: []uint8{0}, Data: []byte{1}},
		},
	})
}

func newDispatcher(t *testing.T, opts ...signer.Option) *signer.Dispatcher {
	return signer.NewDispatcher(append([]signer.Option{signer.WithLogger(zaptest.NewLogger(t))}, opts...)...)
}

func TestDispatcher_HardwareLegacy(t *testing.T) {
	key, payer := newKey(t)
	tx := legacyTx(payer)
	d := newDispatcher(t)

	signed, err := d.Sign(context.Background(), signer.HardwareWallet(key, localkey.DefaultPath), tx)
	require.NoError(t, err)
	out, ok := signed.(*solana.LegacyTransaction)
	require.True(t, ok)
	assert.Same(t, tx, out)

	msg, err := out.MessageBytes()
	require.NoError(t, err)
	sig := out.FirstSignature()
	assert.True(t, ed25519.Verify(ed25519.PublicKey(payer.Bytes()), msg, sig[:]))
}

func TestDispatcher_HardwareVersioned(t *testing.T) {
	key, payer := newKey(t)
	tx := versionedTx(payer)
	d := newDispatcher(t)

	out, err := d.SignVersioned(context.Background(), signer.HardwareWallet(key, localkey.DefaultPath), tx)
	require.NoError(t, err)

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	sig := out.FirstSignature()
	assert.True(t, ed25519.Verify(ed25519.PublicKey(payer.Bytes()), msg, sig[:]))

	raw, err := out.Serialize()
	require.NoError(t, err)
	assert.NotEqual(t, msg, raw)
}

func TestDispatcher_MissingDerivationPath(t *testing.T) {
	key, payer := newKey(t)
	d := newDispatcher(t)

	for _, tx := range []solana.Transaction{legacyTx(payer), versionedTx(payer)} {
		_, err := d.Sign(context.Background(), signer.HardwareWallet(key, ""), tx)
		require.Error(t, err)
		assert.Equal(t, failure.KindMissingDerivationPath, failure.KindOf(err))
	}
}

func TestDispatcher_UnsupportedWalletType(t *testing.T) {
	_, payer := newKey(t)
	d := newDispatcher(t)

	for _, w := range []signer.Wallet{{}, {Kind: signer.WalletKind(9)}, {Kind: signer.WalletBrowser}} {
		_, err := d.Sign(context.Background(), w, legacyTx(payer))
		require.Error(t, err)
		assert.Equal(t, failure.KindUnsupportedWalletType, failure.KindOf(err), w.Kind.String())
	}
}

type browserFunc func(ctx context.Context, tx solana.Transaction) (solana.Transaction, error)

func (f browserFunc) SignTransaction(ctx context.Context, tx solana.Transaction) (solana.Transaction, error) {
	return f(ctx, tx)
}

func TestDispatcher_BrowserForwardsWholeTransaction(t *testing.T) {
	_, payer := newKey(t)
	d := newDispatcher(t)
	var seen solana.Transaction

	wallet := signer.BrowserWalletOf(browserFunc(func(_ context.Context, tx solana.Transaction) (solana.Transaction, error) {
		seen = tx
		v := tx.(*solana.VersionedTransaction)
		v.Signatures[0] = solana.Signature{0x01}
		return v, nil
	}))

	tx := versionedTx(payer)
	out, err := d.Sign(context.Background(), wallet, tx)
	require.NoError(t, err)
	assert.Same(t, tx, seen)
	assert.Equal(t, solana.Signature{0x01}, out.FirstSignature())
}

func TestDispatcher_BrowserEncodingMismatch(t *testing.T) {
	_, payer := newKey(t)
	d := newDispatcher(t)
	wallet := signer.BrowserWalletOf(browserFunc(func(context.Context, solana.Transaction) (solana.Transaction, error) {
		return versionedTx(payer), nil
	}))

	_, err := d.SignLegacy(context.Background(), wallet, legacyTx(payer))
	assert.Error(t, err)
}

type slowHardware struct {
	*localkey.Signer
	delay time.Duration
}

func (s slowHardware) SignTransaction(_ context.Context, path string, msg []byte) (solana.Signature, error) {
	// Ignores its context on purpose.
	time.Sleep(s.delay)
	return s.Signer.SignTransaction(context.Background(), path, msg)
}

func TestDispatcher_Timeout(t *testing.T) {
	key, payer := newKey(t)
	d := newDispatcher(t, signer.WithTimeout(20*time.Millisecond))
	wallet := signer.HardwareWallet(slowHardware{Signer: key, delay: 200 * time.Millisecond}, localkey.DefaultPath)

	start := time.Now()
	_, err := d.Sign(context.Background(), wallet, legacyTx(payer))
	require.Error(t, err)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

type busyHardware struct {
	*localkey.Signer
	busy   int32
	status signer.DeviceStatus
	calls  atomic.Int32
}

func (b *busyHardware) SignTransaction(ctx context.Context, path string, msg []byte) (solana.Signature, error) {
	if b.calls.Add(1) <= b.busy {
		return solana.Signature{}, &signer.DeviceError{Status: b.status}
	}
	return b.Signer.SignTransaction(ctx, path, msg)
}

func TestDispatcher_RetriesBusyDevice(t *testing.T) {
	key, payer := newKey(t)
	d := newDispatcher(t)
	hw := &busyHardware{Signer: key, busy: 1, status: signer.DeviceBusy}

	_, err := d.Sign(context.Background(), signer.HardwareWallet(hw, localkey.DefaultPath), legacyTx(payer))
	require.NoError(t, err)
	assert.Equal(t, int32(2), hw.calls.Load())
}

func TestDispatcher_DeviceOKErrorNotRetried(t *testing.T) {
	key, payer := newKey(t)
	d := newDispatcher(t)
	hw := &busyHardware{Signer: key, busy: 1, status: signer.DeviceOK}

	_, err := d.Sign(context.Background(), signer.HardwareWallet(hw, localkey.DefaultPath), legacyTx(payer))
	require.Error(t, err)
	assert.Equal(t, int32(1), hw.calls.Load())
}

func TestDeviceStatus_Terminal(t *testing.T) {
	for _, s := range []signer.DeviceStatus{signer.DeviceOK, signer.DeviceLocked, signer.DeviceAppNotOpen, signer.DeviceUserRejected, signer.DeviceDisconnected} {
		assert.True(t, s.Terminal(), s.String())
	}
	assert.False(t, signer.DeviceBusy.Terminal())
}

type rejectingHardware struct {
	*localkey.Signer
	calls atomic.Int32
}

func (r *rejectingHardware) SignTransaction(context.Context, string, []byte) (solana.Signature, error) {
	r.calls.Add(1)
	return solana.Signature{}, &signer.DeviceError{Status: signer.DeviceUserRejected, Err: errors.New("0x6985")}
}

func TestDispatcher_TerminalDeviceStatus(t *testing.T) {
	key, payer := newKey(t)
	d := newDispatcher(t)
	hw := &rejectingHardware{Signer: key}

	_, err := d.Sign(context.Background(), signer.HardwareWallet(hw, localkey.DefaultPath), legacyTx(payer))
	require.Error(t, err)
	assert.Equal(t, int32(1), hw.calls.Load())

	var de *signer.DeviceError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.Status.Terminal())
	assert.Equal(t, "The request was rejected in the wallet.", failure.Default().Classify(err).Message)
}

func TestDispatcher_Address(t *testing.T) {
	key, payer := newKey(t)
	d := newDispatcher(t)

	got, err := d.Address(context.Background(), signer.HardwareWallet(key, localkey.DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, payer, got)

	_, err = d.Address(context.Background(), signer.Wallet{Kind: signer.WalletBrowser})
	assert.Equal(t, failure.KindUnsupportedWalletType, failure.KindOf(err))
}

func TestParseWalletKind(t *testing.T) {
	k, err := signer.ParseWalletKind("hardware")
	require.NoError(t, err)
	assert.Equal(t, signer.WalletHardware, k)

	_, err = signer.ParseWalletKind("paper")
	assert.Error(t, err)
}

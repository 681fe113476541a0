package localkey

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SLIP-0010 ed25519 test vector 1.
func TestDerive_SLIP10Vector(t *testing.T) {
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)

	key, chainCode := derive(seed, nil)
	assert.Equal(t, "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7", hex.EncodeToString(key))
	assert.Equal(t, "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb", hex.EncodeToString(chainCode))

	indexes, err := ParsePath("m/0'")
	require.NoError(t, err)
	key, _ = derive(seed, indexes)
	assert.Equal(t, "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3", hex.EncodeToString(key))
}

func TestParsePath(t *testing.T) {
	got, err := ParsePath(DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, []uint32{44 + hardenedOffset, 501 + hardenedOffset, hardenedOffset, hardenedOffset}, got)

	got, err = ParsePath("m/44h/501h")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	for _, bad := range []string{"", "44'/501'", "m/44'/501", "m/x'", "m/2147483648'", "m//0'"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestFromMnemonic(t *testing.T) {
	const mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	s, err := FromMnemonic(mnemonic, "")
	require.NoError(t, err)

	again, err := FromMnemonic("  abandon abandon abandon abandon abandon abandon\nabandon abandon abandon abandon abandon about ", "")
	require.NoError(t, err)

	ctx := context.Background()
	a, err := s.GetAddress(ctx, DefaultPath)
	require.NoError(t, err)
	b, err := again.GetAddress(ctx, DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := s.GetAddress(ctx, "m/44'/501'/1'/0'")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = FromMnemonic("abandon abandon abandon", "")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestSigner_SignVerifies(t *testing.T) {
	s := FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	ctx := context.Background()

	addr, err := s.GetAddress(ctx, DefaultPath)
	require.NoError(t, err)

	msg := []byte("message bytes")
	sig, err := s.SignTransaction(ctx, DefaultPath, msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(addr.Bytes()), msg, sig[:]))

	_, err = s.SignMessage(ctx, "m/44'/501", msg)
	assert.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.SignMessage(canceled, DefaultPath, msg)
	assert.ErrorIs(t, err, context.Canceled)
}

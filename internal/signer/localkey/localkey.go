// Package localkey is a software signer that behaves like a hardware
// back-end: keys are derived from a BIP39 mnemonic along SLIP-0010 ed25519
// paths and never leave the process.
package localkey

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"strconv"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/tyler-smith/go-bip39"

	"multisig-console/internal/signer"
	"multisig-console/internal/solana"
)

// DefaultPath is the first account of the Solana coin type.
const DefaultPath = "m/44'/501'/0'/0'"

const hardenedOffset = 0x80000000

// ErrInvalidMnemonic is returned for mnemonics that fail the BIP39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// Signer derives and caches ed25519 keys from a seed.
type Signer struct {
	seed []byte

	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

// FromMnemonic validates mnemonic and derives the BIP39 seed.
func FromMnemonic(mnemonic, passphrase string) (*Signer, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "derive seed")
	}
	return FromSeed(seed), nil
}

// FromSeed uses seed directly as the SLIP-0010 master seed.
func FromSeed(seed []byte) *Signer {
	return &Signer{
		seed: append([]byte(nil), seed...),
		keys: make(map[string]ed25519.PrivateKey),
	}
}

// GetAddress implements signer.HardwareBackend.
func (s *Signer) GetAddress(_ context.Context, path string) (solana.PublicKey, error) {
	key, err := s.key(path)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(key.Public().(ed25519.PublicKey))
}

// SignTransaction implements signer.HardwareBackend.
func (s *Signer) SignTransaction(ctx context.Context, path string, message []byte) (solana.Signature, error) {
	return s.SignMessage(ctx, path, message)
}

// SignMessage implements signer.HardwareBackend.
func (s *Signer) SignMessage(ctx context.Context, path string, message []byte) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	key, err := s.key(path)
	if err != nil {
		return solana.Signature{}, err
	}
	return solana.SignatureFromBytes(ed25519.Sign(key, message))
}

func (s *Signer) key(path string) (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[path]; ok {
		return k, nil
	}
	k, err := DeriveKey(s.seed, path)
	if err != nil {
		return nil, err
	}
	s.keys[path] = k
	return k, nil
}

// DeriveKey derives the ed25519 key at path. Every path segment must be
// hardened.
func DeriveKey(seed []byte, path string) (ed25519.PrivateKey, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	key, _ := derive(seed, indexes)
	return ed25519.NewKeyFromSeed(key), nil
}

// derive returns the private key and chain code at indexes.
func derive(seed []byte, indexes []uint32) (key, chainCode []byte) {
	key, chainCode = split(hmacSHA512([]byte("ed25519 seed"), seed))
	for _, idx := range indexes {
		data := make([]byte, 0, 1+32+4)
		data = append(data, 0)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, idx)
		key, chainCode = split(hmacSHA512(chainCode, data))
	}
	return key, chainCode
}

func hmacSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func split(i []byte) ([]byte, []byte) {
	return i[:32], i[32:]
}

// ParsePath parses "m/44'/501'/0'/0'" into hardened child indexes. Both '
// and h mark a hardened segment.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, errors.Errorf("derivation path %q must start with m", path)
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		if !hardened {
			return nil, errors.Errorf("derivation path %q: segment %q must be hardened", path, p)
		}
		n, err := strconv.ParseUint(p[:len(p)-1], 10, 32)
		if err != nil || n >= hardenedOffset {
			return nil, errors.Errorf("derivation path %q: invalid segment %q", path, p)
		}
		out = append(out, uint32(n)+hardenedOffset)
	}
	return out, nil
}

// Compile-time interface check.
var _ signer.HardwareBackend = (*Signer)(nil)

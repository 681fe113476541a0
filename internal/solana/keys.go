package solana

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Sizes of the fixed-width primitives.
const (
	PublicKeySize = 32
	HashSize      = 32
	SignatureSize = 64

	maxSeeds      = 16
	maxSeedLength = 32
)

// PublicKey is an ed25519 public key or a program-derived address.
type PublicKey [PublicKeySize]byte

// Hash is a 32 byte hash, used for blockhashes.
type Hash [HashSize]byte

// Signature is an ed25519 signature.
type Signature [SignatureSize]byte

// ParsePublicKey decodes a base58 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key length %d for %q", len(b), s)
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPublicKey is ParsePublicKey for constants. Panics on invalid input.
func MustPublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (pk PublicKey) String() string { return base58.Encode(pk[:]) }

// Bytes returns a copy of the key bytes, handy as a PDA seed.
func (pk PublicKey) Bytes() []byte { return append([]byte(nil), pk[:]...) }

// IsZero reports whether pk is the all-zero key.
func (pk PublicKey) IsZero() bool { return pk == PublicKey{} }

// Equals reports whether pk and other are the same key.
func (pk PublicKey) Equals(other PublicKey) bool { return pk == other }

// MarshalText encodes the key as base58.
func (pk PublicKey) MarshalText() ([]byte, error) { return []byte(pk.String()), nil }

// UnmarshalText decodes a base58 key.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	v, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = v
	return nil
}

// ParseHash decodes a base58 hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d for %q", len(b), s)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	b, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("decode signature: %w", err)
	}
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("invalid signature length %d", len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

// SignatureFromBytes copies b into a Signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != SignatureSize {
		return sig, fmt.Errorf("invalid signature length %d", len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

func (s Signature) String() string { return base58.Encode(s[:]) }

// IsZero reports whether the signature slot is still empty.
func (s Signature) IsZero() bool { return s == Signature{} }

// IsOnCurve reports whether b is a valid ed25519 point encoding.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds with the program id and rejects on-curve results.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	if len(seeds) > maxSeeds {
		return PublicKey{}, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	var buf bytes.Buffer
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return PublicKey{}, fmt.Errorf("seed too long: %d bytes", len(seed))
		}
		buf.Write(seed)
	}
	buf.Write(program[:])
	buf.WriteString("ProgramDerivedAddress")

	hash := sha256.Sum256(buf.Bytes())
	if IsOnCurve(hash[:]) {
		return PublicKey{}, errOnCurve
	}
	return PublicKey(hash), nil
}

var errOnCurve = fmt.Errorf("derived address is on curve")

// FindProgramAddress searches bumps from 255 down to 0 for an off-curve address.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if err != errOnCurve {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, fmt.Errorf("unable to find a viable program address bump")
}

// U64LE encodes v little-endian, the seed format used for account indexes.
func U64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Package signer produces signatures for transactions without the caller
// knowing which back-end holds the key.
package signer

import (
	"context"
	"fmt"

	"multisig-console/internal/solana"
)

// WalletKind selects the signing back-end. The zero value is unset.
type WalletKind int

const (
	WalletUnset WalletKind = iota
	WalletHardware
	WalletBrowser
)

func (k WalletKind) String() string {
	switch k {
	case WalletUnset:
		return "unset"
	case WalletHardware:
		return "hardware"
	case WalletBrowser:
		return "browser"
	default:
		return fmt.Sprintf("wallet(%d)", int(k))
	}
}

// ParseWalletKind parses the names produced by WalletKind.String.
func ParseWalletKind(s string) (WalletKind, error) {
	switch s {
	case "hardware":
		return WalletHardware, nil
	case "browser":
		return WalletBrowser, nil
	default:
		return WalletUnset, fmt.Errorf("unknown wallet kind %q", s)
	}
}

// HardwareBackend is a device that signs raw message bytes with the key at a
// derivation path.
type HardwareBackend interface {
	GetAddress(ctx context.Context, path string) (solana.PublicKey, error)
	SignTransaction(ctx context.Context, path string, message []byte) (solana.Signature, error)
	SignMessage(ctx context.Context, path string, message []byte) (solana.Signature, error)
}

// BrowserWallet signs whole transactions and manages its own serialization.
type BrowserWallet interface {
	SignTransaction(ctx context.Context, tx solana.Transaction) (solana.Transaction, error)
}

// Wallet is the per-call signer selection.
type Wallet struct {
	Kind           WalletKind
	DerivationPath string
	Hardware       HardwareBackend
	Browser        BrowserWallet
}

// HardwareWallet selects a hardware back-end at path.
func HardwareWallet(backend HardwareBackend, path string) Wallet {
	return Wallet{Kind: WalletHardware, DerivationPath: path, Hardware: backend}
}

// BrowserWalletOf selects a browser wallet.
func BrowserWalletOf(w BrowserWallet) Wallet {
	return Wallet{Kind: WalletBrowser, Browser: w}
}

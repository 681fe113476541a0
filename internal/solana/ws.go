package solana

import "context"

// WSClient defines the WebSocket subscription interface.
type WSClient interface {
	// SubscribeSignature subscribes to a signature reaching commitment. The
	// channel receives at most one notification and is then closed.
	SubscribeSignature(ctx context.Context, sig Signature, commitment Commitment) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification is the signatureSubscribe result.
type SignatureNotification struct {
	Signature Signature
	Slot      uint64
	Err       interface{}
}

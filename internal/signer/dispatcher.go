package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"multisig-console/internal/failure"
	"multisig-console/internal/observability"
	"multisig-console/internal/solana"
)

const (
	// DefaultTimeout bounds a single back-end call, including the time the
	// operator needs to confirm on a device.
	DefaultTimeout = 60 * time.Second

	busyAttempts = 3
	busyDelay    = 250 * time.Millisecond
)

// Dispatcher routes signing requests to the back-end selected by a Wallet.
// It holds no key material and never persists anything.
type Dispatcher struct {
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each back-end call.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *Dispatcher) { x.logger = l }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Sign signs tx with the wallet and returns the signed transaction, which has
// the same encoding as tx.
func (d *Dispatcher) Sign(ctx context.Context, w Wallet, tx solana.Transaction) (solana.Transaction, error) {
	switch t := tx.(type) {
	case *solana.LegacyTransaction:
		return d.SignLegacy(ctx, w, t)
	case *solana.VersionedTransaction:
		return d.SignVersioned(ctx, w, t)
	default:
		return nil, errors.Errorf("unsupported transaction type %T", tx)
	}
}

// SignLegacy signs a legacy transaction. Hardware signatures are attached to
// the declared fee payer.
func (d *Dispatcher) SignLegacy(ctx context.Context, w Wallet, tx *solana.LegacyTransaction) (*solana.LegacyTransaction, error) {
	const op = "signer.SignLegacy"
	start := time.Now()

	out, err := d.signLegacy(ctx, op, w, tx)
	d.record(w, solana.EncodingLegacy, start, err)
	return out, err
}

func (d *Dispatcher) signLegacy(ctx context.Context, op string, w Wallet, tx *solana.LegacyTransaction) (*solana.LegacyTransaction, error) {
	switch w.Kind {
	case WalletHardware:
		if err := checkHardware(op, w); err != nil {
			return nil, err
		}
		if tx.FeePayer == nil {
			return nil, errors.Wrap(solana.ErrFeePayerRequired, op)
		}
		msg, err := tx.MessageBytes()
		if err != nil {
			return nil, errors.Wrap(err, "compile message")
		}
		sig, err := d.hardwareSign(ctx, op, w, msg)
		if err != nil {
			return nil, err
		}
		tx.AddSignature(*tx.FeePayer, sig)
		return tx, nil

	case WalletBrowser:
		signed, err := d.browserSign(ctx, op, w, tx)
		if err != nil {
			return nil, err
		}
		out, ok := signed.(*solana.LegacyTransaction)
		if !ok {
			return nil, errors.Errorf("%s: wallet returned a %s transaction for a legacy one", op, signed.Encoding())
		}
		return out, nil

	default:
		return nil, unsupported(op, w.Kind)
	}
}

// SignVersioned signs a versioned transaction. Hardware signatures are placed
// in the slot of the first static account key.
func (d *Dispatcher) SignVersioned(ctx context.Context, w Wallet, tx *solana.VersionedTransaction) (*solana.VersionedTransaction, error) {
	const op = "signer.SignVersioned"
	start := time.Now()

	out, err := d.signVersioned(ctx, op, w, tx)
	d.record(w, solana.EncodingVersioned, start, err)
	return out, err
}

func (d *Dispatcher) signVersioned(ctx context.Context, op string, w Wallet, tx *solana.VersionedTransaction) (*solana.VersionedTransaction, error) {
	switch w.Kind {
	case WalletHardware:
		if err := checkHardware(op, w); err != nil {
			return nil, err
		}
		payer, err := tx.Message.FeePayer()
		if err != nil {
			return nil, errors.Wrap(err, op)
		}
		msg, err := tx.MessageBytes()
		if err != nil {
			return nil, errors.Wrap(err, "serialize message")
		}
		sig, err := d.hardwareSign(ctx, op, w, msg)
		if err != nil {
			return nil, err
		}
		if err := tx.SetSignature(payer, sig); err != nil {
			return nil, errors.Wrap(err, op)
		}
		return tx, nil

	case WalletBrowser:
		signed, err := d.browserSign(ctx, op, w, tx)
		if err != nil {
			return nil, err
		}
		out, ok := signed.(*solana.VersionedTransaction)
		if !ok {
			return nil, errors.Errorf("%s: wallet returned a %s transaction for a versioned one", op, signed.Encoding())
		}
		return out, nil

	default:
		return nil, unsupported(op, w.Kind)
	}
}

// Address returns the public key the wallet signs with. Only hardware
// back-ends can be asked for it.
func (d *Dispatcher) Address(ctx context.Context, w Wallet) (solana.PublicKey, error) {
	const op = "signer.Address"
	if w.Kind != WalletHardware {
		return solana.PublicKey{}, unsupported(op, w.Kind)
	}
	if err := checkHardware(op, w); err != nil {
		return solana.PublicKey{}, err
	}
	return bounded(ctx, d.timeout, op, func(ctx context.Context) (solana.PublicKey, error) {
		return w.Hardware.GetAddress(ctx, w.DerivationPath)
	})
}

func checkHardware(op string, w Wallet) error {
	if w.DerivationPath == "" {
		return failure.New(failure.KindMissingDerivationPath, op, "hardware wallet requires a derivation path")
	}
	if w.Hardware == nil {
		return failure.New(failure.KindUnsupportedWalletType, op, "hardware wallet has no signing back-end")
	}
	return nil
}

func unsupported(op string, kind WalletKind) error {
	return failure.New(failure.KindUnsupportedWalletType, op, fmt.Sprintf("unsupported wallet type %s", kind))
}

// hardwareSign asks the device for a signature, retrying while it reports
// busy.
func (d *Dispatcher) hardwareSign(ctx context.Context, op string, w Wallet, msg []byte) (solana.Signature, error) {
	return bounded(ctx, d.timeout, op, func(ctx context.Context) (solana.Signature, error) {
		var sig solana.Signature
		err := retry.Do(
			func() error {
				var err error
				sig, err = w.Hardware.SignTransaction(ctx, w.DerivationPath, msg)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(busyAttempts),
			retry.Delay(busyDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(isBusy),
			retry.OnRetry(func(n uint, err error) {
				d.logger.Debug("device busy, retrying", zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)
		return sig, err
	})
}

func (d *Dispatcher) browserSign(ctx context.Context, op string, w Wallet, tx solana.Transaction) (solana.Transaction, error) {
	if w.Browser == nil {
		return nil, failure.New(failure.KindUnsupportedWalletType, op, "browser wallet does not expose signTransaction")
	}
	signed, err := bounded(ctx, d.timeout, op, func(ctx context.Context) (solana.Transaction, error) {
		return w.Browser.SignTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	if signed == nil {
		return nil, errors.Errorf("%s: wallet returned no transaction", op)
	}
	return signed, nil
}

func isBusy(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && !de.Status.Terminal()
}

// bounded runs fn with a deadline. A back-end that ignores its context still
// yields a timeout error once the deadline passes.
func bounded[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return zero, timeoutErr(op, timeout, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutErr(op, timeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

func timeoutErr(op string, timeout time.Duration, err error) error {
	return failure.Wrap(err, failure.KindTimeout, op, fmt.Sprintf("signer did not respond within %s", timeout))
}

func (d *Dispatcher) record(w Wallet, enc solana.Encoding, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = failure.KindOf(err).String()
		d.logger.Warn("signing failed",
			zap.Stringer("wallet", w.Kind),
			zap.Stringer("encoding", enc),
			zap.Error(err))
	} else {
		d.logger.Debug("transaction signed",
			zap.Stringer("wallet", w.Kind),
			zap.Stringer("encoding", enc),
			zap.Duration("elapsed", elapsed))
	}
	observability.RecordSignerDispatch(w.Kind.String(), enc.String(), outcome, elapsed.Seconds())
}

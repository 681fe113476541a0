// Package storage defines the persistence used by the transaction pipeline:
// signed payloads kept for crash recovery and a journal of submissions.
package storage

import (
	"context"
	"time"
)

// PendingTx is a signed transaction persisted before submission.
type PendingTx struct {
	ID      string
	ChainID string
	// Payload is the base64 wire transaction.
	Payload string
	// Encoding is "legacy" or "v0".
	Encoding string
	// LastValidBlockHeight is the block height after which the payload can
	// no longer land. Zero when unknown.
	LastValidBlockHeight uint64
	CreatedAt            time.Time
}

// Validate checks the fields every backend requires.
func (p *PendingTx) Validate() error {
	if p == nil || p.ID == "" || p.ChainID == "" || p.Payload == "" {
		return ErrInvalidInput
	}
	return nil
}

// PendingTxStore keeps signed payloads until their submission is confirmed.
type PendingTxStore interface {
	// Put stores p. Returns ErrDuplicateKey if the id exists.
	Put(ctx context.Context, p *PendingTx) error

	// Get returns the payload stored under id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*PendingTx, error)

	// Delete removes the payload stored under id. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// List returns payloads of chainID, oldest first. An empty chainID lists all.
	List(ctx context.Context, chainID string) ([]*PendingTx, error)
}

// Outcome is the result recorded for a submission.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeSendError Outcome = "send_error"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	// OutcomeExpired marks a payload dropped because its blockhash expired
	// before the network saw it.
	OutcomeExpired Outcome = "expired"
)

// Submission is one journal entry. A transaction typically produces a
// submitted entry followed by a confirmation outcome.
type Submission struct {
	Signature  string
	ChainID    string
	PersistID  string
	Outcome    Outcome
	Commitment string
	Error      string
	RecordedAt time.Time
}

// SubmissionJournal is an append-only history of submissions.
type SubmissionJournal interface {
	// Record appends s. RecordedAt defaults to now.
	Record(ctx context.Context, s *Submission) error

	// ListByChain returns the latest entries of chainID, newest first.
	// limit <= 0 returns every entry.
	ListByChain(ctx context.Context, chainID string, limit int) ([]*Submission, error)

	// ListBySignature returns the entries of one transaction, oldest first.
	ListBySignature(ctx context.Context, signature string) ([]*Submission, error)
}

package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"multisig-console/internal/storage"
)

// SubmissionJournal implements storage.SubmissionJournal using ClickHouse.
type SubmissionJournal struct {
	conn *Conn
}

// NewSubmissionJournal creates a new SubmissionJournal.
func NewSubmissionJournal(conn *Conn) *SubmissionJournal {
	return &SubmissionJournal{conn: conn}
}

// Compile-time interface check.
var _ storage.SubmissionJournal = (*SubmissionJournal)(nil)

const submissionColumns = `signature, chain_id, persist_id, outcome, commitment, error, recorded_at`

// Record appends s.
func (j *SubmissionJournal) Record(ctx context.Context, s *storage.Submission) (err error) {
	if s == nil || s.Signature == "" || s.ChainID == "" || s.Outcome == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("journal_record", start, err) }(time.Now())

	recordedAt := s.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	err = j.conn.Exec(ctx, `INSERT INTO submissions (`+submissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Signature, s.ChainID, s.PersistID, string(s.Outcome), s.Commitment, s.Error, recordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListByChain returns the latest entries of chainID, newest first.
func (j *SubmissionJournal) ListByChain(ctx context.Context, chainID string, limit int) (_ []*storage.Submission, err error) {
	defer func(start time.Time) { observe("journal_list_chain", start, err) }(time.Now())

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE chain_id = ? ORDER BY recorded_at DESC`
	args := []any{chainID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := j.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions by chain: %w", err)
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// ListBySignature returns the entries of one transaction, oldest first.
func (j *SubmissionJournal) ListBySignature(ctx context.Context, signature string) (_ []*storage.Submission, err error) {
	defer func(start time.Time) { observe("journal_list_signature", start, err) }(time.Now())

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE signature = ? ORDER BY recorded_at ASC`
	rows, err := j.conn.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("query submissions by signature: %w", err)
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func scanSubmissions(rows driver.Rows) ([]*storage.Submission, error) {
	var result []*storage.Submission
	for rows.Next() {
		var (
			s       storage.Submission
			outcome string
		)
		if err := rows.Scan(&s.Signature, &s.ChainID, &s.PersistID, &outcome, &s.Commitment, &s.Error, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Outcome = storage.Outcome(outcome)
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return result, nil
}

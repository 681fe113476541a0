package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"multisig-console/internal/storage"
)

// PendingTxStore implements storage.PendingTxStore using PostgreSQL.
type PendingTxStore struct {
	pool *Pool
}

// NewPendingTxStore creates a new PendingTxStore.
func NewPendingTxStore(pool *Pool) *PendingTxStore {
	return &PendingTxStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PendingTxStore = (*PendingTxStore)(nil)

// Put stores p. Returns ErrDuplicateKey if the id exists.
func (s *PendingTxStore) Put(ctx context.Context, p *storage.PendingTx) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}
	defer func(start time.Time) { observe("pending_put", start, err) }(time.Now())

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO pending_payloads (id, chain_id, payload, encoding, last_valid_block_height, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query, p.ID, p.ChainID, p.Payload, p.Encoding, int64(p.LastValidBlockHeight), createdAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pending payload: %w", err)
	}
	return nil
}

// Get returns the payload stored under id. Returns ErrNotFound if absent.
func (s *PendingTxStore) Get(ctx context.Context, id string) (_ *storage.PendingTx, err error) {
	defer func(start time.Time) { observe("pending_get", start, err) }(time.Now())

	query := `
		SELECT id, chain_id, payload, encoding, last_valid_block_height, created_at
		FROM pending_payloads
		WHERE id = $1
	`
	p, err := scanPending(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pending payload: %w", err)
	}
	return p, nil
}

// Delete removes the payload stored under id. Returns ErrNotFound if absent.
func (s *PendingTxStore) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe("pending_delete", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `DELETE FROM pending_payloads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pending payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns payloads of chainID, oldest first. An empty chainID lists all.
func (s *PendingTxStore) List(ctx context.Context, chainID string) (_ []*storage.PendingTx, err error) {
	defer func(start time.Time) { observe("pending_list", start, err) }(time.Now())

	query := `
		SELECT id, chain_id, payload, encoding, last_valid_block_height, created_at
		FROM pending_payloads
		WHERE $1 = '' OR chain_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list pending payloads: %w", err)
	}
	defer rows.Close()

	var result []*storage.PendingTx
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending payload: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending payloads: %w", err)
	}
	return result, nil
}

func scanPending(row pgx.Row) (*storage.PendingTx, error) {
	var (
		p          storage.PendingTx
		lastHeight int64
	)
	if err := row.Scan(&p.ID, &p.ChainID, &p.Payload, &p.Encoding, &lastHeight, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.LastValidBlockHeight = uint64(lastHeight)
	return &p, nil
}

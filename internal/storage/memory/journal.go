package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"multisig-console/internal/storage"
)

// SubmissionJournal is an in-memory implementation of storage.SubmissionJournal.
type SubmissionJournal struct {
	mu      sync.RWMutex
	entries []*storage.Submission
	now     func() time.Time
}

// NewSubmissionJournal creates a new in-memory journal.
func NewSubmissionJournal() *SubmissionJournal {
	return &SubmissionJournal{now: time.Now}
}

// Compile-time interface check.
var _ storage.SubmissionJournal = (*SubmissionJournal)(nil)

// Record appends s.
func (j *SubmissionJournal) Record(_ context.Context, s *storage.Submission) error {
	if s == nil || s.Signature == "" || s.ChainID == "" || s.Outcome == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	cp := *s
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = j.now()
	}
	j.entries = append(j.entries, &cp)
	return nil
}

// ListByChain returns the latest entries of chainID, newest first.
func (j *SubmissionJournal) ListByChain(_ context.Context, chainID string, limit int) ([]*storage.Submission, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*storage.Submission
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].ChainID == chainID {
			cp := *j.entries[i]
			result = append(result, &cp)
		}
	}
	// Entries are appended in time order; keep insertion order for ties.
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].RecordedAt.After(result[b].RecordedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListBySignature returns the entries of one transaction, oldest first.
func (j *SubmissionJournal) ListBySignature(_ context.Context, signature string) ([]*storage.Submission, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*storage.Submission
	for _, e := range j.entries {
		if e.Signature == signature {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

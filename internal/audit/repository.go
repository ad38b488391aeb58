package audit

import (
	"context"
	"fmt"
	"sync"
)

// Repository defines the audit trail storage interface. The store is
// append-only: there is no update or delete.
type Repository interface {
	// Append assigns the next sequence number, links the new entry to the
	// previous one via its hash, and stores it.
	Append(ctx context.Context, entry *Entry) error

	// List returns entries newest-first
	List(ctx context.Context, filter ListFilter) ([]*Entry, error)

	// VerifyChain walks the whole chain in sequence order and reports the
	// first broken link, if any.
	VerifyChain(ctx context.Context) (*ChainReport, error)

	Count(ctx context.Context) (int, error)
}

// ChainReport is the result of a full chain verification
type ChainReport struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt *int64 `json:"broken_at,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// MemoryRepository is an in-memory audit repository for development and tests
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
	nextSeq int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextSeq: 1}
}

func (r *MemoryRepository) Append(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Sequence = r.nextSeq
	if n := len(r.entries); n > 0 {
		entry.PrevHash = r.entries[n-1].Hash
	}
	entry.Hash = entry.computeHash()

	r.nextSeq++
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Entry
	// entries are stored oldest-first; walk backwards for newest-first
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !matchesFilter(e, filter) {
			continue
		}
		result = append(result, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matchesFilter(e *Entry, filter ListFilter) bool {
	if filter.PatientID != nil && e.PatientID != *filter.PatientID {
		return false
	}
	if filter.AlertID != nil && (e.AlertID == nil || *e.AlertID != *filter.AlertID) {
		return false
	}
	if filter.ActorID != nil && e.ActorID != *filter.ActorID {
		return false
	}
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	return true
}

func (r *MemoryRepository) VerifyChain(_ context.Context) (*ChainReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return verifyEntries(r.entries), nil
}

// verifyEntries checks hash integrity and linkage over entries ordered
// oldest-first. Shared by the memory and PostgreSQL repositories.
func verifyEntries(entries []*Entry) *ChainReport {
	report := &ChainReport{Valid: true, Entries: len(entries)}

	var prevHash string
	for _, e := range entries {
		if e.PrevHash != prevHash {
			seq := e.Sequence
			report.Valid = false
			report.BrokenAt = &seq
			report.Detail = fmt.Sprintf("entry %d prev_hash does not match preceding entry", seq)
			return report
		}
		if !e.VerifyHash() {
			seq := e.Sequence
			report.Valid = false
			report.BrokenAt = &seq
			report.Detail = fmt.Sprintf("entry %d content does not match stored hash", seq)
			return report
		}
		prevHash = e.Hash
	}
	return report
}

func (r *MemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}

package alert

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Repository stores alerts. List results follow the reviewer queue ordering
// contract: severity first (red, yellow, green), then newest first.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Alert, error)
	List(ctx context.Context, filter ListFilter) ([]*Alert, error)
	// Save inserts or updates; Seq is assigned on first insert
	Save(ctx context.Context, a *Alert) error
	Count(ctx context.Context) (int, error)
	CountBySeverity(ctx context.Context) (map[string]int, error)
}

// sortQueue orders alerts by severity rank then latest activity descending,
// the ordering the review queue UI relies on. UpdatedAt, not CreatedAt: a
// merge refreshes the alert to the newest reading and must bubble it up.
func sortQueue(alerts []*Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
		}
		return alerts[i].UpdatedAt.After(alerts[j].UpdatedAt)
	})
}

// MemoryRepository is an in-memory alert store for development and tests
type MemoryRepository struct {
	mu      sync.RWMutex
	alerts  map[types.ID]*Alert
	nextSeq int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		alerts:  make(map[types.ID]*Alert),
		nextSeq: 1,
	}
}

func (r *MemoryRepository) Get(_ context.Context, id types.ID) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[id]
	if !ok {
		return nil, apperrors.NotFound("alert", id.String())
	}
	copied := *a
	return &copied, nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Alert
	for _, a := range r.alerts {
		if !matchesFilter(a, filter) {
			continue
		}
		copied := *a
		result = append(result, &copied)
	}

	sortQueue(result)

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

func matchesFilter(a *Alert, filter ListFilter) bool {
	if filter.PatientID != nil && a.PatientID != *filter.PatientID {
		return false
	}
	if filter.Severity != nil && a.Severity != *filter.Severity {
		return false
	}
	if filter.Status != nil && a.Status != *filter.Status {
		return false
	}
	return true
}

func (r *MemoryRepository) Save(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Seq == 0 {
		a.Seq = r.nextSeq
		r.nextSeq++
	}
	copied := *a
	r.alerts[a.ID] = &copied
	return nil
}

func (r *MemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.alerts), nil
}

func (r *MemoryRepository) CountBySeverity(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, a := range r.alerts {
		counts[string(a.Severity)]++
	}
	return counts, nil
}

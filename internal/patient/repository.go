package patient

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/recoverguard/platform/internal/shared/errors"
	"github.com/recoverguard/platform/internal/shared/types"
)

// Repository is the abstract keyed store for patients and their baselines.
// Any backing store satisfying these lookup contracts is conformant.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Patient, error)
	List(ctx context.Context, filter ListPatientsFilter) ([]*Patient, int, error)
	Save(ctx context.Context, p *Patient) error
	Count(ctx context.Context) (int, error)
}

// MemoryRepository is an in-memory Repository for development and tests
type MemoryRepository struct {
	mu       sync.RWMutex
	patients map[types.ID]*Patient
}

// NewMemoryRepository creates an empty in-memory patient repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{patients: make(map[types.ID]*Patient)}
}

// Get returns a copy of the patient so callers never observe concurrent writes
func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, errors.NotFound("patient", id.String())
	}
	cp := *p
	return &cp, nil
}

// List returns patients matching the filter, ordered by name
func (r *MemoryRepository) List(ctx context.Context, filter ListPatientsFilter) ([]*Patient, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Patient
	for _, p := range r.patients {
		if filter.SurgeryType != "" && p.SurgeryType != filter.SurgeryType {
			continue
		}
		if filter.RiskTier != nil && p.RiskTier != *filter.RiskTier {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, len(result), nil
}

// Save upserts a patient
func (r *MemoryRepository) Save(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

// Count returns the number of patients
func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patients), nil
}

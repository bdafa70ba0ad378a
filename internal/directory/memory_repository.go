package directory

import (
	"context"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu        sync.RWMutex
	patients  map[string]Patient
	providers map[string]Provider
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:  make(map[string]Patient),
		providers: make(map[string]Provider),
	}
}

func (r *MemoryRepository) GetPatient(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetProvider(_ context.Context, id string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) UpsertPatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	v := *p
	if old, ok := r.patients[p.ID]; ok {
		v.CreatedAt = old.CreatedAt
	} else {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	r.patients[p.ID] = v
	return nil
}

func (r *MemoryRepository) UpsertProvider(_ context.Context, c *Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	v := *c
	if old, ok := r.providers[c.ID]; ok {
		v.CreatedAt = old.CreatedAt
	} else {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	r.providers[c.ID] = v
	return nil
}

var _ Repository = (*MemoryRepository)(nil)

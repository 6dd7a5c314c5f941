// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"context"
	"sort"
	"sync"
)

// Repository persists stagings.
type Repository interface {
	// Active returns the region's active staging, or nil when there is none.
	Active(ctx context.Context, regionID string) (*Staging, error)
	// Get returns a staging by id.
	Get(ctx context.Context, id string) (*Staging, error)
	// Save inserts a staging as given.
	Save(ctx context.Context, s Staging) error
	// InvalidateRegion marks every active staging of the region inactive.
	InvalidateRegion(ctx context.Context, regionID string) error
	// History returns the region's stagings, newest first.
	History(ctx context.Context, regionID string, limit int) ([]Staging, error)
}

// ActiveReplacer is implemented by repositories that can invalidate a
// region's stagings and save the new active one atomically.
type ActiveReplacer interface {
	ReplaceActive(ctx context.Context, s Staging) error
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.Mutex
	stagings map[string]Staging
	seq      map[string]int
	next     int
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stagings: make(map[string]Staging),
		seq:      make(map[string]int),
	}
}

// Active implements Repository.
func (r *MemoryRepository) Active(_ context.Context, regionID string) (*Staging, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Staging
	for _, s := range r.stagings {
		if s.RegionID == regionID && s.IsActive {
			if found == nil || r.seq[s.ID] > r.seq[found.ID] {
				c := s.clone()
				found = &c
			}
		}
	}
	return found, nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Staging, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stagings[id]
	if !ok {
		return nil, ErrStagingNotFound(id)
	}
	c := s.clone()
	return &c, nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, s Staging) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.save(s)
	return nil
}

// InvalidateRegion implements Repository.
func (r *MemoryRepository) InvalidateRegion(_ context.Context, regionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidate(regionID)
	return nil
}

// ReplaceActive implements ActiveReplacer.
func (r *MemoryRepository) ReplaceActive(_ context.Context, s Staging) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidate(s.RegionID)
	s.IsActive = true
	r.save(s)
	return nil
}

// History implements Repository.
func (r *MemoryRepository) History(_ context.Context, regionID string, limit int) ([]Staging, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Staging
	for _, s := range r.stagings {
		if s.RegionID == regionID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.seq[out[i].ID] > r.seq[out[j].ID] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) save(s Staging) {
	r.next++
	r.seq[s.ID] = r.next
	r.stagings[s.ID] = s.clone()
}

func (r *MemoryRepository) invalidate(regionID string) {
	for id, s := range r.stagings {
		if s.RegionID == regionID && s.IsActive {
			s.IsActive = false
			r.stagings[id] = s
		}
	}
}

var (
	_ Repository     = (*MemoryRepository)(nil)
	_ ActiveReplacer = (*MemoryRepository)(nil)
)

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/helixops/promoter/internal/models"
)

// MemoryStore is the in-process Store used by tests and stateless
// deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	promotions map[string]models.Promotion
	releases   map[string]models.Release
	policies   map[models.Stage]models.ApprovalPolicy
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		promotions: map[string]models.Promotion{},
		releases:   map[string]models.Release{},
		policies:   map[models.Stage]models.ApprovalPolicy{},
	}
}

func (m *MemoryStore) SavePromotion(ctx context.Context, p models.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions[p.ID] = p.Clone()
	return nil
}

func (m *MemoryStore) GetPromotion(ctx context.Context, id string) (models.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.promotions[id]
	if !ok {
		return models.Promotion{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) ListPromotions(ctx context.Context) ([]models.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Promotion, 0, len(m.promotions))
	for _, p := range m.promotions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Request.RequestedAt.Before(out[j].Request.RequestedAt)
	})
	return out, nil
}

func (m *MemoryStore) SaveRelease(ctx context.Context, rel models.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[rel.ID] = rel
	return nil
}

func (m *MemoryStore) ListReleases(ctx context.Context, stage models.Stage) ([]models.Release, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Release
	for _, rel := range m.releases {
		if rel.Stage == stage {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeployedAt.Before(out[j].DeployedAt)
	})
	return out, nil
}

func (m *MemoryStore) SavePolicy(ctx context.Context, policy models.ApprovalPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policy.Stage] = policy
	return nil
}

func (m *MemoryStore) ListPolicies(ctx context.Context) ([]models.ApprovalPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ApprovalPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

package keypool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used by the unit tests
// for selector/dispatch/stream. It honors the same contract as the SQL
// backends without standing up a real database.
type MemoryRepository struct {
	mu   sync.Mutex
	keys map[string]*UpstreamKey
	logs []RequestLogEntry
	next int64
}

// NewMemoryRepository returns an empty in-memory Repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{keys: make(map[string]*UpstreamKey)}
}

func (m *MemoryRepository) Add(_ context.Context, secret, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Secret == secret {
			return "", ErrDuplicateSecret
		}
	}
	id := uuid.New().String()
	m.keys[id] = &UpstreamKey{
		ID:        id,
		Secret:    secret,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*UpstreamKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (m *MemoryRepository) GetBySecret(_ context.Context, secret string) (*UpstreamKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Secret == secret {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) ListAll(_ context.Context) ([]UpstreamKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.snapshotAll()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) ListPaginated(_ context.Context, page, pageSize int, statusFilter Status) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	all := m.snapshotAll()
	if statusFilter != "" {
		filtered := all[:0]
		for _, k := range all {
			if k.Status == statusFilter {
				filtered = append(filtered, k)
			}
		}
		all = filtered
	}
	sort.Slice(all, func(i, j int) bool {
		ai, aj := all[i].LastUsedAt, all[j].LastUsedAt
		if ai == nil && aj == nil {
			return false
		}
		if ai == nil {
			return false
		}
		if aj == nil {
			return true
		}
		return ai.After(*aj)
	})
	total := len(all)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return Page{Items: append([]UpstreamKey{}, all[start:end]...), Total: total}, nil
}

// ListActive returns Active keys ordered coldest-first (nulls first).
func (m *MemoryRepository) ListActive(_ context.Context, limit int) ([]UpstreamKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []UpstreamKey
	for _, k := range m.keys {
		if k.Status == StatusActive {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastUsedAt, out[j].LastUsedAt
		if ai == nil && aj == nil {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if ai == nil {
			return true
		}
		if aj == nil {
			return false
		}
		return ai.Before(*aj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) SetStatus(_ context.Context, id string, status Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return false, nil
	}
	k.Status = status
	return true, nil
}

func (m *MemoryRepository) SetName(_ context.Context, id, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return false, nil
	}
	k.Name = name
	return true, nil
}

func (m *MemoryRepository) TouchLastUsed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return true, nil
}

func (m *MemoryRepository) IncrementTotalRequests(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return false, nil
	}
	k.TotalRequests++
	return true, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func (m *MemoryRepository) AppendLog(_ context.Context, keyID, model, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.logs = append(m.logs, RequestLogEntry{
		ID: m.next, KeyID: keyID, Timestamp: time.Now().UTC(), Model: model, Outcome: outcome,
	})
	return nil
}

func (m *MemoryRepository) StatsSnapshot(_ context.Context) (StatsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s StatsSnapshot
	now := time.Now().UTC()
	for _, k := range m.keys {
		s.TotalAllTime += k.TotalRequests
		s.Total++
		switch k.Status {
		case StatusActive:
			s.Active++
		case StatusInactive:
			s.Inactive++
		case StatusRevoked:
			s.Revoked++
		}
	}
	for _, l := range m.logs {
		age := now.Sub(l.Timestamp)
		if age <= time.Minute {
			s.Usage1m++
		}
		if age <= time.Hour {
			s.Usage1h++
		}
		if age <= 24*time.Hour {
			s.Usage24h++
		}
	}
	return s, nil
}

func (m *MemoryRepository) PruneLogs(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var pruned int64
	for _, l := range m.logs {
		if l.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return pruned, nil
}

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) snapshotAll() []UpstreamKey {
	out := make([]UpstreamKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, *k)
	}
	return out
}

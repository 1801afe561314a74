package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/aziende/editorbridge/internal/document"
)

// MemoryRepo is an in-memory Document Store used for unit tests and local
// development. A single mutex serializes commits, which gives the same
// read-modify-write guarantee the SQL store gets from row locks.
type MemoryRepo struct {
	mu       sync.RWMutex
	store    map[string]*document.Document
	versions map[string][]*document.Version
	now      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		store:    make(map[string]*document.Document),
		versions: make(map[string][]*document.Version),
		now:      time.Now,
	}
}

func (m *MemoryRepo) Create(_ context.Context, doc *document.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = xid.New().String()
	}
	if _, exists := m.store[doc.ID]; exists {
		return "", document.ErrIntegrity
	}
	if doc.Version < 1 {
		doc.Version = 1
	}
	doc.CreatedAt = m.now().UTC()
	doc.UpdatedAt = doc.CreatedAt
	m.store[doc.ID] = doc.Clone()
	return doc.ID, nil
}

func (m *MemoryRepo) Get(_ context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) List(_ context.Context, tenant string) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Document, 0, len(m.store))
	for _, d := range m.store {
		if tenant != "" && d.Tenant != "" && d.Tenant != tenant {
			continue
		}
		cp := d.Clone()
		cp.Content = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryRepo) CommitContent(_ context.Context, id string, c document.Commit) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !d.Changes(c) {
		return d.Clone(), nil
	}
	if snap := d.Apply(c, m.now().UTC()); snap != nil {
		m.versions[id] = append(m.versions[id], snap)
	}
	return d.Clone(), nil
}

func (m *MemoryRepo) ListVersions(_ context.Context, id string) ([]*document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.store[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]*document.Version, 0, len(m.versions[id]))
	for _, v := range m.versions[id] {
		cp := *v
		cp.Content = append([]byte(nil), v.Content...)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepo) GetVersion(_ context.Context, id string, version int64) (*document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions[id] {
		if v.Version == version {
			cp := *v
			cp.Content = append([]byte(nil), v.Content...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) Ping(context.Context) error { return nil }

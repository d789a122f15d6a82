package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/PaperDrop/internal/model"
)

// MemoryStore keeps users, papers and questions in maps guarded by an
// RWMutex: many concurrent readers, a single writer.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]string
	papers    map[string]*model.Paper
	questions map[string][]*model.Question
	// byClientID maps paperID+clientID to the stored question so repeated
	// writes of the same item are idempotent.
	byClientID map[string]*model.Question
}

// NewMemoryStore constructs a MemoryStore seeded with users (name → password).
func NewMemoryStore(users map[string]string) *MemoryStore {
	return &MemoryStore{
		users:      copyUsers(users),
		papers:     make(map[string]*model.Paper),
		questions:  make(map[string][]*model.Question),
		byClientID: make(map[string]*model.Question),
	}
}

// Authenticate checks a username/password pair.
func (m *MemoryStore) Authenticate(_ context.Context, username, password string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return checkPassword(m.users, username, password)
}

// CreatePaper stores a new paper and assigns its ID.
func (m *MemoryStore) CreatePaper(_ context.Context, meta model.PaperMeta) (*model.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := meta.Paper()
	p.ID = uuid.NewString()
	// time.Now returns local time; calling UTC standardizes timestamps for API.
	p.CreatedAt = time.Now().UTC()
	m.papers[p.ID] = &p
	out := p
	return &out, nil
}

// GetPaper returns a paper copy.
func (m *MemoryStore) GetPaper(_ context.Context, id string) (*model.Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.papers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// ListPapers returns every paper, newest first.
func (m *MemoryStore) ListPapers(_ context.Context) ([]model.Paper, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Paper, 0, len(m.papers))
	for _, p := range m.papers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AddQuestions stores items under paperID. An item whose client ID was already
// stored for the paper is returned as is instead of being duplicated.
func (m *MemoryStore) AddQuestions(_ context.Context, paperID string, items []model.ParsedItem) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[paperID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]model.Question, 0, len(items))
	now := time.Now().UTC()
	for _, item := range items {
		key := paperID + "/" + item.ID
		if item.ID != "" {
			if existing, ok := m.byClientID[key]; ok {
				out = append(out, *existing)
				continue
			}
		}
		q := &model.Question{
			ID:         uuid.NewString(),
			PaperID:    paperID,
			ClientID:   item.ID,
			ParsedItem: item,
			CreatedAt:  now,
		}
		m.questions[paperID] = append(m.questions[paperID], q)
		if item.ID != "" {
			m.byClientID[key] = q
		}
		out = append(out, *q)
	}
	return out, nil
}

// ListQuestions returns the questions of paperID in insertion order.
func (m *MemoryStore) ListQuestions(_ context.Context, paperID string) ([]model.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.papers[paperID]; !ok {
		return nil, ErrNotFound
	}
	qs := m.questions[paperID]
	out := make([]model.Question, 0, len(qs))
	for _, q := range qs {
		out = append(out, *q)
	}
	return out, nil
}

// Close is a no-op; it satisfies Store.
func (m *MemoryStore) Close() {}

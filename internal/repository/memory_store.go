package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps messages in process. Used for storage.driver=memory and
// in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[primitive.ObjectID]*domain.Message
	order []primitive.ObjectID
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[primitive.ObjectID]*domain.Message),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Insert(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	cp := *m
	s.byID[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *MemoryStore) FindConversation(_ context.Context, a, b primitive.ObjectID) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Message{}
	for _, id := range s.order {
		m, ok := s.byID[id]
		if !ok || !pairFilterMatches(m, a, b) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkDeleted(_ context.Context, id primitive.ObjectID, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.IsDeleted = true
	m.UpdatedAt = at
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) HasConversation(_ context.Context, a, b primitive.ObjectID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.byID {
		if pairFilterMatches(m, a, b) {
			return true, nil
		}
	}
	return false, nil
}

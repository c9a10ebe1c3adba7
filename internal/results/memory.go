package results

import (
	"context"
	"errors"
	"sync"
	"time"

	"meetscribe/internal/models"
)

// MemoryStore is a process-local Store. Entries expire after ttl.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*models.SummaryResult
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{
		items: make(map[string]*models.SummaryResult),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, result *models.SummaryResult) error {
	if result == nil || result.ID == "" {
		return errors.New("result id is required")
	}
	stored := result.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = stored.CreatedAt.Add(s.ttl)
	}
	s.mu.Lock()
	s.items[stored.ID] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.SummaryResult, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(item.ExpiresAt) {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, item := range s.items {
		if !now.Before(item.ExpiresAt) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// StartJanitor purges expired entries every interval until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Purge()
			}
		}
	}()
}

package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage implements Storage with an in-process map. Used by
// tests and by simulate endpoints that must not touch durable state.
type MemoryStorage struct {
	mu       sync.RWMutex
	entities map[string]*memoryEntity
}

type memoryEntity struct {
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStorage creates an in-memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entities: make(map[string]*memoryEntity),
	}
}

func memKey(orgID, kind, id string) string {
	return orgID + "/" + kind + "/" + id
}

func (s *MemoryStorage) Connect() error { return nil }
func (s *MemoryStorage) Close() error   { return nil }
func (s *MemoryStorage) Ping() error    { return nil }
func (s *MemoryStorage) Migrate() error { return nil }

// Put inserts or replaces an entity document
func (s *MemoryStorage) Put(ctx context.Context, orgID, kind, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)

	now := time.Now().UTC()
	if existing, ok := s.entities[memKey(orgID, kind, id)]; ok {
		existing.data = cp
		existing.updatedAt = now
		return nil
	}
	s.entities[memKey(orgID, kind, id)] = &memoryEntity{data: cp, createdAt: now, updatedAt: now}
	return nil
}

// Get fetches one entity document
func (s *MemoryStorage) Get(ctx context.Context, orgID, kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[memKey(orgID, kind, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(entity.data))
	copy(cp, entity.data)
	return cp, nil
}

// List fetches all entity documents of a kind for an organization,
// ordered by creation time.
func (s *MemoryStorage) List(ctx context.Context, orgID, kind string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := orgID + "/" + kind + "/"
	type row struct {
		data      []byte
		createdAt time.Time
	}
	var rows []row
	for key, entity := range s.entities {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			cp := make([]byte, len(entity.data))
			copy(cp, entity.data)
			rows = append(rows, row{data: cp, createdAt: entity.createdAt})
		}
	}
	// Insertion-order sort keeps List deterministic for tests.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].createdAt.Before(rows[j-1].createdAt); j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	results := make([][]byte, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.data)
	}
	return results, nil
}

// Delete removes one entity document
func (s *MemoryStorage) Delete(ctx context.Context, orgID, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(orgID, kind, id)
	if _, ok := s.entities[key]; !ok {
		return ErrNotFound
	}
	delete(s.entities, key)
	return nil
}

// GetStats returns storage statistics
func (s *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &StorageStats{EntitiesByKind: make(map[string]int64)}
	orgs := make(map[string]struct{})
	for key, entity := range s.entities {
		stats.TotalEntities++

		var orgEnd, kindEnd int
		for i := 0; i < len(key); i++ {
			if key[i] == '/' {
				if orgEnd == 0 {
					orgEnd = i
				} else {
					kindEnd = i
					break
				}
			}
		}
		orgs[key[:orgEnd]] = struct{}{}
		stats.EntitiesByKind[key[orgEnd+1:kindEnd]]++

		if stats.OldestEntity == nil || entity.createdAt.Before(*stats.OldestEntity) {
			t := entity.createdAt
			stats.OldestEntity = &t
		}
		if stats.LatestEntity == nil || entity.createdAt.After(*stats.LatestEntity) {
			t := entity.createdAt
			stats.LatestEntity = &t
		}
	}
	stats.Organizations = int64(len(orgs))
	return stats, nil
}

// GetHealth returns storage health information
func (s *MemoryStorage) GetHealth() *StorageHealth {
	return &StorageHealth{Healthy: true}
}

// Cleanup removes entities of a kind older than the given time
func (s *MemoryStorage) Cleanup(ctx context.Context, kind string, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entity := range s.entities {
		if entity.createdAt.Before(olderThan) {
			var orgEnd, kindEnd int
			for i := 0; i < len(key); i++ {
				if key[i] == '/' {
					if orgEnd == 0 {
						orgEnd = i
					} else {
						kindEnd = i
						break
					}
				}
			}
			if key[orgEnd+1:kindEnd] == kind {
				delete(s.entities, key)
				removed++
			}
		}
	}
	return removed, nil
}

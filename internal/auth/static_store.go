package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StaticStore keeps keys in memory, keyed by hash. It backs API_KEYS.
type StaticStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

func NewStaticStore(keys []string) *StaticStore {
	s := &StaticStore{keys: make(map[string]*APIKey, len(keys))}
	now := time.Now()
	for _, k := range keys {
		if k == "" {
			continue
		}
		hash := HashKey(k)
		s.keys[hash] = &APIKey{
			ID:        hash[:16],
			Owner:     "static",
			KeyHash:   hash,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s
}

func (s *StaticStore) GetByKey(ctx context.Context, key string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[HashKey(key)]
	if !ok || !k.Active {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *StaticStore) Create(ctx context.Context, apiKey *APIKey) error {
	if apiKey.KeyHash == "" {
		return errors.New("key_hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[apiKey.KeyHash]; ok {
		return ErrKeyExists
	}
	apiKey.ID = apiKey.KeyHash[:16]
	apiKey.CreatedAt = time.Now()
	cp := *apiKey
	s.keys[apiKey.KeyHash] = &cp
	return nil
}

func (s *StaticStore) Revoke(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == keyID {
			k.Active = false
			return nil
		}
	}
	return ErrKeyNotFound
}

package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. Suitable for tests and single
// instance local runs only.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Begin(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	entry, ok := s.entries[id]
	if ok && entry.expired(now) {
		delete(s.entries, id)
		ok = false
	}
	if !ok {
		s.entries[id] = Entry{
			Fingerprint: fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		return Outcome{Kind: OutcomeFirst}, nil
	}

	if entry.Fingerprint != fingerprint {
		return Outcome{}, ErrFingerprintMismatch
	}
	if entry.Done {
		return Outcome{Kind: OutcomeReplay, Response: entry.Response}, nil
	}
	return Outcome{Kind: OutcomeInFlight}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	entry, ok := s.entries[id]
	if ok && entry.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		entry = Entry{Fingerprint: fingerprint, CreatedAt: now}
	}

	entry.Done = true
	entry.Response = StoredResponse{
		StatusCode: resp.StatusCode,
		Header:     storableHeader(resp.Header),
		Body:       copyBody(resp.Body),
	}
	entry.ExpiresAt = now.Add(ttl)
	s.entries[id] = entry
	return nil
}

// Abandon frees the key so a retry can claim it again.
func (s *MemoryStore) Abandon(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, docID(key))
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if !entry.expired(now) {
			continue
		}
		delete(s.entries, id)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

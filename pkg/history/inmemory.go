// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps histories in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]Message)}
}

// Append implements Store.
func (s *InMemoryStore) Append(_ context.Context, sessionID string, msg Message) error {
	msg = prepare(sessionID, msg)
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg.Clone())
	s.mu.Unlock()
	return nil
}

// Messages implements Store.
func (s *InMemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.sessions[sessionID]
	out := make([]Message, len(stored))
	for i, m := range stored {
		out[i] = m.Clone()
	}
	return out, nil
}

// Sessions implements Store.
func (s *InMemoryStore) Sessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }

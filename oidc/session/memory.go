// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/oac/oidc"
)

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
//
// Supported options: WithNow
func NewMemoryStore(opt ...oidc.Option) *MemoryStore {
	opts := getStoreOpts(opt...)
	return &MemoryStore{
		sessions: map[string]memoryEntry{},
		now:      opts.withNowFunc,
	}
}

// Get implements Store.Get.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	const op = "MemoryStore.Get"
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: session: %w", op, oidc.ErrNotFound)
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.sessions, id)
		return nil, fmt.Errorf("%s: session expired: %w", op, oidc.ErrNotFound)
	}
	return e.session.Clone(), nil
}

// Set implements Store.Set. A zero ttl keeps the session until deleted.
func (m *MemoryStore) Set(_ context.Context, s *Session, ttl time.Duration) error {
	const op = "MemoryStore.Set"
	if s == nil || s.ID == "" {
		return fmt.Errorf("%s: session id is required: %w", op, oidc.ErrInvalidParameter)
	}
	e := memoryEntry{session: s.Clone()}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = e
	return nil
}

// Delete implements Store.Delete.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns how many sessions are held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-smit/marketplace-mcp/internal/kv"
)

// DefaultSessionIdleTTL is how long a session survives without traffic.
const DefaultSessionIdleTTL = 24 * time.Hour

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session represents an MCP client session.
type Session struct {
	ID              string     `json:"id"`
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      ClientInfo `json:"clientInfo"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastSeen        time.Time  `json:"lastSeen"`
}

// NewSession allocates a session with a random UUID.
func NewSession(version string, client ClientInfo, now time.Time) *Session {
	return &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: version,
		ClientInfo:      client,
		CreatedAt:       now,
		LastSeen:        now,
	}
}

// SessionStore persists sessions. Implementations expire sessions that have
// been idle longer than their configured TTL.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in process memory. It suits single
// instance deployments; expired sessions are dropped lazily on Get and in
// bulk by Reap.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
}

// NewMemorySessionStore creates a MemorySessionStore. A non-positive idleTTL
// selects DefaultSessionIdleTTL.
func NewMemorySessionStore(idleTTL time.Duration) *MemorySessionStore {
	if idleTTL <= 0 {
		idleTTL = DefaultSessionIdleTTL
	}
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *MemorySessionStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemorySessionStore) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastSeen) > s.idleTTL
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.expired(sess, s.now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	out := *sess
	return &out, nil
}

func (s *MemorySessionStore) Put(_ context.Context, sess *Session) error {
	stored := *sess
	s.mu.Lock()
	s.sessions[sess.ID] = &stored
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Reap removes every expired session and returns how many were removed.
func (s *MemorySessionStore) Reap() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// KVSessionStore keeps sessions in a kv.Store so every instance sharing the
// store sees them. Each Put renews the store TTL.
type KVSessionStore struct {
	store   kv.Store
	idleTTL time.Duration
}

// NewKVSessionStore creates a KVSessionStore. A non-positive idleTTL selects
// DefaultSessionIdleTTL.
func NewKVSessionStore(store kv.Store, idleTTL time.Duration) *KVSessionStore {
	if idleTTL <= 0 {
		idleTTL = DefaultSessionIdleTTL
	}
	return &KVSessionStore{store: store, idleTTL: idleTTL}
}

func sessionKey(id string) string { return "session:" + id }

func (s *KVSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.store.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *KVSessionStore) Put(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.store.Set(ctx, sessionKey(sess.ID), raw, s.idleTTL); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *KVSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Package session holds the per-login state of a user: identity and the
// working set of expense rows built up during the session.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moneymap/internal/cache"
	"moneymap/internal/core"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrIndexOutOfRange  = errors.New("working set index out of range")
)

// Session is an authenticated login. The working set is guarded by the
// session's own mutex so concurrent requests on one login stay consistent.
type Session struct {
	Token     string
	UserID    int64
	Username  string
	CreatedAt time.Time

	mu      sync.Mutex
	working []core.Expense
}

// Rows returns a copy of the working set in insertion order.
func (s *Session) Rows() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Expense, len(s.working))
	copy(out, s.working)
	return out
}

// Len returns the number of working-set rows.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.working)
}

// Append adds a row to the end of the working set.
func (s *Session) Append(e core.Expense) {
	s.mu.Lock()
	s.working = append(s.working, e)
	s.mu.Unlock()
}

// Replace swaps the whole working set for rows.
func (s *Session) Replace(rows []core.Expense) {
	cp := make([]core.Expense, len(rows))
	copy(cp, rows)
	s.mu.Lock()
	s.working = cp
	s.mu.Unlock()
}

// RemoveID drops every row carrying id and returns how many were removed.
// Rows without an id (0) are never matched.
func (s *Session) RemoveID(id int64) int {
	if id == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.working[:0]
	removed := 0
	for _, e := range s.working {
		if e.ID == id {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped rows are not retained by the backing array.
	for i := len(kept); i < len(s.working); i++ {
		s.working[i] = core.Expense{}
	}
	s.working = kept
	return removed
}

// RemoveAt drops the row at index i and returns it.
func (s *Session) RemoveAt(i int) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.working) {
		return core.Expense{}, fmt.Errorf("remove row %d of %d: %w", i, len(s.working), ErrIndexOutOfRange)
	}
	e := s.working[i]
	s.working = append(s.working[:i], s.working[i+1:]...)
	return e, nil
}

// At returns the working-set row at index i without removing it.
func (s *Session) At(i int) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.working) {
		return core.Expense{}, fmt.Errorf("row %d of %d: %w", i, len(s.working), ErrIndexOutOfRange)
	}
	return s.working[i], nil
}

// Reset discards the working set.
func (s *Session) Reset() {
	s.mu.Lock()
	s.working = nil
	s.mu.Unlock()
}

// Store keeps live sessions keyed by token. Idle sessions expire after the
// configured TTL and the least recently used one is dropped at capacity.
type Store struct {
	sessions *cache.LRUCache[*Session]
}

// NewStore creates a session store holding at most maxSessions logins.
func NewStore(maxSessions int, ttl time.Duration) *Store {
	return &Store{
		sessions: cache.NewLRUCache[*Session](maxSessions, ttl,
			cache.WithSlidingExpiry[*Session](),
			cache.WithEvictCallback(func(_ string, s *Session) {
				s.Reset()
				slog.Debug("Session ended", "user_id", s.UserID, "username", s.Username)
			}),
		),
	}
}

// Create starts a new session for a user with an empty working set.
func (st *Store) Create(userID int64, username string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	s := &Session{
		Token:     token,
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	st.sessions.Set(token, s)
	return s, nil
}

// Get looks up a live session by token.
func (st *Store) Get(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	return st.sessions.Get(token)
}

// Destroy ends a session, discarding its working set. It reports whether
// the token belonged to a live session.
func (st *Store) Destroy(token string) bool {
	if token == "" {
		return false
	}
	return st.sessions.Delete(token)
}

// Size returns the number of live sessions.
func (st *Store) Size() int {
	return st.sessions.Size()
}

// Cleaner exposes the underlying cache for periodic expiry.
func (st *Store) Cleaner() cache.Cleaner {
	return st.sessions
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type ctxKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, or ErrNotAuthenticated.
func FromContext(ctx context.Context) (*Session, error) {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok && s != nil {
		return s, nil
	}
	return nil, ErrNotAuthenticated
}

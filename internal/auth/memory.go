package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"fleetwire.org/internal/ids"
)

var (
	_ UserStore         = (*MemoryUserStore)(nil)
	_ RefreshTokenStore = (*MemoryRefreshTokenStore)(nil)
)

// MemoryUserStore is an in-memory UserStore used in tests and local
// development without a database.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrAlreadyExists
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryUserStore) IncrementTokenVersion(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.TokenVersion++
	u.UpdatedAt = time.Now().UTC()
	return u.TokenVersion, nil
}

func (s *MemoryUserStore) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastSeenAt = &t
	return nil
}

// SetActive flips the account flag; handy for deactivation tests.
func (s *MemoryUserStore) SetActive(userID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.IsActive = active
	}
}

type ledgerKey struct{ userID, jti string }

// MemoryRefreshTokenStore is an in-memory refresh ledger with the same
// semantics as the Postgres implementation.
type MemoryRefreshTokenStore struct {
	mu   sync.RWMutex
	recs map[ledgerKey]*RefreshTokenRecord
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{recs: make(map[ledgerKey]*RefreshTokenRecord)}
}

func (s *MemoryRefreshTokenStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey{rec.UserID, rec.JTI}
	if _, ok := s.recs[key]; ok {
		return ErrAlreadyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.recs[key] = &cp
	return nil
}

func (s *MemoryRefreshTokenStore) Find(ctx context.Context, userID, jti string) (*RefreshTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[ledgerKey{userID, jti}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryRefreshTokenStore) RevokeOne(ctx context.Context, userID, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[ledgerKey{userID, jti}]; ok && rec.RevokedAt == nil {
		now := time.Now().UTC()
		rec.RevokedAt = &now
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for key, rec := range s.recs {
		if key.userID == userID && rec.RevokedAt == nil {
			rec.RevokedAt = &now
		}
	}
	return nil
}

// LiveCount reports how many unrevoked rows a user holds.
func (s *MemoryRefreshTokenStore) LiveCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key, rec := range s.recs {
		if key.userID == userID && rec.RevokedAt == nil {
			n++
		}
	}
	return n
}

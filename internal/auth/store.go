package auth

import (
	"context"
	"time"
)

// UserStore is the credential-store boundary.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	// IncrementTokenVersion atomically bumps the per-user version and
	// returns the new value. The version never decreases.
	IncrementTokenVersion(ctx context.Context, userID string) (int64, error)
	UpdateLastSeen(ctx context.Context, userID string, at time.Time) error
}

// RefreshTokenStore is the refresh-token ledger boundary.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	Find(ctx context.Context, userID, jti string) (*RefreshTokenRecord, error)
	RevokeOne(ctx context.Context, userID, jti string) error
	RevokeAll(ctx context.Context, userID string) error
}

package auth

import "time"

// Role is the dashboard role carried in tokens and checked by route guards.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleDriver  Role = "driver"
)

// Valid reports whether the role is one of the known dashboard roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleDriver:
		return true
	}
	return false
}

// User is the credential-store record. TokenVersion only ever increases;
// bumping it invalidates every token issued before the bump.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	TokenVersion int64
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SafeUser is the projection returned to clients. It never carries the
// password hash or the token version.
type SafeUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Safe returns the client-visible projection of the user.
func (u *User) Safe() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// RefreshTokenRecord is a ledger row for one issued refresh token. The raw
// token is never persisted; only its digest is. The pair (UserID, JTI) is
// unique.
type RefreshTokenRecord struct {
	UserID    string
	JTI       string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// ClientMeta captures where a session was opened from, recorded on ledger rows.
type ClientMeta struct {
	IP        string
	UserAgent string
}

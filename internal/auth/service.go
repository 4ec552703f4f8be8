package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"fleetwire.org/internal/obs"
)

// Service orchestrates login, refresh rotation, logout and global
// revocation over the user store and the refresh-token ledger.
//
// Per (user, jti) a ledger row moves ISSUED -> ROTATED, REVOKED or EXPIRED;
// the terminal states are absorbing. Rotation is single-use: a second
// presentation of a consumed refresh token is treated as theft and revokes
// every live session for that user.
type Service struct {
	users  UserStore
	tokens RefreshTokenStore
	codec  *Codec
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a session Service.
func NewService(users UserStore, tokens RefreshTokenStore, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil || codec == nil {
		return nil, errors.New("auth: users, tokens and codec are required")
	}
	s := &Service{
		users:  users,
		tokens: tokens,
		codec:  codec,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TokenPair carries a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Login authenticates credentials and opens a new session. Wrong email and
// wrong password are deliberately indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	// Deactivation is only disclosed to a caller holding valid credentials;
	// everyone else sees the uniform rejection.
	if !user.IsActive {
		return TokenPair{}, nil, ErrAccountDeactivated
	}
	pair, err := s.mint(ctx, user, meta)
	if err != nil {
		return TokenPair{}, nil, err
	}
	_ = s.users.UpdateLastSeen(ctx, user.ID, s.now().UTC())
	return pair, user, nil
}

// Refresh rotates the presented refresh token and issues a new pair.
//
// Any ledger-validity failure (missing row, already revoked, digest
// mismatch, expired row) is a reuse-or-tamper signal: refresh tokens are
// single-use, so a second use of a rotated token means theft or a racing
// client, and every live session for the user is revoked rather than
// guessing which one is legitimate. A token-version mismatch means the
// session predates a forced logout and triggers the same cascade. The
// cascade is silent; the caller only sees ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, presented string, meta ClientMeta) (TokenPair, error) {
	claims, err := s.codec.Verify(presented, TokenRefresh)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.users.Find(ctx, claims.Subject)
	if err != nil || !user.IsActive {
		return TokenPair{}, ErrInvalidToken
	}
	if claims.TokenVersion != user.TokenVersion {
		s.revokeAllSessions(ctx, user.ID, "stale_token_version")
		return TokenPair{}, ErrInvalidToken
	}
	rec, err := s.tokens.Find(ctx, user.ID, claims.ID)
	if err != nil || !s.recordValid(rec, presented) {
		s.revokeAllSessions(ctx, user.ID, "refresh_reuse_or_tamper")
		return TokenPair{}, ErrInvalidToken
	}
	// Consume-then-reissue: the old row is dead before the new one exists,
	// so two concurrent refreshes can never both leave a valid token behind.
	if err := s.tokens.RevokeOne(ctx, user.ID, claims.ID); err != nil {
		return TokenPair{}, err
	}
	return s.mint(ctx, user, meta)
}

// Logout revokes the single ledger row behind the presented refresh token.
// It is idempotent and never fails the caller: a garbage token, an unknown
// jti and a successful revocation are indistinguishable by design.
func (s *Service) Logout(ctx context.Context, presented string) {
	claims, err := s.codec.Verify(presented, TokenRefresh)
	if err != nil {
		return
	}
	_ = s.tokens.RevokeOne(ctx, claims.Subject, claims.ID)
}

// ChangePassword verifies the current password, stores a new hash, bumps
// the token version and revokes every refresh row. All other live sessions
// die immediately: their access tokens fail the live version check even
// before their embedded expiry passes.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if strings.TrimSpace(next) == "" {
		return ErrInvalidInput
	}
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if _, err := s.users.IncrementTokenVersion(ctx, user.ID); err != nil {
		return err
	}
	s.revokeAllSessions(ctx, user.ID, "password_change")
	return nil
}

// Authenticate validates an access token for a protected call: signature,
// expiry, account liveness and the live token-version equality. It never
// touches the ledger, keeping per-request cost to a single user lookup.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, *Claims, error) {
	claims, err := s.codec.Verify(accessToken, TokenAccess)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.users.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if !user.IsActive || claims.TokenVersion != user.TokenVersion {
		return nil, nil, ErrInvalidToken
	}
	return user, claims, nil
}

func (s *Service) mint(ctx context.Context, user *User, meta ClientMeta) (TokenPair, error) {
	jti, err := NewJTI()
	if err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := s.codec.SignAccess(user, jti)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.SignRefresh(user, jti)
	if err != nil {
		return TokenPair{}, err
	}
	rec := &RefreshTokenRecord{
		UserID:    user.ID,
		JTI:       jti,
		TokenHash: HashToken(refresh),
		ExpiresAt: refreshExp,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: s.now().UTC(),
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// recordValid applies the ledger validity rule: not revoked, not expired,
// and the presented raw token hashes to the stored digest.
func (s *Service) recordValid(rec *RefreshTokenRecord, presented string) bool {
	if rec == nil || rec.RevokedAt != nil {
		return false
	}
	if !s.now().Before(rec.ExpiresAt) {
		return false
	}
	return DigestsEqual(rec.TokenHash, HashToken(presented))
}

func (s *Service) revokeAllSessions(ctx context.Context, userID, reason string) {
	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		obs.LogEvent("refresh revocation cascade failed", map[string]any{
			"user_id": userID, "reason": reason, "error": err.Error(),
		})
		return
	}
	obs.RevocationCascade()
	obs.LogEvent("refresh revocation cascade", map[string]any{
		"user_id": userID, "reason": reason,
	})
}

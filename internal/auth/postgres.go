package auth

import (
	"context"
	"database/sql"
	"time"

	"fleetwire.org/internal/ids"
)

var (
	_ UserStore         = (*userStore)(nil)
	_ RefreshTokenStore = (*refreshTokenStore)(nil)
)

// PGStore exposes the auth stores backed by PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &refreshTokenStore{db: s.db} }

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, name, email, password_hash, role, is_active, token_version, last_seen_at, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, name, email, password_hash, role, is_active, token_version)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.IsActive, u.TokenVersion,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *userStore) IncrementTokenVersion(ctx context.Context, userID string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`update users set token_version = token_version + 1, updated_at=now()
		 where id=$1 returning token_version`, userID)
	var version int64
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return version, nil
}

func (s *userStore) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_seen_at=$2 where id=$1`, userID, at)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u        User
		role     string
		lastSeen sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role,
		&u.IsActive, &u.TokenVersion, &lastSeen, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeenAt = &t
	}
	return &u, nil
}

// Refresh-token ledger ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(user_id, jti, token_hash, expires_at, ip, user_agent)
		 values($1,$2,$3,$4,$5,$6)`,
		rec.UserID, rec.JTI, rec.TokenHash, rec.ExpiresAt, rec.IP, rec.UserAgent,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, userID, jti string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, jti, token_hash, expires_at, revoked_at, ip, user_agent, created_at
		 from refresh_tokens where user_id=$1 and jti=$2`, userID, jti)
	var (
		rec     RefreshTokenRecord
		revoked sql.NullTime
	)
	err := row.Scan(&rec.UserID, &rec.JTI, &rec.TokenHash, &rec.ExpiresAt,
		&revoked, &rec.IP, &rec.UserAgent, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

func (s *refreshTokenStore) RevokeOne(ctx context.Context, userID, jti string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=now()
		 where user_id=$1 and jti=$2 and revoked_at is null`, userID, jti)
	return err
}

func (s *refreshTokenStore) RevokeAll(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=now()
		 where user_id=$1 and revoked_at is null`, userID)
	return err
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

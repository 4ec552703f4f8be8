package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "fleetwire"
	defaultAudience = "fleetwire-clients"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenKind distinguishes the two token families. Each kind is signed with
// its own secret, so a leaked access token cannot be replayed as a refresh
// token.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the signed payload shared by access and refresh tokens.
// Subject carries the user id, ID the jti. TokenVersion is a snapshot of the
// user's version at issuance time and is compared against the live value on
// every authenticated call.
type Claims struct {
	Role         Role      `json:"role"`
	TokenVersion int64     `json:"token_version"`
	TokenType    TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access/refresh tokens. It is stateless; all
// session state lives in the user record and the refresh ledger.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec) error

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		if s := strings.TrimSpace(issuer); s != "" {
			c.issuer = s
		}
		return nil
	}
}

// WithAudience overrides the audience claim.
func WithAudience(audience string) CodecOption {
	return func(c *Codec) error {
		if s := strings.TrimSpace(audience); s != "" {
			c.audience = s
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl != 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl != 0 {
			c.refreshTTL = ttl
		}
		return nil
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec constructs a Codec. Both secrets are required and must differ.
func NewCodec(accessSecret, refreshSecret string, opts ...CodecOption) (*Codec, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("auth: both access and refresh signing secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must be distinct")
	}
	c := &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        defaultIssuer,
		audience:      defaultAudience,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SignAccess signs a short-lived access token for the user under the given jti.
func (c *Codec) SignAccess(u *User, jti string) (string, time.Time, error) {
	return c.sign(u, jti, TokenAccess)
}

// SignRefresh signs a refresh token for the user under the given jti.
func (c *Codec) SignRefresh(u *User, jti string) (string, time.Time, error) {
	return c.sign(u, jti, TokenRefresh)
}

func (c *Codec) sign(u *User, jti string, kind TokenKind) (string, time.Time, error) {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	if strings.TrimSpace(jti) == "" {
		return "", time.Time{}, errors.New("auth: jti is required")
	}
	now := c.now().UTC()
	exp := now.Add(c.ttl(kind))
	claims := Claims{
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		TokenType:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			Subject:   u.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret(kind))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience, expiry and the token family,
// then returns the decoded claims. Failures map to ErrTokenMalformed,
// ErrTokenExpired or ErrTokenSignature.
func (c *Codec) Verify(raw string, kind TokenKind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMalformed
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret(kind), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		default:
			return nil, ErrTokenMalformed
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	// Required fields must be present; arbitrary JSON shapes are rejected.
	if claims.TokenType != kind {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, ErrTokenMalformed
	}
	if !claims.Role.Valid() {
		return nil, ErrTokenMalformed
	}
	if claims.TokenVersion < 0 {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (c *Codec) secret(kind TokenKind) []byte {
	if kind == TokenRefresh {
		return c.refreshSecret
	}
	return c.accessSecret
}

func (c *Codec) ttl(kind TokenKind) time.Duration {
	if kind == TokenRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

const jtiBytes = 16

// NewJTI returns a cryptographically random, fixed-length, hex-encoded
// token identifier.
func NewJTI() (string, error) {
	buf := make([]byte, jtiBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the deterministic one-way digest persisted in the
// ledger in place of the raw refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DigestsEqual compares two token digests in constant time.
func DigestsEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDeactivated = errors.New("auth: account deactivated")
)

// ErrInvalidToken is the single coarse rejection surfaced for any token
// failure. Which check failed is never reported to callers.
var ErrInvalidToken = errors.New("auth: invalid token")

// Codec-level causes. Each unwraps to ErrInvalidToken so the session layer
// and handlers can treat rejection uniformly while tests assert the cause.
var (
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
)

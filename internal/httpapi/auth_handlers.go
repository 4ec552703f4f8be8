package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"fleetwire.org/internal/audit"
	"fleetwire.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User auth.SafeUser `json:"user"`
	auth.TokenPair
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.sessions.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.rejected", map[string]any{
			"email": strings.TrimSpace(strings.ToLower(req.Email)),
			"ip":    clientIP(r),
		})
		unauthorized(w, r)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
		"ip":      clientIP(r),
	})

	writeJSON(w, http.StatusOK, loginResponse{User: user.Safe(), TokenPair: pair})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.refresh.rejected", map[string]any{
			"ip": clientIP(r),
		})
		unauthorized(w, r)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// handleLogout always reports success: a garbage token, a missing body and
// a real revocation are indistinguishable to the caller.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req logoutRequest
	// Body is optional; decode errors are swallowed on purpose.
	if body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20)); err == nil && len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}

	if req.RefreshToken != "" {
		a.sessions.Logout(r.Context(), req.RefreshToken)
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"ip": clientIP(r),
	})

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	writeJSON(w, http.StatusOK, user.Safe())
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.sessions.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid credentials")
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.changed", map[string]any{
		"user_id": user.ID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

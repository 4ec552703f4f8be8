package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/fleet"
)

type testAPI struct {
	handler http.Handler
	users   *auth.MemoryUserStore
	tokens  *auth.MemoryRefreshTokenStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	users := auth.NewMemoryUserStore()
	tokens := auth.NewMemoryRefreshTokenStore()
	codec, err := auth.NewCodec("handler-access-secret", "handler-refresh-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	sessions, err := auth.NewService(users, tokens, codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	fleetSvc, err := fleet.NewService(fleet.NewMemoryVehicleStore(), fleet.NewMemoryOrderStore(), fleet.NewMemoryLocationStore())
	if err != nil {
		t.Fatalf("fleet.NewService: %v", err)
	}

	api := New(sessions, fleetSvc, nil, ReadyProbe{}, "test")
	return &testAPI{handler: api.Handler(), users: users, tokens: tokens}
}

func (a *testAPI) addUser(t *testing.T, email, password string, role auth.Role) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{Name: "Test User", Email: email, PasswordHash: hash, Role: role, IsActive: true}
	if err := a.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestLoginMeRefreshFlow(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, "ops@example.com", "hunter2hunter2", auth.RoleManager)

	// Bad credentials get the uniform 401.
	rr := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ops@example.com", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ops@example.com", "password": "hunter2hunter2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var login struct {
		User struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(t, rr, &login)
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("expected token pair in login response")
	}
	if login.User.Email != "ops@example.com" || login.User.Role != "manager" {
		t.Fatalf("unexpected user projection: %+v", login.User)
	}

	// /auth/me requires the access token.
	rr = api.do(t, http.MethodGet, "/auth/me", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", rr.Code)
	}
	rr = api.do(t, http.MethodGet, "/auth/me", login.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rr.Code)
	}
	var me map[string]any
	decodeBody(t, rr, &me)
	if _, leaked := me["passwordHash"]; leaked {
		t.Fatal("password hash leaked in /auth/me")
	}

	// Rotate, then confirm the old refresh token is dead.
	rr = api.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rotated struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(t, rr, &rotated)
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatal("refresh must rotate the token")
	}

	rr = api.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh: expected 401, got %d", rr.Code)
	}
	var errBody map[string]any
	decodeBody(t, rr, &errBody)
	if errBody["error"] != "invalid token" {
		t.Fatalf("unexpected 401 body: %v", errBody)
	}
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	api := newTestAPI(t)
	user := api.addUser(t, "ops@example.com", "hunter2hunter2", auth.RoleManager)

	rr := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": user.Email, "password": "hunter2hunter2",
	})
	var login struct {
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(t, rr, &login)

	for _, body := range []any{
		map[string]string{"refreshToken": login.RefreshToken},
		map[string]string{"refreshToken": login.RefreshToken}, // repeat
		map[string]string{"refreshToken": "garbage"},
		nil, // no body at all
	} {
		rr := api.do(t, http.MethodPost, "/auth/logout", "", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout: expected 200, got %d", rr.Code)
		}
	}

	rr = api.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestChangePasswordInvalidatesOldSession(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, "ops@example.com", "old password 1", auth.RoleAdmin)

	rr := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ops@example.com", "password": "old password 1",
	})
	var login struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(t, rr, &login)

	rr = api.do(t, http.MethodPut, "/auth/change-password", login.AccessToken, map[string]string{
		"currentPassword": "old password 1",
		"newPassword":     "new password 2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// The session that performed the change is gone too.
	rr = api.do(t, http.MethodGet, "/auth/me", login.AccessToken, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old access token: expected 401, got %d", rr.Code)
	}
	rr = api.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": login.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old refresh token: expected 401, got %d", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ops@example.com", "password": "new password 2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", rr.Code)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, "ops@example.com", "old password 1", auth.RoleAdmin)

	rr := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ops@example.com", "password": "old password 1",
	})
	var login struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, rr, &login)

	rr = api.do(t, http.MethodPut, "/auth/change-password", login.AccessToken, map[string]string{
		"currentPassword": "nope",
		"newPassword":     "new password 2",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHealthEndpointsArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rr := api.do(t, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

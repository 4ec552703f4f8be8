package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/fleet"
	"fleetwire.org/internal/obs"
	"fleetwire.org/internal/rt"
)

// ReadyProbe reports whether the service can take traffic (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	sessions   *auth.Service
	fleet      *fleet.Service
	gateway    *rt.Gateway
	readyProbe ReadyProbe
	version    string
}

func New(sessions *auth.Service, fleetSvc *fleet.Service, gateway *rt.Gateway, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		fleet:      fleetSvc,
		gateway:    gateway,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session endpoints
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/me", a.handleMe)
	a.mux.HandleFunc("/auth/change-password", a.handleChangePassword)

	// fleet endpoints (dashboard roles only)
	staff := RequireRole(auth.RoleAdmin, auth.RoleManager)
	a.mux.Handle("/fleet/vehicles", staff(http.HandlerFunc(a.handleVehiclesCollection)))
	a.mux.Handle("/fleet/vehicles/", staff(http.HandlerFunc(a.handleVehicleResource)))
	a.mux.Handle("/fleet/orders", staff(http.HandlerFunc(a.handleOrdersCollection)))
	a.mux.Handle("/fleet/orders/", staff(http.HandlerFunc(a.handleOrderResource)))
	a.mux.Handle("/fleet/locations", staff(http.HandlerFunc(a.handleLocations)))
	a.mux.Handle("/fleet/my/orders", RequireRole(auth.RoleDriver)(http.HandlerFunc(a.handleMyOrders)))

	// realtime handshake; the gateway does its own token verification
	if gateway != nil {
		a.mux.HandleFunc("/ws", gateway.HandleWS)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = RateLimit(h, 40, 20, "/auth/")
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "fleetwire-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "fleetwire-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

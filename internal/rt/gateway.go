package rt

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/fleet"
	"fleetwire.org/internal/obs"
)

// Event names on the socket channel.
const (
	EventRiderLocation = "rider:location"
	EventFleetUpdate   = "fleet:update"
	EventOrderAssigned = "order:assigned"
)

const defaultBroadcastInterval = 5 * time.Second

// Authenticator verifies an access token the same way the HTTP layer does,
// including the live token-version check.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*auth.User, *auth.Claims, error)
}

// Recorder durably persists accepted telemetry samples.
type Recorder interface {
	Record(ctx context.Context, loc fleet.DriverLocation) error
}

// Message is the envelope read from clients.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type locationPayload struct {
	Coords struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"coords"`
	Speed   *float64 `json:"speed"`
	Heading *float64 `json:"heading"`
}

// RiderSnapshot is one driver's last known position, as broadcast to the
// manager/admin group.
type RiderSnapshot struct {
	DriverID string    `json:"driverId"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Speed    float64   `json:"speed,omitempty"`
	Heading  float64   `json:"heading,omitempty"`
	At       time.Time `json:"at"`
}

type fleetUpdate struct {
	Riders []RiderSnapshot `json:"riders"`
}

// Gateway owns the realtime state: connected clients grouped by role, the
// last-known-location cache, and a single recurring broadcast loop. It is
// handed its collaborators explicitly so tests can drive it without global
// state.
//
// Last-known entries are deliberately not cleared on disconnect: a driver's
// final position stays visible until overwritten.
type Gateway struct {
	auth     Authenticator
	recorder Recorder
	interval time.Duration
	now      func() time.Time
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	fleet   map[*client]struct{}            // admin/manager subscribers
	drivers map[string]map[*client]struct{} // private per-driver groups
	latest  map[string]RiderSnapshot

	loopOnce sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures Gateway behavior.
type Option func(*Gateway)

// WithInterval overrides the broadcast period.
func WithInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New constructs a Gateway. The recorder may be nil, in which case samples
// are held in memory only.
func New(a Authenticator, rec Recorder, opts ...Option) *Gateway {
	g := &Gateway{
		auth:     a,
		recorder: rec,
		interval: defaultBroadcastInterval,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The REST layer already locks CORS down; the handshake is
			// guarded by token verification instead of origin checks.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		fleet:   make(map[*client]struct{}),
		drivers: make(map[string]map[*client]struct{}),
		latest:  make(map[string]RiderSnapshot),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleWS upgrades an authenticated handshake. The token travels in the
// `token` query parameter because browser WebSocket clients cannot set an
// Authorization header. Verification failures are rejected with a generic
// unauthorized error before any connection state exists.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, _, err := g.auth.Authenticate(r.Context(), token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(g, conn, user.ID, user.Role)
	g.register(c)
	c.start()
}

func (g *Gateway) register(c *client) {
	g.mu.Lock()
	switch c.role {
	case auth.RoleAdmin, auth.RoleManager:
		g.fleet[c] = struct{}{}
	default:
		group, ok := g.drivers[c.userID]
		if !ok {
			group = make(map[*client]struct{})
			g.drivers[c.userID] = group
		}
		group[c] = struct{}{}
	}
	g.mu.Unlock()
	obs.ClientConnected()
	obs.LogEvent("realtime client connected", map[string]any{
		"user_id": c.userID, "role": string(c.role),
	})
}

func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	removed := false
	if _, ok := g.fleet[c]; ok {
		delete(g.fleet, c)
		removed = true
	}
	if group, ok := g.drivers[c.userID]; ok {
		if _, member := group[c]; member {
			delete(group, c)
			removed = true
			if len(group) == 0 {
				delete(g.drivers, c.userID)
			}
		}
	}
	if removed {
		close(c.send)
	}
	g.mu.Unlock()
	if removed {
		obs.ClientDisconnected()
	}
}

func (g *Gateway) handleMessage(c *client, msg Message) {
	switch msg.Type {
	case EventRiderLocation:
		g.ingest(c, msg.Data)
	}
	// Unknown event types are ignored.
}

// ingest validates one telemetry sample. Malformed payloads are dropped
// without surfacing anything to the sender; bad telemetry must never take
// the stream down.
func (g *Gateway) ingest(c *client, raw json.RawMessage) {
	if c.role != auth.RoleDriver {
		obs.LocationSampleDropped()
		return
	}
	var p locationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		obs.LocationSampleDropped()
		return
	}
	if p.Coords.Lat == nil || p.Coords.Lng == nil {
		obs.LocationSampleDropped()
		return
	}
	lat, lng := *p.Coords.Lat, *p.Coords.Lng
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		obs.LocationSampleDropped()
		return
	}
	snap := RiderSnapshot{
		DriverID: c.userID,
		Lat:      lat,
		Lng:      lng,
		At:       g.now().UTC(),
	}
	if p.Speed != nil {
		snap.Speed = *p.Speed
	}
	if p.Heading != nil {
		snap.Heading = *p.Heading
	}

	g.mu.Lock()
	g.latest[c.userID] = snap
	g.mu.Unlock()
	obs.LocationSampleAccepted()

	if g.recorder != nil {
		loc := fleet.DriverLocation{
			DriverID:   snap.DriverID,
			Lat:        snap.Lat,
			Lng:        snap.Lng,
			SpeedKPH:   snap.Speed,
			Heading:    snap.Heading,
			RecordedAt: snap.At,
		}
		if err := g.recorder.Record(context.Background(), loc); err != nil {
			obs.LogEvent("location record failed", map[string]any{
				"driver_id": snap.DriverID, "error": err.Error(),
			})
		}
	}

	g.startLoop()
}

// startLoop launches the broadcast ticker on the first accepted sample.
// At most one loop ever runs per Gateway.
func (g *Gateway) startLoop() {
	g.loopOnce.Do(func() {
		obs.LogEvent("fleet broadcast loop started", map[string]any{
			"interval": g.interval.String(),
		})
		go g.run()
	})
}

func (g *Gateway) run() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.broadcast()
		}
	}
}

func (g *Gateway) broadcast() {
	riders := g.Snapshot()
	if len(riders) == 0 {
		return
	}
	msg := outMessage{Type: EventFleetUpdate, Data: fleetUpdate{Riders: riders}}

	g.mu.RLock()
	for c := range g.fleet {
		select {
		case c.send <- msg:
		default:
			// Drop when the subscriber is slow to avoid blocking the loop.
		}
	}
	g.mu.RUnlock()
	obs.FleetBroadcast()
}

// Snapshot returns the latest per-driver samples ordered by driver id.
func (g *Gateway) Snapshot() []RiderSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	riders := make([]RiderSnapshot, 0, len(g.latest))
	for _, snap := range g.latest {
		riders = append(riders, snap)
	}
	sort.Slice(riders, func(i, j int) bool { return riders[i].DriverID < riders[j].DriverID })
	return riders
}

// NotifyDriver delivers an event to one driver's private group only.
func (g *Gateway) NotifyDriver(driverID, event string, data any) {
	msg := outMessage{Type: event, Data: data}
	g.mu.RLock()
	for c := range g.drivers[driverID] {
		select {
		case c.send <- msg:
		default:
		}
	}
	g.mu.RUnlock()
}

// ClientCount returns the number of connected clients across all groups.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := len(g.fleet)
	for _, group := range g.drivers {
		n += len(group)
	}
	return n
}

// Close stops the broadcast loop. Connected clients shut down through
// their own read/write pumps.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
}

package rt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/fleet"
)

// tokenAuth maps opaque test tokens straight to users, standing in for the
// real session service.
type tokenAuth struct {
	users map[string]*auth.User
}

func (a *tokenAuth) Authenticate(ctx context.Context, token string) (*auth.User, *auth.Claims, error) {
	u, ok := a.users[token]
	if !ok {
		return nil, nil, auth.ErrInvalidToken
	}
	return u, &auth.Claims{Role: u.Role}, nil
}

type gatewayFixture struct {
	gw       *Gateway
	server   *httptest.Server
	recorder *fleet.MemoryLocationStore
}

func newGatewayFixture(t *testing.T, opts ...Option) *gatewayFixture {
	t.Helper()
	authn := &tokenAuth{users: map[string]*auth.User{
		"driver-token":  {ID: "driver-1", Role: auth.RoleDriver, IsActive: true},
		"driver2-token": {ID: "driver-2", Role: auth.RoleDriver, IsActive: true},
		"manager-token": {ID: "manager-1", Role: auth.RoleManager, IsActive: true},
	}}
	recorder := fleet.NewMemoryLocationStore()
	gw := New(authn, recorder, opts...)

	server := httptest.NewServer(http.HandlerFunc(gw.HandleWS))
	t.Cleanup(func() {
		gw.Close()
		server.Close()
	})
	return &gatewayFixture{gw: gw, server: server, recorder: recorder}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func sendLocation(t *testing.T, conn *websocket.Conn, lat, lng float64) {
	t.Helper()
	msg := map[string]any{
		"type": EventRiderLocation,
		"data": map[string]any{
			"coords": map[string]any{"lat": lat, "lng": lng},
			"speed":  32.5,
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write location: %v", err)
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	f := newGatewayFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
	if f.gw.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", f.gw.ClientCount())
	}

	// No token at all behaves the same.
	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.server.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestDriverTelemetryUpdatesSnapshotAndRecorder(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "driver-token")

	waitFor(t, func() bool { return f.gw.ClientCount() == 1 }, "driver never registered")

	sendLocation(t, conn, 52.37, 4.89)

	waitFor(t, func() bool { return len(f.gw.Snapshot()) == 1 }, "snapshot never updated")
	snap := f.gw.Snapshot()[0]
	if snap.DriverID != "driver-1" || snap.Lat != 52.37 || snap.Lng != 4.89 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Speed != 32.5 {
		t.Fatalf("speed = %v, want 32.5", snap.Speed)
	}

	waitFor(t, func() bool { return f.recorder.SampleCount() == 1 }, "sample never recorded")
}

func TestInvalidTelemetryIsDropped(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "driver-token")
	waitFor(t, func() bool { return f.gw.ClientCount() == 1 }, "driver never registered")

	payloads := []string{
		`{"type":"rider:location","data":{"coords":{"lat":"52.3","lng":"4.8"}}}`, // non-numeric
		`{"type":"rider:location","data":{"coords":{"lng":4.8}}}`,                // missing lat
		`{"type":"rider:location","data":{"coords":{"lat":91,"lng":4.8}}}`,       // lat out of range
		`{"type":"rider:location","data":{"coords":{"lat":52.3,"lng":181}}}`,     // lng out of range
		`{"type":"something:else","data":{}}`,                                    // unknown event
	}
	for _, p := range payloads {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// A valid sample after the garbage proves the connection survived.
	sendLocation(t, conn, 52.37, 4.89)
	waitFor(t, func() bool { return len(f.gw.Snapshot()) == 1 }, "valid sample after garbage never landed")

	snap := f.gw.Snapshot()[0]
	if snap.Lat != 52.37 || snap.Lng != 4.89 {
		t.Fatalf("a dropped sample leaked into the snapshot: %+v", snap)
	}
	waitFor(t, func() bool { return f.recorder.SampleCount() == 1 }, "valid sample never recorded")
}

func TestNonDriverTelemetryIsIgnored(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "manager-token")
	waitFor(t, func() bool { return f.gw.ClientCount() == 1 }, "manager never registered")

	sendLocation(t, conn, 52.37, 4.89)

	time.Sleep(50 * time.Millisecond)
	if len(f.gw.Snapshot()) != 0 {
		t.Fatalf("manager telemetry must not enter the snapshot: %+v", f.gw.Snapshot())
	}
}

func TestFleetGroupReceivesBroadcast(t *testing.T) {
	f := newGatewayFixture(t, WithInterval(30*time.Millisecond))
	manager := f.dial(t, "manager-token")
	driver := f.dial(t, "driver-token")
	waitFor(t, func() bool { return f.gw.ClientCount() == 2 }, "clients never registered")

	sendLocation(t, driver, 52.37, 4.89)

	if err := manager.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Riders []RiderSnapshot `json:"riders"`
		} `json:"data"`
	}
	if err := manager.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if msg.Type != EventFleetUpdate {
		t.Fatalf("type = %q, want %q", msg.Type, EventFleetUpdate)
	}
	if len(msg.Data.Riders) != 1 || msg.Data.Riders[0].DriverID != "driver-1" {
		t.Fatalf("unexpected riders: %+v", msg.Data.Riders)
	}
}

func TestDriversDoNotReceiveFleetBroadcast(t *testing.T) {
	f := newGatewayFixture(t, WithInterval(20*time.Millisecond))
	driver := f.dial(t, "driver-token")
	other := f.dial(t, "driver2-token")
	waitFor(t, func() bool { return f.gw.ClientCount() == 2 }, "clients never registered")

	sendLocation(t, driver, 52.37, 4.89)
	waitFor(t, func() bool { return len(f.gw.Snapshot()) == 1 }, "snapshot never updated")

	if err := other.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var msg json.RawMessage
	if err := other.ReadJSON(&msg); err == nil {
		t.Fatalf("driver received a fleet broadcast: %s", msg)
	}
}

func TestNotifyDriverTargetsPrivateGroup(t *testing.T) {
	f := newGatewayFixture(t)
	driver := f.dial(t, "driver-token")
	bystander := f.dial(t, "driver2-token")
	waitFor(t, func() bool { return f.gw.ClientCount() == 2 }, "clients never registered")

	f.gw.NotifyDriver("driver-1", EventOrderAssigned, map[string]string{"orderId": "ord-1"})

	if err := driver.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var msg struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := driver.ReadJSON(&msg); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if msg.Type != EventOrderAssigned || msg.Data["orderId"] != "ord-1" {
		t.Fatalf("unexpected notification: %+v", msg)
	}

	if err := bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var stray json.RawMessage
	if err := bystander.ReadJSON(&stray); err == nil {
		t.Fatalf("bystander received private notification: %s", stray)
	}
}

func TestLastKnownLocationSurvivesDisconnect(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "driver-token")
	waitFor(t, func() bool { return f.gw.ClientCount() == 1 }, "driver never registered")

	sendLocation(t, conn, 52.37, 4.89)
	waitFor(t, func() bool { return len(f.gw.Snapshot()) == 1 }, "snapshot never updated")

	_ = conn.Close()
	waitFor(t, func() bool { return f.gw.ClientCount() == 0 }, "driver never unregistered")

	if len(f.gw.Snapshot()) != 1 {
		t.Fatal("last known location must survive disconnect")
	}
}

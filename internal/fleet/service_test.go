package fleet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryVehicleStore(), NewMemoryOrderStore(), NewMemoryLocationStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateVehicleNormalizesAndDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	v := &Vehicle{Plate: "  b 512 kl ", Model: "Ford Transit"}
	if err := svc.CreateVehicle(ctx, v); err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}
	if v.Plate != "B 512 KL" {
		t.Fatalf("plate = %q, want normalized upper-case", v.Plate)
	}
	if v.Status != VehicleActive {
		t.Fatalf("status = %q, want default %q", v.Status, VehicleActive)
	}
	if v.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestCreateVehicleValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateVehicle(ctx, &Vehicle{Model: "no plate"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing plate: got %v, want ErrInvalidInput", err)
	}
	if err := svc.CreateVehicle(ctx, &Vehicle{Plate: "X", Status: "flying"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status: got %v, want ErrInvalidInput", err)
	}
}

func TestUpdateVehiclePatchesFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	v := &Vehicle{Plate: "B 1 AA", Model: "Sprinter"}
	if err := svc.CreateVehicle(ctx, v); err != nil {
		t.Fatalf("CreateVehicle: %v", err)
	}

	status := VehicleMaintenance
	driver := "driver-7"
	got, err := svc.UpdateVehicle(ctx, v.ID, &status, &driver)
	if err != nil {
		t.Fatalf("UpdateVehicle: %v", err)
	}
	if got.Status != VehicleMaintenance || got.DriverID != "driver-7" {
		t.Fatalf("unexpected vehicle after patch: %+v", got)
	}

	// Nil fields are left untouched.
	got, err = svc.UpdateVehicle(ctx, v.ID, nil, nil)
	if err != nil {
		t.Fatalf("UpdateVehicle no-op: %v", err)
	}
	if got.Status != VehicleMaintenance || got.DriverID != "driver-7" {
		t.Fatalf("no-op patch changed vehicle: %+v", got)
	}

	if _, err := svc.UpdateVehicle(ctx, "missing", &status, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	o := &Order{Reference: "ORD-1", PickupAddress: "Dock 4", DropoffAddress: "Gate 9"}
	if err := svc.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != OrderPending {
		t.Fatalf("status = %q, want default %q", o.Status, OrderPending)
	}

	if err := svc.CreateOrder(ctx, &Order{Reference: "ORD-2"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing addresses: got %v, want ErrInvalidInput", err)
	}
}

func TestUpdateOrderAssignmentBumpsStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	o := &Order{Reference: "ORD-3", PickupAddress: "A", DropoffAddress: "B"}
	if err := svc.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	driver := "driver-1"
	got, err := svc.UpdateOrder(ctx, o.ID, nil, &driver, nil)
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if got.Status != OrderAssigned {
		t.Fatalf("status = %q, want %q after assignment", got.Status, OrderAssigned)
	}
	if got.DriverID != "driver-1" {
		t.Fatalf("driver = %q, want driver-1", got.DriverID)
	}

	mine, err := svc.OrdersForDriver(ctx, "driver-1")
	if err != nil {
		t.Fatalf("OrdersForDriver: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != o.ID {
		t.Fatalf("unexpected driver orders: %+v", mine)
	}
}

func TestRecordAndLatestLocations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Now().UTC()

	samples := []DriverLocation{
		{DriverID: "d1", Lat: 1, Lng: 1, RecordedAt: base},
		{DriverID: "d1", Lat: 2, Lng: 2, RecordedAt: base.Add(time.Minute)},
		{DriverID: "d2", Lat: 9, Lng: 9, RecordedAt: base},
	}
	for _, s := range samples {
		if err := svc.RecordLocation(ctx, s); err != nil {
			t.Fatalf("RecordLocation: %v", err)
		}
	}
	if err := svc.RecordLocation(ctx, DriverLocation{Lat: 1, Lng: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing driver id: got %v, want ErrInvalidInput", err)
	}

	latest, err := svc.LatestLocations(ctx)
	if err != nil {
		t.Fatalf("LatestLocations: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest rows = %d, want 2", len(latest))
	}
	if latest[0].DriverID != "d1" || latest[0].Lat != 2 {
		t.Fatalf("d1 latest = %+v, want the newer sample", latest[0])
	}
}

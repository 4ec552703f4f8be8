package fleet

import (
	"context"
	"errors"
	"strings"
)

// Service applies input validation over the fleet stores. Order lifecycle
// business rules live with dispatchers, not here; only shape validation is
// enforced.
type Service struct {
	vehicles  VehicleStore
	orders    OrderStore
	locations LocationStore
}

// NewService constructs a fleet Service.
func NewService(vehicles VehicleStore, orders OrderStore, locations LocationStore) (*Service, error) {
	if vehicles == nil || orders == nil || locations == nil {
		return nil, errors.New("fleet: all stores are required")
	}
	return &Service{vehicles: vehicles, orders: orders, locations: locations}, nil
}

func (s *Service) CreateVehicle(ctx context.Context, v *Vehicle) error {
	v.Plate = strings.ToUpper(strings.TrimSpace(v.Plate))
	if v.Plate == "" {
		return ErrInvalidInput
	}
	if v.Status == "" {
		v.Status = VehicleActive
	}
	if !v.Status.Valid() {
		return ErrInvalidInput
	}
	return s.vehicles.Create(ctx, v)
}

func (s *Service) Vehicle(ctx context.Context, id string) (*Vehicle, error) {
	return s.vehicles.Find(ctx, id)
}

func (s *Service) Vehicles(ctx context.Context) ([]*Vehicle, error) {
	return s.vehicles.List(ctx)
}

// UpdateVehicle patches status and driver assignment.
func (s *Service) UpdateVehicle(ctx context.Context, id string, status *VehicleStatus, driverID *string) (*Vehicle, error) {
	v, err := s.vehicles.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if status != nil {
		if !status.Valid() {
			return nil, ErrInvalidInput
		}
		v.Status = *status
	}
	if driverID != nil {
		v.DriverID = strings.TrimSpace(*driverID)
	}
	if err := s.vehicles.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) CreateOrder(ctx context.Context, o *Order) error {
	o.Reference = strings.TrimSpace(o.Reference)
	o.PickupAddress = strings.TrimSpace(o.PickupAddress)
	o.DropoffAddress = strings.TrimSpace(o.DropoffAddress)
	if o.Reference == "" || o.PickupAddress == "" || o.DropoffAddress == "" {
		return ErrInvalidInput
	}
	if o.Status == "" {
		o.Status = OrderPending
	}
	if !o.Status.Valid() {
		return ErrInvalidInput
	}
	return s.orders.Create(ctx, o)
}

func (s *Service) Order(ctx context.Context, id string) (*Order, error) {
	return s.orders.Find(ctx, id)
}

func (s *Service) Orders(ctx context.Context) ([]*Order, error) {
	return s.orders.List(ctx)
}

func (s *Service) OrdersForDriver(ctx context.Context, driverID string) ([]*Order, error) {
	return s.orders.ListByDriver(ctx, driverID)
}

// UpdateOrder patches status and assignment.
func (s *Service) UpdateOrder(ctx context.Context, id string, status *OrderStatus, driverID, vehicleID *string) (*Order, error) {
	o, err := s.orders.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if status != nil {
		if !status.Valid() {
			return nil, ErrInvalidInput
		}
		o.Status = *status
	}
	if driverID != nil {
		o.DriverID = strings.TrimSpace(*driverID)
		if o.DriverID != "" && o.Status == OrderPending {
			o.Status = OrderAssigned
		}
	}
	if vehicleID != nil {
		o.VehicleID = strings.TrimSpace(*vehicleID)
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// RecordLocation persists one telemetry sample.
func (s *Service) RecordLocation(ctx context.Context, loc DriverLocation) error {
	if strings.TrimSpace(loc.DriverID) == "" {
		return ErrInvalidInput
	}
	return s.locations.Record(ctx, loc)
}

// LatestLocations returns the most recent sample per driver.
func (s *Service) LatestLocations(ctx context.Context) ([]DriverLocation, error) {
	return s.locations.Latest(ctx)
}

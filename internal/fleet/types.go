package fleet

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("fleet: not found")
	ErrInvalidInput = errors.New("fleet: invalid input")
)

// VehicleStatus tracks a vehicle's availability.
type VehicleStatus string

const (
	VehicleActive      VehicleStatus = "active"
	VehicleMaintenance VehicleStatus = "maintenance"
	VehicleRetired     VehicleStatus = "retired"
)

func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleActive, VehicleMaintenance, VehicleRetired:
		return true
	}
	return false
}

// Vehicle is a fleet asset, optionally assigned to a driver.
type Vehicle struct {
	ID        string        `json:"id"`
	Plate     string        `json:"plate"`
	Model     string        `json:"model"`
	Status    VehicleStatus `json:"status"`
	DriverID  string        `json:"driverId,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// OrderStatus tracks a delivery order through its lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAssigned  OrderStatus = "assigned"
	OrderInTransit OrderStatus = "in_transit"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderAssigned, OrderInTransit, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Order is a delivery job.
type Order struct {
	ID             string      `json:"id"`
	Reference      string      `json:"reference"`
	Status         OrderStatus `json:"status"`
	PickupAddress  string      `json:"pickupAddress"`
	DropoffAddress string      `json:"dropoffAddress"`
	DriverID       string      `json:"driverId,omitempty"`
	VehicleID      string      `json:"vehicleId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// DriverLocation is one telemetry sample from a driver.
type DriverLocation struct {
	DriverID   string    `json:"driverId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKPH   float64   `json:"speed,omitempty"`
	Heading    float64   `json:"heading,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

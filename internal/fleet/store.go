package fleet

import "context"

// VehicleStore manages fleet assets.
type VehicleStore interface {
	Create(ctx context.Context, v *Vehicle) error
	Find(ctx context.Context, id string) (*Vehicle, error)
	List(ctx context.Context) ([]*Vehicle, error)
	Update(ctx context.Context, v *Vehicle) error
}

// OrderStore manages delivery orders.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	Find(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
	ListByDriver(ctx context.Context, driverID string) ([]*Order, error)
	Update(ctx context.Context, o *Order) error
}

// LocationStore persists driver telemetry and answers the latest-per-driver
// query backing the fleet snapshot endpoint.
type LocationStore interface {
	Record(ctx context.Context, loc DriverLocation) error
	Latest(ctx context.Context) ([]DriverLocation, error)
}

package fleet

import (
	"context"
	"database/sql"

	"fleetwire.org/internal/ids"
)

var (
	_ VehicleStore  = (*vehicleStore)(nil)
	_ OrderStore    = (*orderStore)(nil)
	_ LocationStore = (*locationStore)(nil)
)

// PGStore exposes the fleet stores backed by PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Vehicles() VehicleStore   { return &vehicleStore{db: s.db} }
func (s *PGStore) Orders() OrderStore       { return &orderStore{db: s.db} }
func (s *PGStore) Locations() LocationStore { return &locationStore{db: s.db} }

// Vehicle store -------------------------------------------------------------
type vehicleStore struct{ db *sql.DB }

func (s *vehicleStore) Create(ctx context.Context, v *Vehicle) error {
	if v.ID == "" {
		v.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into vehicles(id, plate, model, status, driver_id)
		 values($1,$2,$3,$4,nullif($5,''))`,
		v.ID, v.Plate, v.Model, string(v.Status), v.DriverID,
	)
	return err
}

func (s *vehicleStore) Find(ctx context.Context, id string) (*Vehicle, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, plate, model, status, driver_id, created_at, updated_at
		 from vehicles where id=$1`, id)
	return scanVehicle(row.Scan)
}

func (s *vehicleStore) List(ctx context.Context) ([]*Vehicle, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, plate, model, status, driver_id, created_at, updated_at
		 from vehicles order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (s *vehicleStore) Update(ctx context.Context, v *Vehicle) error {
	res, err := s.db.ExecContext(ctx,
		`update vehicles set plate=$2, model=$3, status=$4, driver_id=nullif($5,''), updated_at=now()
		 where id=$1`,
		v.ID, v.Plate, v.Model, string(v.Status), v.DriverID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func scanVehicle(scan func(dest ...any) error) (*Vehicle, error) {
	var (
		v      Vehicle
		status string
		driver sql.NullString
	)
	if err := scan(&v.ID, &v.Plate, &v.Model, &status, &driver, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v.Status = VehicleStatus(status)
	v.DriverID = driver.String
	return &v, nil
}

// Order store ---------------------------------------------------------------
type orderStore struct{ db *sql.DB }

const orderColumns = `id, reference, status, pickup_address, dropoff_address, driver_id, vehicle_id, created_at, updated_at`

func (s *orderStore) Create(ctx context.Context, o *Order) error {
	if o.ID == "" {
		o.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into orders(id, reference, status, pickup_address, dropoff_address, driver_id, vehicle_id)
		 values($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''))`,
		o.ID, o.Reference, string(o.Status), o.PickupAddress, o.DropoffAddress, o.DriverID, o.VehicleID,
	)
	return err
}

func (s *orderStore) Find(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+orderColumns+` from orders where id=$1`, id)
	return scanOrder(row.Scan)
}

func (s *orderStore) List(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+orderColumns+` from orders order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *orderStore) ListByDriver(ctx context.Context, driverID string) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+orderColumns+` from orders where driver_id=$1 order by created_at desc`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *orderStore) Update(ctx context.Context, o *Order) error {
	res, err := s.db.ExecContext(ctx,
		`update orders set status=$2, pickup_address=$3, dropoff_address=$4,
		 driver_id=nullif($5,''), vehicle_id=nullif($6,''), updated_at=now()
		 where id=$1`,
		o.ID, string(o.Status), o.PickupAddress, o.DropoffAddress, o.DriverID, o.VehicleID,
	)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func collectOrders(rows *sql.Rows) ([]*Order, error) {
	var res []*Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func scanOrder(scan func(dest ...any) error) (*Order, error) {
	var (
		o       Order
		status  string
		driver  sql.NullString
		vehicle sql.NullString
	)
	err := scan(&o.ID, &o.Reference, &status, &o.PickupAddress, &o.DropoffAddress,
		&driver, &vehicle, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = OrderStatus(status)
	o.DriverID = driver.String
	o.VehicleID = vehicle.String
	return &o, nil
}

// Location store ------------------------------------------------------------
type locationStore struct{ db *sql.DB }

func (s *locationStore) Record(ctx context.Context, loc DriverLocation) error {
	_, err := s.db.ExecContext(ctx,
		`insert into driver_locations(id, driver_id, lat, lng, speed_kph, heading, recorded_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		ids.New(), loc.DriverID, loc.Lat, loc.Lng, loc.SpeedKPH, loc.Heading, loc.RecordedAt,
	)
	return err
}

func (s *locationStore) Latest(ctx context.Context) ([]DriverLocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select distinct on (driver_id) driver_id, lat, lng, speed_kph, heading, recorded_at
		 from driver_locations order by driver_id, recorded_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []DriverLocation
	for rows.Next() {
		var loc DriverLocation
		if err := rows.Scan(&loc.DriverID, &loc.Lat, &loc.Lng, &loc.SpeedKPH, &loc.Heading, &loc.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, loc)
	}
	return res, rows.Err()
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

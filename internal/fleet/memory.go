package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetwire.org/internal/ids"
)

var (
	_ VehicleStore  = (*MemoryVehicleStore)(nil)
	_ OrderStore    = (*MemoryOrderStore)(nil)
	_ LocationStore = (*MemoryLocationStore)(nil)
)

// MemoryVehicleStore is an in-memory VehicleStore used in tests and local
// development without a database.
type MemoryVehicleStore struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
}

func NewMemoryVehicleStore() *MemoryVehicleStore {
	return &MemoryVehicleStore{vehicles: make(map[string]*Vehicle)}
}

func (s *MemoryVehicleStore) Create(ctx context.Context, v *Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = ids.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.UpdatedAt = v.CreatedAt
	cp := *v
	s.vehicles[v.ID] = &cp
	return nil
}

func (s *MemoryVehicleStore) Find(ctx context.Context, id string) (*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryVehicleStore) List(ctx context.Context) ([]*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		cp := *v
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryVehicleStore) Update(ctx context.Context, v *Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[v.ID]; !ok {
		return ErrNotFound
	}
	v.UpdatedAt = time.Now().UTC()
	cp := *v
	s.vehicles[v.ID] = &cp
	return nil
}

// MemoryOrderStore is an in-memory OrderStore.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]*Order)}
}

func (s *MemoryOrderStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryOrderStore) Find(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryOrderStore) List(ctx context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryOrderStore) ListByDriver(ctx context.Context, driverID string) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Order
	for _, o := range s.orders {
		if o.DriverID == driverID {
			cp := *o
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryOrderStore) Update(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

// MemoryLocationStore keeps all samples; Latest answers the same
// latest-per-driver query as the Postgres store.
type MemoryLocationStore struct {
	mu      sync.RWMutex
	samples []DriverLocation
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{}
}

func (s *MemoryLocationStore) Record(ctx context.Context, loc DriverLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, loc)
	return nil
}

func (s *MemoryLocationStore) Latest(ctx context.Context) ([]DriverLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]DriverLocation)
	for _, loc := range s.samples {
		if best, ok := latest[loc.DriverID]; !ok || loc.RecordedAt.After(best.RecordedAt) {
			latest[loc.DriverID] = loc
		}
	}
	res := make([]DriverLocation, 0, len(latest))
	for _, loc := range latest {
		res = append(res, loc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DriverID < res[j].DriverID })
	return res, nil
}

// SampleCount reports how many samples were recorded.
func (s *MemoryLocationStore) SampleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/repository"
)

// MemoryRepository is an in-memory Repository used by tests and the gaps
// smoke command. It enforces the same write-path constraints as the
// database-backed store: rotation spacing per route and once-per-day
// uniqueness are checked under the write lock, so concurrent creators get
// at-most-one-winner semantics.
type MemoryRepository struct {
	mu         sync.RWMutex
	routes     map[int64]model.Route
	vehicles   map[int64]model.Vehicle
	drivers    map[int64]model.Driver
	dispatches map[int64]model.Dispatch
	slots      map[int64]model.ScheduledSlot
	sanctions  []model.Sanction
	permits    []model.Permit
	nextID     int64
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		routes:     map[int64]model.Route{},
		vehicles:   map[int64]model.Vehicle{},
		drivers:    map[int64]model.Driver{},
		dispatches: map[int64]model.Dispatch{},
		slots:      map[int64]model.ScheduledSlot{},
	}
}

// Seed helpers. Zero IDs are replaced with a generated one.

func (m *MemoryRepository) AddRoute(r model.Route) model.Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.id()
	}
	m.routes[r.ID] = r
	return r
}

func (m *MemoryRepository) AddVehicle(v model.Vehicle) model.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == 0 {
		v.ID = m.id()
	}
	m.vehicles[v.ID] = v
	return v
}

func (m *MemoryRepository) AddDriver(d model.Driver) model.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.id()
	}
	m.drivers[d.ID] = d
	return d
}

func (m *MemoryRepository) AddSanction(s model.Sanction) model.Sanction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	m.sanctions = append(m.sanctions, s)
	return s
}

func (m *MemoryRepository) AddPermit(p model.Permit) model.Permit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	m.permits = append(m.permits, p)
	return p
}

func (m *MemoryRepository) AddScheduledSlot(s model.ScheduledSlot) model.ScheduledSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	m.slots[s.ID] = s
	return s
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) GetRoute(_ context.Context, id int64) (model.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[id]
	if !ok {
		return model.Route{}, &model.NotFoundError{Entity: "route", ID: id}
	}
	return r, nil
}

func (m *MemoryRepository) ListActiveRoutes(_ context.Context) ([]model.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var routes []model.Route
	for _, r := range m.routes {
		if r.Active {
			routes = append(routes, r)
		}
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func (m *MemoryRepository) GetLastDispatchForRoute(_ context.Context, routeID int64, day time.Time) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDispatchLocked(routeID, day)
}

func (m *MemoryRepository) lastDispatchLocked(routeID int64, day time.Time) (time.Time, bool, error) {
	var last time.Time
	found := false
	for _, d := range m.dispatches {
		if d.RouteID == nil || *d.RouteID != routeID || !model.SameDay(d.DepartureAt, day) {
			continue
		}
		if !found || d.DepartureAt.After(last) {
			last = d.DepartureAt
			found = true
		}
	}
	return last, found, nil
}

func (m *MemoryRepository) GetVehicle(_ context.Context, id int64) (model.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, &model.NotFoundError{Entity: "vehicle", ID: id}
	}
	return v, nil
}

func (m *MemoryRepository) GetDriver(_ context.Context, id int64) (model.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return model.Driver{}, &model.NotFoundError{Entity: "driver", ID: id}
	}
	return d, nil
}

func (m *MemoryRepository) ListSanctions(_ context.Context, subject model.SanctionSubject, subjectID int64) ([]model.Sanction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Sanction
	for _, s := range m.sanctions {
		if s.Subject == subject && s.SubjectID == subjectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryRepository) HasPermit(_ context.Context, vehicleID, driverID int64, day time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.permits {
		if p.VehicleID == vehicleID && p.DriverID == driverID && model.SameDay(p.Date, day) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) CreateDispatch(_ context.Context, d repository.NewDispatch) (model.Dispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	route, ok := m.routes[d.RouteID]
	if !ok {
		return model.Dispatch{}, &model.NotFoundError{Entity: "route", ID: d.RouteID}
	}
	day := model.DayOf(d.DepartureAt)
	last, found, _ := m.lastDispatchLocked(d.RouteID, day)
	if found && d.DepartureAt.Before(last.Add(route.Spacing())) {
		return model.Dispatch{}, model.ErrConflict
	}
	if route.OncePerDay {
		for _, existing := range m.dispatches {
			if existing.RouteID != nil && *existing.RouteID == d.RouteID &&
				existing.VehicleID == d.VehicleID && model.SameDay(existing.DepartureAt, day) {
				return model.Dispatch{}, model.ErrConflict
			}
		}
	}

	routeID := d.RouteID
	created := model.Dispatch{
		ID:          m.id(),
		VehicleID:   d.VehicleID,
		DriverID:    d.DriverID,
		RouteID:     &routeID,
		DepartureAt: d.DepartureAt,
		CreatedAt:   d.CreatedAt,
		Status:      model.StatusPending,
	}
	m.dispatches[created.ID] = created
	return created, nil
}

func (m *MemoryRepository) GetDispatch(_ context.Context, id int64) (model.Dispatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.dispatches[id]
	if !ok {
		return model.Dispatch{}, &model.NotFoundError{Entity: "dispatch", ID: id}
	}
	return d, nil
}

func (m *MemoryRepository) DeleteDispatch(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dispatches[id]; !ok {
		return &model.NotFoundError{Entity: "dispatch", ID: id}
	}
	delete(m.dispatches, id)
	return nil
}

func (m *MemoryRepository) ListDispatchesForVehicle(_ context.Context, vehicleID int64, day time.Time) ([]model.Dispatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Dispatch
	for _, d := range m.dispatches {
		if d.VehicleID == vehicleID && model.SameDay(d.DepartureAt, day) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (m *MemoryRepository) ListPendingDispatches(_ context.Context, day time.Time) ([]model.Dispatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Dispatch
	for _, d := range m.dispatches {
		if d.Status == model.StatusPending && model.SameDay(d.DepartureAt, day) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (m *MemoryRepository) ListScheduledSlotsForVehicle(_ context.Context, vehicleID int64, day time.Time) ([]model.ScheduledSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ScheduledSlot
	for _, s := range m.slots {
		id, assigned := s.Assignment.VehicleID()
		if assigned && id == vehicleID && model.SameDay(s.DepartureAt, day) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	return out, nil
}

func (m *MemoryRepository) AggregateDispatchCounts(_ context.Context, from, to time.Time, by repository.GroupBy) (map[int64]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int64]int64)
	for _, d := range m.dispatches {
		if d.DepartureAt.Before(from) || !d.DepartureAt.Before(to) {
			continue
		}
		switch by {
		case repository.GroupByHour:
			counts[int64(d.DepartureAt.Hour())]++
		case repository.GroupByVehicle:
			counts[d.VehicleID]++
		case repository.GroupByDriver:
			counts[d.DriverID]++
		case repository.GroupByRoute:
			if d.RouteID != nil {
				counts[*d.RouteID]++
			}
		}
	}
	return counts, nil
}

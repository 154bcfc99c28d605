// Package repository defines the persistence contract consumed by the
// scheduling engine. Implementations live under infra/store.
package repository

import (
	"context"
	"time"

	"github.com/sotramsa/enruta/core/model"
)

// GroupBy selects the dimension for dispatch count aggregation.
type GroupBy string

const (
	GroupByHour    GroupBy = "hour"
	GroupByVehicle GroupBy = "vehicle"
	GroupByDriver  GroupBy = "driver"
	GroupByRoute   GroupBy = "route"
)

// NewDispatch carries the fields of a dispatch about to be created.
type NewDispatch struct {
	VehicleID   int64
	DriverID    int64
	RouteID     int64
	DepartureAt time.Time
	CreatedAt   time.Time
}

// Repository is the read/write surface the engine depends on. Every method
// may return an error wrapping a storage failure; CreateDispatch
// additionally returns model.ErrConflict when a concurrent write won the
// same rotation window for the route.
type Repository interface {
	GetRoute(ctx context.Context, id int64) (model.Route, error)
	ListActiveRoutes(ctx context.Context) ([]model.Route, error)
	// GetLastDispatchForRoute returns the departure instant of the most
	// recent dispatch on the route for the given local date, for any
	// vehicle. The second return value is false when none exists.
	GetLastDispatchForRoute(ctx context.Context, routeID int64, day time.Time) (time.Time, bool, error)

	GetVehicle(ctx context.Context, id int64) (model.Vehicle, error)
	GetDriver(ctx context.Context, id int64) (model.Driver, error)

	ListSanctions(ctx context.Context, subject model.SanctionSubject, subjectID int64) ([]model.Sanction, error)
	HasPermit(ctx context.Context, vehicleID, driverID int64, day time.Time) (bool, error)

	CreateDispatch(ctx context.Context, d NewDispatch) (model.Dispatch, error)
	GetDispatch(ctx context.Context, id int64) (model.Dispatch, error)
	DeleteDispatch(ctx context.Context, id int64) error
	ListDispatchesForVehicle(ctx context.Context, vehicleID int64, day time.Time) ([]model.Dispatch, error)
	// ListPendingDispatches returns the waiting-queue entries for the given
	// local date, ordered by departure. Used to replay the queue snapshot
	// to new observers.
	ListPendingDispatches(ctx context.Context, day time.Time) ([]model.Dispatch, error)

	ListScheduledSlotsForVehicle(ctx context.Context, vehicleID int64, day time.Time) ([]model.ScheduledSlot, error)

	// AggregateDispatchCounts counts dispatches departing in [from, to)
	// keyed by the chosen dimension (hour of day, vehicle, driver or route).
	AggregateDispatchCounts(ctx context.Context, from, to time.Time, by GroupBy) (map[int64]int64, error)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/repository"
)

const activeRoutesKey = "active_routes"

// GormRepository implements the Repository contract on top of GORM.
// The active-route list is read on every gap computation and changes
// rarely, so it sits behind a TTL cache.
type GormRepository struct {
	db     *gorm.DB
	routes *cache.Cache
}

// Open connects to PostgreSQL and runs the schema migration.
func Open(dsn string, routeCacheTTL time.Duration) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	return NewGormRepository(db, routeCacheTTL)
}

// NewGormRepository wraps an existing gorm handle and migrates the schema.
func NewGormRepository(db *gorm.DB, routeCacheTTL time.Duration) (*GormRepository, error) {
	if err := db.AutoMigrate(
		&routeRecord{}, &vehicleRecord{}, &driverRecord{},
		&dispatchRecord{}, &slotRecord{}, &sanctionRecord{}, &permitRecord{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	if routeCacheTTL <= 0 {
		routeCacheTTL = time.Minute
	}
	return &GormRepository{
		db:     db,
		routes: cache.New(routeCacheTTL, 2*routeCacheTTL),
	}, nil
}

type routeRecord struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Name             string `gorm:"size:120;not null"`
	MinFrequency     int    `gorm:"not null"`
	MaxFrequency     int    `gorm:"not null"`
	DefaultFrequency int    `gorm:"not null"`
	CurrentFrequency int    `gorm:"not null"`
	Priority         int    `gorm:"not null;default:0"`
	OncePerDay       bool   `gorm:"not null;default:false"`
	Active           bool   `gorm:"not null;default:true;index"`
}

func (routeRecord) TableName() string { return "routes" }

type vehicleRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Number     string `gorm:"size:32;not null"`
	Plate      string `gorm:"size:16;not null;uniqueIndex"`
	Active     bool   `gorm:"not null;default:true"`
	Available  bool   `gorm:"not null;default:true"`
	InRevision bool   `gorm:"not null;default:false"`
}

func (vehicleRecord) TableName() string { return "vehicles" }

type driverRecord struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Name     string `gorm:"size:120;not null"`
	Document string `gorm:"size:32;not null;uniqueIndex"`
	Active   bool   `gorm:"not null;default:true"`
}

func (driverRecord) TableName() string { return "drivers" }

type dispatchRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	VehicleID   int64     `gorm:"not null;index"`
	DriverID    int64     `gorm:"not null;index"`
	RouteID     *int64    `gorm:"index"`
	DepartureAt time.Time `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	Status      string    `gorm:"size:16;not null"`
}

func (dispatchRecord) TableName() string { return "dispatches" }

type slotRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	RouteID     int64     `gorm:"not null;index"`
	VehicleID   *int64    `gorm:"index"`
	DepartureAt time.Time `gorm:"not null;index"`
	Available   bool      `gorm:"not null;default:true"`
}

func (slotRecord) TableName() string { return "scheduled_slots" }

type sanctionRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Subject   string    `gorm:"size:16;not null;index:idx_sanction_subject"`
	SubjectID int64     `gorm:"not null;index:idx_sanction_subject"`
	StartDate time.Time `gorm:"not null"`
	EndDate   time.Time `gorm:"not null"`
	Reason    string    `gorm:"size:255"`
}

func (sanctionRecord) TableName() string { return "sanctions" }

type permitRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	VehicleID int64     `gorm:"not null;index:idx_permit_pair_date"`
	DriverID  int64     `gorm:"not null;index:idx_permit_pair_date"`
	Date      time.Time `gorm:"not null;index:idx_permit_pair_date"`
}

func (permitRecord) TableName() string { return "permits" }

func (r routeRecord) toModel() model.Route {
	return model.Route{
		ID:               r.ID,
		Name:             r.Name,
		MinFrequency:     r.MinFrequency,
		MaxFrequency:     r.MaxFrequency,
		DefaultFrequency: r.DefaultFrequency,
		CurrentFrequency: r.CurrentFrequency,
		Priority:         r.Priority,
		OncePerDay:       r.OncePerDay,
		Active:           r.Active,
	}
}

func (d dispatchRecord) toModel() model.Dispatch {
	return model.Dispatch{
		ID:          d.ID,
		VehicleID:   d.VehicleID,
		DriverID:    d.DriverID,
		RouteID:     d.RouteID,
		DepartureAt: d.DepartureAt,
		CreatedAt:   d.CreatedAt,
		Status:      model.DispatchStatus(d.Status),
	}
}

func (s slotRecord) toModel() model.ScheduledSlot {
	assignment := model.Unassigned()
	if s.VehicleID != nil {
		assignment = model.AssignedTo(*s.VehicleID)
	}
	return model.ScheduledSlot{
		ID:          s.ID,
		RouteID:     s.RouteID,
		Assignment:  assignment,
		DepartureAt: s.DepartureAt,
	}
}

func notFoundOr(err error, entity string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func (g *GormRepository) GetRoute(ctx context.Context, id int64) (model.Route, error) {
	var rec routeRecord
	if err := g.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return model.Route{}, notFoundOr(err, "route", id)
	}
	return rec.toModel(), nil
}

func (g *GormRepository) ListActiveRoutes(ctx context.Context) ([]model.Route, error) {
	if cached, ok := g.routes.Get(activeRoutesKey); ok {
		return cached.([]model.Route), nil
	}
	var recs []routeRecord
	if err := g.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	routes := make([]model.Route, 0, len(recs))
	for _, r := range recs {
		routes = append(routes, r.toModel())
	}
	g.routes.Set(activeRoutesKey, routes, cache.DefaultExpiration)
	return routes, nil
}

// InvalidateRouteCache drops the cached active-route list. Call after any
// route configuration change.
func (g *GormRepository) InvalidateRouteCache() {
	g.routes.Delete(activeRoutesKey)
}

func (g *GormRepository) GetLastDispatchForRoute(ctx context.Context, routeID int64, day time.Time) (time.Time, bool, error) {
	start := model.DayOf(day)
	end := start.AddDate(0, 0, 1)
	var rec dispatchRecord
	err := g.db.WithContext(ctx).
		Where("route_id = ? AND departure_at >= ? AND departure_at < ?", routeID, start, end).
		Order("departure_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return rec.DepartureAt, true, nil
}

func (g *GormRepository) GetVehicle(ctx context.Context, id int64) (model.Vehicle, error) {
	var rec vehicleRecord
	if err := g.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return model.Vehicle{}, notFoundOr(err, "vehicle", id)
	}
	return model.Vehicle{
		ID:         rec.ID,
		Number:     rec.Number,
		Plate:      rec.Plate,
		Active:     rec.Active,
		Available:  rec.Available,
		InRevision: rec.InRevision,
	}, nil
}

func (g *GormRepository) GetDriver(ctx context.Context, id int64) (model.Driver, error) {
	var rec driverRecord
	if err := g.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return model.Driver{}, notFoundOr(err, "driver", id)
	}
	return model.Driver{ID: rec.ID, Name: rec.Name, Document: rec.Document, Active: rec.Active}, nil
}

func (g *GormRepository) ListSanctions(ctx context.Context, subject model.SanctionSubject, subjectID int64) ([]model.Sanction, error) {
	var recs []sanctionRecord
	err := g.db.WithContext(ctx).
		Where("subject = ? AND subject_id = ?", string(subject), subjectID).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	sanctions := make([]model.Sanction, 0, len(recs))
	for _, r := range recs {
		sanctions = append(sanctions, model.Sanction{
			ID:        r.ID,
			Subject:   model.SanctionSubject(r.Subject),
			SubjectID: r.SubjectID,
			StartDate: r.StartDate,
			EndDate:   r.EndDate,
			Reason:    r.Reason,
		})
	}
	return sanctions, nil
}

func (g *GormRepository) HasPermit(ctx context.Context, vehicleID, driverID int64, day time.Time) (bool, error) {
	start := model.DayOf(day)
	end := start.AddDate(0, 0, 1)
	var count int64
	err := g.db.WithContext(ctx).Model(&permitRecord{}).
		Where("vehicle_id = ? AND driver_id = ? AND date >= ? AND date < ?", vehicleID, driverID, start, end).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateDispatch inserts a dispatch inside a transaction that locks the
// route row and re-checks the rotation window, so two concurrent creators
// racing for the same slot produce exactly one dispatch. The loser gets
// model.ErrConflict.
func (g *GormRepository) CreateDispatch(ctx context.Context, d repository.NewDispatch) (model.Dispatch, error) {
	var created dispatchRecord
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row locks are a postgres feature; sqlite serializes writers on
		// its own.
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var route routeRecord
		if err := q.First(&route, d.RouteID).Error; err != nil {
			return notFoundOr(err, "route", d.RouteID)
		}

		start := model.DayOf(d.DepartureAt)
		end := start.AddDate(0, 0, 1)
		var last dispatchRecord
		err := tx.Where("route_id = ? AND departure_at >= ? AND departure_at < ?", d.RouteID, start, end).
			Order("departure_at DESC").
			First(&last).Error
		switch {
		case err == nil:
			spacing := time.Duration(route.CurrentFrequency) * time.Minute
			if d.DepartureAt.Before(last.DepartureAt.Add(spacing)) {
				return model.ErrConflict
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if route.OncePerDay {
			var count int64
			err := tx.Model(&dispatchRecord{}).
				Where("route_id = ? AND vehicle_id = ? AND departure_at >= ? AND departure_at < ?",
					d.RouteID, d.VehicleID, start, end).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return model.ErrConflict
			}
		}

		routeID := d.RouteID
		created = dispatchRecord{
			VehicleID:   d.VehicleID,
			DriverID:    d.DriverID,
			RouteID:     &routeID,
			DepartureAt: d.DepartureAt,
			CreatedAt:   d.CreatedAt,
			Status:      string(model.StatusPending),
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return model.Dispatch{}, err
	}
	return created.toModel(), nil
}

func (g *GormRepository) GetDispatch(ctx context.Context, id int64) (model.Dispatch, error) {
	var rec dispatchRecord
	if err := g.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return model.Dispatch{}, notFoundOr(err, "dispatch", id)
	}
	return rec.toModel(), nil
}

func (g *GormRepository) DeleteDispatch(ctx context.Context, id int64) error {
	res := g.db.WithContext(ctx).Delete(&dispatchRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &model.NotFoundError{Entity: "dispatch", ID: id}
	}
	return nil
}

func (g *GormRepository) ListDispatchesForVehicle(ctx context.Context, vehicleID int64, day time.Time) ([]model.Dispatch, error) {
	start := model.DayOf(day)
	end := start.AddDate(0, 0, 1)
	var recs []dispatchRecord
	err := g.db.WithContext(ctx).
		Where("vehicle_id = ? AND departure_at >= ? AND departure_at < ?", vehicleID, start, end).
		Order("departure_at").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	dispatches := make([]model.Dispatch, 0, len(recs))
	for _, r := range recs {
		dispatches = append(dispatches, r.toModel())
	}
	return dispatches, nil
}

func (g *GormRepository) ListPendingDispatches(ctx context.Context, day time.Time) ([]model.Dispatch, error) {
	start := model.DayOf(day)
	end := start.AddDate(0, 0, 1)
	var recs []dispatchRecord
	err := g.db.WithContext(ctx).
		Where("status = ? AND departure_at >= ? AND departure_at < ?", string(model.StatusPending), start, end).
		Order("departure_at").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	dispatches := make([]model.Dispatch, 0, len(recs))
	for _, r := range recs {
		dispatches = append(dispatches, r.toModel())
	}
	return dispatches, nil
}

func (g *GormRepository) ListScheduledSlotsForVehicle(ctx context.Context, vehicleID int64, day time.Time) ([]model.ScheduledSlot, error) {
	start := model.DayOf(day)
	end := start.AddDate(0, 0, 1)
	var recs []slotRecord
	err := g.db.WithContext(ctx).
		Where("vehicle_id = ? AND departure_at >= ? AND departure_at < ?", vehicleID, start, end).
		Order("departure_at").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	slots := make([]model.ScheduledSlot, 0, len(recs))
	for _, r := range recs {
		slots = append(slots, r.toModel())
	}
	return slots, nil
}

// AggregateDispatchCounts loads the departure rows in range and counts in
// process. Ranges are report-sized, and counting here keeps the query
// portable across postgres and the sqlite test driver.
func (g *GormRepository) AggregateDispatchCounts(ctx context.Context, from, to time.Time, by repository.GroupBy) (map[int64]int64, error) {
	var recs []dispatchRecord
	err := g.db.WithContext(ctx).
		Select("vehicle_id", "driver_id", "route_id", "departure_at").
		Where("departure_at >= ? AND departure_at < ?", from, to).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int64)
	for _, r := range recs {
		switch by {
		case repository.GroupByHour:
			counts[int64(r.DepartureAt.Hour())]++
		case repository.GroupByVehicle:
			counts[r.VehicleID]++
		case repository.GroupByDriver:
			counts[r.DriverID]++
		case repository.GroupByRoute:
			if r.RouteID != nil {
				counts[*r.RouteID]++
			}
		}
	}
	return counts, nil
}

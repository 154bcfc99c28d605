package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/eligibility"
	"github.com/sotramsa/enruta/core/logger"
	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/queue"
	"github.com/sotramsa/enruta/core/repository"
)

// RotationScheduler coordinates dispatch of the fleet across the active
// routes, enforcing per-route rotation spacing, once-per-day uniqueness
// and the eligibility gate.
type RotationScheduler struct {
	repo      repository.Repository
	clock     clock.Clock
	validator *eligibility.Validator
	notifier  queue.Notifier
	log       logger.Logger
}

// New creates a RotationScheduler. The notifier may be nil when no
// observers need queue updates.
func New(repo repository.Repository, clk clock.Clock, validator *eligibility.Validator, notifier queue.Notifier, log logger.Logger) (*RotationScheduler, error) {
	if repo == nil || clk == nil || validator == nil || log == nil {
		return nil, fmt.Errorf("scheduler: nil parameter provided to New")
	}
	return &RotationScheduler{
		repo:      repo,
		clock:     clk,
		validator: validator,
		notifier:  notifier,
		log:       log,
	}, nil
}

// AvailableGaps computes, for every active route, the earliest instant at
// which the vehicle/driver pair may depart on it. Once-per-day routes the
// vehicle already served today are excluded. The result is ordered by
// earliest departure ascending, then priority descending, then route ID.
func (s *RotationScheduler) AvailableGaps(ctx context.Context, vehicleID, driverID int64) ([]Gap, error) {
	now := s.clock.Now()
	return s.gapsAt(ctx, vehicleID, driverID, now)
}

func (s *RotationScheduler) gapsAt(ctx context.Context, vehicleID, driverID int64, now time.Time) ([]Gap, error) {
	if err := s.checkPair(ctx, vehicleID, driverID); err != nil {
		return nil, err
	}
	today := model.DayOf(now)

	routes, err := s.repo.ListActiveRoutes(ctx)
	if err != nil {
		return nil, model.Infra("scheduler: list routes", err)
	}
	todays, err := s.repo.ListDispatchesForVehicle(ctx, vehicleID, today)
	if err != nil {
		return nil, model.Infra("scheduler: list dispatches", err)
	}
	served := make(map[int64]bool, len(todays))
	for _, d := range todays {
		if d.RouteID != nil {
			served[*d.RouteID] = true
		}
	}

	gaps := make([]Gap, 0, len(routes))
	for _, r := range routes {
		if r.OncePerDay && served[r.ID] {
			continue
		}
		last, found, err := s.repo.GetLastDispatchForRoute(ctx, r.ID, today)
		if err != nil {
			return nil, model.Infra("scheduler: last dispatch", err)
		}
		earliest := now
		if found {
			if e := last.Add(r.Spacing()); e.After(now) {
				earliest = e
			}
		}
		gaps = append(gaps, Gap{
			RouteID:           r.ID,
			RouteName:         r.Name,
			EarliestDeparture: earliest,
			Priority:          r.Priority,
		})
	}

	sort.Slice(gaps, func(i, j int) bool {
		if !gaps[i].EarliestDeparture.Equal(gaps[j].EarliestDeparture) {
			return gaps[i].EarliestDeparture.Before(gaps[j].EarliestDeparture)
		}
		if gaps[i].Priority != gaps[j].Priority {
			return gaps[i].Priority > gaps[j].Priority
		}
		return gaps[i].RouteID < gaps[j].RouteID
	})
	return gaps, nil
}

// AutoAssign selects the best immediately available gap, creates the
// dispatch and notifies queue observers. The eligibility gate is checked
// first: a blocked pair never produces a dispatch, regardless of gap
// availability. A write conflict triggers one transparent recompute before
// the operation reports NOT_AVAILABLE.
func (s *RotationScheduler) AutoAssign(ctx context.Context, vehicleID, driverID int64) (AssignOutcome, error) {
	validation, err := s.validator.Validate(ctx, vehicleID, driverID)
	if err != nil {
		return AssignOutcome{}, err
	}
	if validation.Blocked {
		s.countBlocked(validation)
		s.log.Infof("auto-assign blocked for vehicle %d driver %d", vehicleID, driverID)
		return AssignOutcome{Status: StatusBlocked, Validation: &validation}, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		now := s.clock.Now()
		gaps, err := s.gapsAt(ctx, vehicleID, driverID, now)
		if err != nil {
			return AssignOutcome{}, err
		}
		best := firstImmediate(gaps, now)
		if best == nil {
			out := AssignOutcome{Status: StatusNotAvailable}
			if len(gaps) > 0 {
				out.Suggestion = &gaps[0]
			}
			return out, nil
		}

		created, err := s.repo.CreateDispatch(ctx, repository.NewDispatch{
			VehicleID:   vehicleID,
			DriverID:    driverID,
			RouteID:     best.RouteID,
			DepartureAt: now,
			CreatedAt:   now,
		})
		if errors.Is(err, model.ErrConflict) {
			slotConflicts.Inc()
			s.log.Warnf("rotation slot conflict on route %d, recomputing", best.RouteID)
			continue
		}
		if err != nil {
			return AssignOutcome{}, model.Infra("scheduler: create dispatch", err)
		}

		dispatchesCreated.WithLabelValues(strconv.FormatInt(best.RouteID, 10)).Inc()
		s.log.Infof("dispatched vehicle %d driver %d on route %d at %s",
			vehicleID, driverID, best.RouteID, now.Format(time.RFC3339))
		s.notifyChange("created", created)
		return AssignOutcome{Status: StatusAssigned, Gap: best, Dispatch: &created}, nil
	}
	return AssignOutcome{Status: StatusNotAvailable}, nil
}

// RoutesForVehicleToday merges the vehicle's executed dispatches with its
// assigned pre-planned slots for the current date into one time-ordered
// plan. The call has no side effects and is stable under a pinned clock.
func (s *RotationScheduler) RoutesForVehicleToday(ctx context.Context, vehicleID int64) ([]ScheduleEntry, error) {
	if vehicleID <= 0 {
		return nil, model.NewValidationError("invalid vehicle id %d", vehicleID)
	}
	today := model.DayOf(s.clock.Now())

	dispatches, err := s.repo.ListDispatchesForVehicle(ctx, vehicleID, today)
	if err != nil {
		return nil, model.Infra("scheduler: list dispatches", err)
	}
	slots, err := s.repo.ListScheduledSlotsForVehicle(ctx, vehicleID, today)
	if err != nil {
		return nil, model.Infra("scheduler: list slots", err)
	}

	entries := make([]ScheduleEntry, 0, len(dispatches)+len(slots))
	for _, d := range dispatches {
		entries = append(entries, ScheduleEntry{
			DepartureAt: d.DepartureAt,
			RouteID:     d.RouteID,
			DriverID:    d.DriverID,
			Status:      d.Status,
			Origin:      OriginExecuted,
		})
	}
	for _, sl := range slots {
		routeID := sl.RouteID
		entries = append(entries, ScheduleEntry{
			DepartureAt: sl.DepartureAt,
			RouteID:     &routeID,
			Origin:      OriginPlanned,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].DepartureAt.Equal(entries[j].DepartureAt) {
			return entries[i].DepartureAt.Before(entries[j].DepartureAt)
		}
		if entries[i].Origin != entries[j].Origin {
			return entries[i].Origin == OriginExecuted
		}
		return routeOrZero(entries[i].RouteID) < routeOrZero(entries[j].RouteID)
	})
	return entries, nil
}

// CancelDispatch hard-deletes the dispatch so the route's rotation slot is
// freed: subsequent gap computations see the prior dispatch, if any.
func (s *RotationScheduler) CancelDispatch(ctx context.Context, dispatchID int64) error {
	if dispatchID <= 0 {
		return model.NewValidationError("invalid dispatch id %d", dispatchID)
	}
	d, err := s.repo.GetDispatch(ctx, dispatchID)
	if err != nil {
		return model.Infra("scheduler: get dispatch", err)
	}
	if err := s.repo.DeleteDispatch(ctx, dispatchID); err != nil {
		return model.Infra("scheduler: delete dispatch", err)
	}
	dispatchesCancelled.Inc()
	s.log.Infof("cancelled dispatch %d", dispatchID)
	s.notifyChange("cancelled", d)
	return nil
}

// RotationStatistics aggregates dispatch counts over [from, to) per hour
// of day, vehicle, driver and route.
func (s *RotationScheduler) RotationStatistics(ctx context.Context, from, to time.Time) (Stats, error) {
	if !from.Before(to) {
		return Stats{}, model.NewValidationError("statistics range start %s is not before end %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	stats := Stats{From: from, To: to}
	groups := []struct {
		by   repository.GroupBy
		dest *map[int64]int64
	}{
		{repository.GroupByHour, &stats.ByHour},
		{repository.GroupByVehicle, &stats.ByVehicle},
		{repository.GroupByDriver, &stats.ByDriver},
		{repository.GroupByRoute, &stats.ByRoute},
	}
	for _, g := range groups {
		counts, err := s.repo.AggregateDispatchCounts(ctx, from, to, g.by)
		if err != nil {
			return Stats{}, model.Infra("scheduler: aggregate counts", err)
		}
		*g.dest = counts
	}
	for _, n := range stats.ByRoute {
		stats.Total += n
	}
	return stats, nil
}

// checkPair rejects malformed or non-schedulable inputs before any gap
// computation.
func (s *RotationScheduler) checkPair(ctx context.Context, vehicleID, driverID int64) error {
	if vehicleID <= 0 {
		return model.NewValidationError("invalid vehicle id %d", vehicleID)
	}
	if driverID <= 0 {
		return model.NewValidationError("invalid driver id %d", driverID)
	}
	vehicle, err := s.repo.GetVehicle(ctx, vehicleID)
	if err != nil {
		return model.Infra("scheduler: get vehicle", err)
	}
	if !vehicle.Dispatchable() {
		return model.NewValidationError("vehicle %d is not available for dispatch", vehicleID)
	}
	driver, err := s.repo.GetDriver(ctx, driverID)
	if err != nil {
		return model.Infra("scheduler: get driver", err)
	}
	if !driver.Active {
		return model.NewValidationError("driver %d is not active", driverID)
	}
	return nil
}

func (s *RotationScheduler) notifyChange(action string, d model.Dispatch) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(queue.EventChange, map[string]any{
		"action":   action,
		"dispatch": d,
	})
}

func (s *RotationScheduler) countBlocked(v eligibility.Result) {
	if !v.HasPermit {
		blockedAttempts.WithLabelValues("permit").Inc()
	}
	if len(v.VehicleSanctions) > 0 || len(v.DriverSanctions) > 0 {
		blockedAttempts.WithLabelValues("sanction").Inc()
	}
}

func firstImmediate(gaps []Gap, now time.Time) *Gap {
	for i := range gaps {
		if gaps[i].Immediate(now) {
			g := gaps[i]
			return &g
		}
	}
	return nil
}

func routeOrZero(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

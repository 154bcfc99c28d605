package scheduler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/eligibility"
	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/queue"
	"github.com/sotramsa/enruta/core/repository"
	"github.com/sotramsa/enruta/infra/logger"
	"github.com/sotramsa/enruta/infra/store"
)

var testDay = time.Date(2024, 5, 20, 6, 0, 0, 0, time.Local)

type fixture struct {
	repo  *store.MemoryRepository
	clk   *clock.VirtualClock
	sched *RotationScheduler
	bus   *queue.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	clk := clock.New()
	clk.SetSimulated(testDay)
	bus := queue.NewBroadcaster(nil, clk, logger.NopLogger{})
	t.Cleanup(bus.Close)
	validator := eligibility.NewValidator(repo, clk)
	sched, err := New(repo, clk, validator, bus, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return &fixture{repo: repo, clk: clk, sched: sched, bus: bus}
}

func (f *fixture) seedPair(vehicleID, driverID int64) {
	f.repo.AddVehicle(model.Vehicle{ID: vehicleID, Number: "042", Plate: plateFor(vehicleID), Active: true, Available: true})
	f.repo.AddDriver(model.Driver{ID: driverID, Name: "Driver", Document: docFor(driverID), Active: true})
	f.repo.AddPermit(model.Permit{VehicleID: vehicleID, DriverID: driverID, Date: model.DayOf(f.clk.Now())})
}

func plateFor(id int64) string { return "SOT" + string(rune('A'+id%26)) }
func docFor(id int64) string   { return "1000000" + string(rune('0'+id%10)) }

func routeA() model.Route {
	return model.Route{ID: 1, Name: "A", MinFrequency: 5, MaxFrequency: 30, DefaultFrequency: 10, CurrentFrequency: 10, Priority: 1, Active: true}
}

func TestAvailableGapsFreshDayIsImmediate(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)

	gaps, err := f.sched.AvailableGaps(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if len(gaps) != 1 || gaps[0].RouteID != 1 {
		t.Fatalf("expected route 1, got %#v", gaps)
	}
	if !gaps[0].EarliestDeparture.Equal(f.clk.Now()) {
		t.Fatalf("expected immediate gap, got %v", gaps[0].EarliestDeparture)
	}
}

func TestAutoAssignCreatesDispatchAtNow(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)

	out, err := f.sched.AutoAssign(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if out.Status != StatusAssigned {
		t.Fatalf("expected ASSIGNED, got %s", out.Status)
	}
	if out.Gap == nil || out.Gap.RouteID != 1 {
		t.Fatalf("expected gap on route 1, got %#v", out.Gap)
	}
	if out.Dispatch == nil || !out.Dispatch.DepartureAt.Equal(f.clk.Now()) {
		t.Fatalf("expected dispatch at now, got %#v", out.Dispatch)
	}
	if out.Dispatch.Status != model.StatusPending {
		t.Fatalf("expected pending status, got %s", out.Dispatch.Status)
	}
}

func TestSpacingIsFleetWidePerRoute(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)
	f.seedPair(2, 2)

	if out, err := f.sched.AutoAssign(context.Background(), 1, 1); err != nil || out.Status != StatusAssigned {
		t.Fatalf("first assignment failed: %v %v", out.Status, err)
	}

	gaps, err := f.sched.AvailableGaps(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	want := f.clk.Now().Add(10 * time.Minute)
	if len(gaps) != 1 || !gaps[0].EarliestDeparture.Equal(want) {
		t.Fatalf("expected earliest %v, got %#v", want, gaps)
	}
	if gaps[0].Immediate(f.clk.Now()) {
		t.Fatalf("route should not be immediately eligible")
	}
}

func TestSpacingElapsesWithSimulatedClock(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)
	f.seedPair(2, 2)

	if _, err := f.sched.AutoAssign(context.Background(), 1, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.clk.Advance(10)

	out, err := f.sched.AutoAssign(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("assign after spacing: %v", err)
	}
	if out.Status != StatusAssigned {
		t.Fatalf("expected ASSIGNED after frequency elapsed, got %s", out.Status)
	}
}

func TestAutoAssignNotAvailableSuggestsEarliestGap(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)
	f.seedPair(2, 2)

	if _, err := f.sched.AutoAssign(context.Background(), 1, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}

	out, err := f.sched.AutoAssign(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if out.Status != StatusNotAvailable {
		t.Fatalf("expected NOT_AVAILABLE, got %s", out.Status)
	}
	if out.Suggestion == nil || out.Suggestion.RouteID != 1 {
		t.Fatalf("expected suggestion on route 1, got %#v", out.Suggestion)
	}
	if out.Dispatch != nil {
		t.Fatalf("no dispatch may be created for a future-only gap")
	}
}

func TestBlockedByActiveVehicleSanction(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(3, 4)
	f.repo.AddSanction(model.Sanction{
		Subject:   model.SubjectVehicle,
		SubjectID: 3,
		StartDate: testDay.Add(-time.Hour),
		EndDate:   testDay.Add(time.Hour),
		Reason:    "late departure",
	})

	out, err := f.sched.AutoAssign(context.Background(), 3, 4)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if out.Status != StatusBlocked {
		t.Fatalf("expected BLOCKED, got %s", out.Status)
	}
	if out.Validation == nil || len(out.Validation.VehicleSanctions) == 0 {
		t.Fatalf("expected vehicle sanctions in validation, got %#v", out.Validation)
	}
	dispatches, _ := f.repo.ListDispatchesForVehicle(context.Background(), 3, model.DayOf(f.clk.Now()))
	if len(dispatches) != 0 {
		t.Fatalf("blocked pair must not produce a dispatch")
	}
}

func TestBlockedByMissingPermit(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.repo.AddVehicle(model.Vehicle{ID: 1, Number: "042", Plate: "SOT042", Active: true, Available: true})
	f.repo.AddDriver(model.Driver{ID: 1, Name: "Driver", Document: "10000001", Active: true})

	out, err := f.sched.AutoAssign(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if out.Status != StatusBlocked || out.Validation == nil || out.Validation.HasPermit {
		t.Fatalf("expected permit block, got %#v", out)
	}
}

func TestOncePerDayRouteExcludedAfterDispatch(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(model.Route{ID: 2, Name: "B", MinFrequency: 5, MaxFrequency: 120, DefaultFrequency: 30, CurrentFrequency: 30, OncePerDay: true, Active: true})
	f.seedPair(5, 6)

	if out, err := f.sched.AutoAssign(context.Background(), 5, 6); err != nil || out.Status != StatusAssigned {
		t.Fatalf("first assignment failed: %v %v", out.Status, err)
	}
	f.clk.Advance(60)

	gaps, err := f.sched.AvailableGaps(context.Background(), 5, 6)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	for _, g := range gaps {
		if g.RouteID == 2 {
			t.Fatalf("once-per-day route must be excluded, got %#v", gaps)
		}
	}
}

func TestCancellationFreesTheRotationSlot(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)
	f.seedPair(2, 2)

	out, err := f.sched.AutoAssign(context.Background(), 1, 1)
	if err != nil || out.Status != StatusAssigned {
		t.Fatalf("assignment failed: %v", err)
	}

	before, _ := f.sched.AvailableGaps(context.Background(), 2, 2)
	if before[0].Immediate(f.clk.Now()) {
		t.Fatalf("slot should be held before cancellation")
	}

	if err := f.sched.CancelDispatch(context.Background(), out.Dispatch.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	after, err := f.sched.AvailableGaps(context.Background(), 2, 2)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if !after[0].EarliestDeparture.Equal(f.clk.Now()) {
		t.Fatalf("cancellation must restore the immediate gap, got %v", after[0].EarliestDeparture)
	}
}

func TestCancelUnknownDispatch(t *testing.T) {
	f := newFixture(t)
	err := f.sched.CancelDispatch(context.Background(), 999)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGapOrderingIsDeterministic(t *testing.T) {
	f := newFixture(t)
	// Same earliest departure: priority breaks the tie, then route id.
	f.repo.AddRoute(model.Route{ID: 3, Name: "C", MinFrequency: 1, MaxFrequency: 60, DefaultFrequency: 10, CurrentFrequency: 10, Priority: 1, Active: true})
	f.repo.AddRoute(model.Route{ID: 1, Name: "A", MinFrequency: 1, MaxFrequency: 60, DefaultFrequency: 10, CurrentFrequency: 10, Priority: 5, Active: true})
	f.repo.AddRoute(model.Route{ID: 2, Name: "B", MinFrequency: 1, MaxFrequency: 60, DefaultFrequency: 10, CurrentFrequency: 10, Priority: 1, Active: true})
	f.seedPair(1, 1)

	gaps, err := f.sched.AvailableGaps(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	var ids []int64
	for _, g := range gaps {
		ids = append(ids, g.RouteID)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Fatalf("expected order [1 2 3], got %v", ids)
	}
}

func TestDeterminismUnderPinnedClock(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.repo.AddRoute(model.Route{ID: 2, Name: "B", MinFrequency: 1, MaxFrequency: 60, DefaultFrequency: 20, CurrentFrequency: 20, Priority: 3, Active: true})
	f.seedPair(1, 1)

	first, err := f.sched.AvailableGaps(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	second, err := f.sched.AvailableGaps(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("pinned clock must yield identical results:\n%#v\n%#v", first, second)
	}
}

func TestInvalidInputs(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)
	f.repo.AddVehicle(model.Vehicle{ID: 9, Number: "009", Plate: "SOT009", Active: true, Available: false})

	var ve *model.ValidationError
	if _, err := f.sched.AvailableGaps(context.Background(), 0, 1); !errors.As(err, &ve) {
		t.Fatalf("expected validation error for zero vehicle id, got %v", err)
	}
	if _, err := f.sched.AvailableGaps(context.Background(), 9, 1); !errors.As(err, &ve) {
		t.Fatalf("expected validation error for unavailable vehicle, got %v", err)
	}
	if _, err := f.sched.AvailableGaps(context.Background(), 77, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found for unknown vehicle, got %v", err)
	}
}

func TestRoutesForVehicleTodayMergesPlannedAndExecuted(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)

	out, err := f.sched.AutoAssign(context.Background(), 1, 1)
	if err != nil || out.Status != StatusAssigned {
		t.Fatalf("assignment failed: %v", err)
	}
	f.repo.AddScheduledSlot(model.ScheduledSlot{
		RouteID:     1,
		Assignment:  model.AssignedTo(1),
		DepartureAt: testDay.Add(2 * time.Hour),
	})
	f.repo.AddScheduledSlot(model.ScheduledSlot{
		RouteID:     1,
		Assignment:  model.Unassigned(),
		DepartureAt: testDay.Add(time.Hour),
	})

	entries, err := f.sched.RoutesForVehicleToday(context.Background(), 1)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("unassigned slots must not appear, got %#v", entries)
	}
	if entries[0].Origin != OriginExecuted || entries[1].Origin != OriginPlanned {
		t.Fatalf("expected executed then planned, got %#v", entries)
	}
	if entries[0].DepartureAt.After(entries[1].DepartureAt) {
		t.Fatalf("entries must be time ordered")
	}
}

func TestRotationStatistics(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.repo.AddRoute(model.Route{ID: 2, Name: "B", MinFrequency: 1, MaxFrequency: 60, DefaultFrequency: 20, CurrentFrequency: 20, Active: true})
	f.seedPair(1, 1)
	f.seedPair(2, 2)

	if _, err := f.sched.AutoAssign(context.Background(), 1, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.clk.Advance(70)
	if _, err := f.sched.AutoAssign(context.Background(), 2, 2); err != nil {
		t.Fatalf("assign: %v", err)
	}

	stats, err := f.sched.RotationStatistics(context.Background(), testDay.Add(-time.Hour), testDay.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 dispatches, got %d", stats.Total)
	}
	if stats.ByVehicle[1] != 1 || stats.ByVehicle[2] != 1 {
		t.Fatalf("unexpected vehicle counts %#v", stats.ByVehicle)
	}
	if stats.ByHour[6] != 1 || stats.ByHour[7] != 1 {
		t.Fatalf("unexpected hour counts %#v", stats.ByHour)
	}

	if _, err := f.sched.RotationStatistics(context.Background(), testDay, testDay); err == nil {
		t.Fatalf("expected validation error for empty range")
	}
}

// conflictOnceRepo forces one conflict on the first create to exercise the
// transparent retry.
type conflictOnceRepo struct {
	repository.Repository
	conflicts int
}

func (r *conflictOnceRepo) CreateDispatch(ctx context.Context, d repository.NewDispatch) (model.Dispatch, error) {
	if r.conflicts > 0 {
		r.conflicts--
		return model.Dispatch{}, model.ErrConflict
	}
	return r.Repository.CreateDispatch(ctx, d)
}

func TestAutoAssignRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)

	repo := &conflictOnceRepo{Repository: f.repo, conflicts: 1}
	validator := eligibility.NewValidator(repo, f.clk)
	sched, err := New(repo, f.clk, validator, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	out, err := sched.AutoAssign(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if out.Status != StatusAssigned {
		t.Fatalf("expected retry to succeed, got %s", out.Status)
	}
}

func TestAutoAssignGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)

	repo := &conflictOnceRepo{Repository: f.repo, conflicts: 5}
	validator := eligibility.NewValidator(repo, f.clk)
	sched, err := New(repo, f.clk, validator, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	out, err := sched.AutoAssign(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if out.Status != StatusNotAvailable {
		t.Fatalf("expected NOT_AVAILABLE after conflicts, got %s", out.Status)
	}
}

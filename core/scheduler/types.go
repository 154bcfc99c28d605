package scheduler

import (
	"time"

	"github.com/sotramsa/enruta/core/eligibility"
	"github.com/sotramsa/enruta/core/model"
)

// Gap is a computed opportunity to dispatch a vehicle/driver pair on a
// route at or after a given instant.
type Gap struct {
	RouteID           int64     `json:"routeId"`
	RouteName         string    `json:"routeName"`
	EarliestDeparture time.Time `json:"earliestDeparture"`
	Priority          int       `json:"priority"`
}

// Immediate reports whether the gap can be taken at the given instant.
func (g Gap) Immediate(now time.Time) bool {
	return !g.EarliestDeparture.After(now)
}

// AssignStatus discriminates the outcome of an automatic assignment.
type AssignStatus string

const (
	StatusAssigned     AssignStatus = "ASSIGNED"
	StatusNotAvailable AssignStatus = "NOT_AVAILABLE"
	StatusBlocked      AssignStatus = "BLOCKED"
)

// AssignOutcome is the typed result of AutoAssign. Exactly one of the
// optional fields matching the status is populated: Gap and Dispatch for
// ASSIGNED, Suggestion (possibly nil) for NOT_AVAILABLE, Validation for
// BLOCKED.
type AssignOutcome struct {
	Status     AssignStatus        `json:"status"`
	Gap        *Gap                `json:"gap,omitempty"`
	Dispatch   *model.Dispatch     `json:"dispatch,omitempty"`
	Suggestion *Gap                `json:"suggestion,omitempty"`
	Validation *eligibility.Result `json:"validation,omitempty"`
}

// EntryOrigin distinguishes executed dispatches from pre-planned slots in
// a day plan.
type EntryOrigin string

const (
	OriginExecuted EntryOrigin = "EXECUTED"
	OriginPlanned  EntryOrigin = "PLANNED"
)

// ScheduleEntry is one row of a vehicle's plan for the current date.
type ScheduleEntry struct {
	DepartureAt time.Time            `json:"departureAt"`
	RouteID     *int64               `json:"routeId"`
	DriverID    int64                `json:"driverId,omitempty"`
	Status      model.DispatchStatus `json:"status,omitempty"`
	Origin      EntryOrigin          `json:"origin"`
}

// Stats aggregates dispatch counts over a time range for fleet
// utilization reporting. ByHour is keyed by hour of day (0-23).
type Stats struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Total     int64           `json:"total"`
	ByHour    map[int64]int64 `json:"byHour"`
	ByVehicle map[int64]int64 `json:"byVehicle"`
	ByDriver  map[int64]int64 `json:"byDriver"`
	ByRoute   map[int64]int64 `json:"byRoute"`
}

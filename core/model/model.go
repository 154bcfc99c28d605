package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DispatchStatus tracks the lifecycle of an executed dispatch.
type DispatchStatus string

const (
	StatusPending      DispatchStatus = "PENDING"
	StatusCompleted    DispatchStatus = "COMPLETED"
	StatusNotCompleted DispatchStatus = "NOT_COMPLETED"
)

// Route is a fixed path served by dispatched vehicles. Frequencies are
// expressed in minutes and govern the fleet-wide spacing between
// successive dispatches on the route.
type Route struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	MinFrequency     int    `json:"minFrequency"`
	MaxFrequency     int    `json:"maxFrequency"`
	DefaultFrequency int    `json:"defaultFrequency"`
	CurrentFrequency int    `json:"currentFrequency"`
	Priority         int    `json:"priority"`
	OncePerDay       bool   `json:"oncePerDay"`
	Active           bool   `json:"active"`
}

// Validate checks that the frequency configuration is sound.
func (r Route) Validate() error {
	if r.CurrentFrequency <= 0 {
		return fmt.Errorf("route %d: current frequency must be positive", r.ID)
	}
	if r.CurrentFrequency < r.MinFrequency || r.CurrentFrequency > r.MaxFrequency {
		return fmt.Errorf("route %d: current frequency %d outside [%d, %d]",
			r.ID, r.CurrentFrequency, r.MinFrequency, r.MaxFrequency)
	}
	return nil
}

// Spacing returns the rotation frequency as a duration.
func (r Route) Spacing() time.Duration {
	return time.Duration(r.CurrentFrequency) * time.Minute
}

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	Plate      string `json:"plate"`
	Active     bool   `json:"active"`
	Available  bool   `json:"available"`
	InRevision bool   `json:"inRevision"`
}

// Dispatchable reports whether the vehicle may be considered for scheduling.
func (v Vehicle) Dispatchable() bool {
	return v.Active && v.Available && !v.InRevision
}

// Driver represents a fleet driver.
type Driver struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Document string `json:"document"`
	Active   bool   `json:"active"`
}

// Dispatch is an executed turn: a time-stamped assignment of a vehicle and
// driver to a route. The departure instant is immutable once created.
type Dispatch struct {
	ID          int64          `json:"id"`
	VehicleID   int64          `json:"vehicleId"`
	DriverID    int64          `json:"driverId"`
	RouteID     *int64         `json:"routeId"`
	DepartureAt time.Time      `json:"departureAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	Status      DispatchStatus `json:"status"`
}

// SlotAssignment is the tagged assignment state of a scheduled slot:
// either unassigned or assigned to a concrete vehicle.
type SlotAssignment struct {
	vehicleID int64
	assigned  bool
}

// AssignedTo builds an assignment pointing at the given vehicle.
func AssignedTo(vehicleID int64) SlotAssignment {
	return SlotAssignment{vehicleID: vehicleID, assigned: true}
}

// Unassigned builds the empty assignment.
func Unassigned() SlotAssignment { return SlotAssignment{} }

// VehicleID returns the assigned vehicle, if any.
func (a SlotAssignment) VehicleID() (int64, bool) { return a.vehicleID, a.assigned }

// Assigned reports whether a vehicle holds the slot.
func (a SlotAssignment) Assigned() bool { return a.assigned }

// MarshalJSON renders the assignment as a tagged state.
func (a SlotAssignment) MarshalJSON() ([]byte, error) {
	if a.assigned {
		return json.Marshal(struct {
			State     string `json:"state"`
			VehicleID int64  `json:"vehicleId"`
		}{"ASSIGNED", a.vehicleID})
	}
	return json.Marshal(struct {
		State string `json:"state"`
	}{"UNASSIGNED"})
}

// ScheduledSlot is a pre-planned, date-scoped departure distinct from an
// executed Dispatch. A slot is available until a vehicle is assigned to it.
type ScheduledSlot struct {
	ID          int64          `json:"id"`
	RouteID     int64          `json:"routeId"`
	Assignment  SlotAssignment `json:"assignment"`
	DepartureAt time.Time      `json:"departureAt"`
}

// Available reports whether the slot can still be filled.
func (s ScheduledSlot) Available() bool { return !s.Assignment.Assigned() }

// SanctionSubject discriminates who a sanction applies to.
type SanctionSubject string

const (
	SubjectVehicle SanctionSubject = "vehicle"
	SubjectDriver  SanctionSubject = "driver"
)

// Sanction is a time-bounded restriction on a vehicle or driver.
type Sanction struct {
	ID        int64           `json:"id"`
	Subject   SanctionSubject `json:"subject"`
	SubjectID int64           `json:"subjectId"`
	StartDate time.Time       `json:"startDate"`
	EndDate   time.Time       `json:"endDate"`
	Reason    string          `json:"reason"`
}

// ActiveAt reports whether the sanction covers the given instant.
func (s Sanction) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartDate) && !t.After(s.EndDate)
}

// Permit is the authorization record gating dispatch for a vehicle/driver
// pair on a given date.
type Permit struct {
	ID        int64     `json:"id"`
	VehicleID int64     `json:"vehicleId"`
	DriverID  int64     `json:"driverId"`
	Date      time.Time `json:"date"`
}

// DayOf truncates an instant to midnight of its local calendar date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether two instants fall on the same local calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

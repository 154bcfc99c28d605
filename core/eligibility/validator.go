// Package eligibility gates dispatch creation on compliance records:
// an active sanction on the vehicle or driver, or a missing permit for
// the pair, blocks the dispatch.
package eligibility

import (
	"context"
	"time"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/repository"
)

// Result is the outcome of an eligibility check. It is advisory to most
// callers, but the scheduler refuses to create a dispatch while Blocked
// is true.
type Result struct {
	HasPermit        bool             `json:"hasPermit"`
	VehicleSanctions []model.Sanction `json:"vehicleSanctions"`
	DriverSanctions  []model.Sanction `json:"driverSanctions"`
	Blocked          bool             `json:"blocked"`
}

// Validator checks whether a vehicle/driver pair may be dispatched now.
type Validator struct {
	repo  repository.Repository
	clock clock.Clock
}

// NewValidator creates a Validator.
func NewValidator(repo repository.Repository, clk clock.Clock) *Validator {
	return &Validator{repo: repo, clock: clk}
}

// Validate reports the permit state and the sanctions active at the
// current instant for both subjects. Repository failures abort the check;
// no partial result is returned.
func (v *Validator) Validate(ctx context.Context, vehicleID, driverID int64) (Result, error) {
	now := v.clock.Now()

	hasPermit, err := v.repo.HasPermit(ctx, vehicleID, driverID, model.DayOf(now))
	if err != nil {
		return Result{}, model.Infra("eligibility: permit lookup", err)
	}
	vehicleSanctions, err := v.activeSanctions(ctx, model.SubjectVehicle, vehicleID, now)
	if err != nil {
		return Result{}, err
	}
	driverSanctions, err := v.activeSanctions(ctx, model.SubjectDriver, driverID, now)
	if err != nil {
		return Result{}, err
	}

	return Result{
		HasPermit:        hasPermit,
		VehicleSanctions: vehicleSanctions,
		DriverSanctions:  driverSanctions,
		Blocked:          !hasPermit || len(vehicleSanctions) > 0 || len(driverSanctions) > 0,
	}, nil
}

func (v *Validator) activeSanctions(ctx context.Context, subject model.SanctionSubject, id int64, now time.Time) ([]model.Sanction, error) {
	all, err := v.repo.ListSanctions(ctx, subject, id)
	if err != nil {
		return nil, model.Infra("eligibility: sanction lookup", err)
	}
	var active []model.Sanction
	for _, s := range all {
		if s.ActiveAt(now) {
			active = append(active, s)
		}
	}
	return active, nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/eligibility"
	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/queue"
	"github.com/sotramsa/enruta/core/scheduler"
	"github.com/sotramsa/enruta/infra/logger"
	"github.com/sotramsa/enruta/infra/store"
)

var (
	gapsVehicleID int64
	gapsDriverID  int64
	gapsAssign    bool
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Compute rotation gaps against a seeded in-memory fleet",
	RunE:  runGaps,
}

func init() {
	gapsCmd.Flags().Int64Var(&gapsVehicleID, "vehicle", 1, "vehicle id")
	gapsCmd.Flags().Int64Var(&gapsDriverID, "driver", 1, "driver id")
	gapsCmd.Flags().BoolVar(&gapsAssign, "assign", false, "also run automatic assignment")
	rootCmd.AddCommand(gapsCmd)
}

// runGaps exercises the engine end to end without a database: a pinned
// clock, three routes and one eligible pair.
func runGaps(cmd *cobra.Command, args []string) error {
	logg := logger.New("gaps-command")
	clk := clock.New()
	clk.SetSpecific(6, 0, 0)
	now := clk.Now()

	repo := store.NewMemoryRepository()
	repo.AddRoute(model.Route{ID: 1, Name: "Centro", MinFrequency: 5, MaxFrequency: 30, DefaultFrequency: 10, CurrentFrequency: 10, Priority: 2, Active: true})
	repo.AddRoute(model.Route{ID: 2, Name: "Terminal", MinFrequency: 5, MaxFrequency: 40, DefaultFrequency: 15, CurrentFrequency: 15, Priority: 1, Active: true})
	repo.AddRoute(model.Route{ID: 3, Name: "Expreso", MinFrequency: 30, MaxFrequency: 240, DefaultFrequency: 60, CurrentFrequency: 60, OncePerDay: true, Active: true})
	repo.AddVehicle(model.Vehicle{ID: gapsVehicleID, Number: "042", Plate: "SOT042", Active: true, Available: true})
	repo.AddDriver(model.Driver{ID: gapsDriverID, Name: "Demo Driver", Document: "10000001", Active: true})
	repo.AddPermit(model.Permit{VehicleID: gapsVehicleID, DriverID: gapsDriverID, Date: model.DayOf(now)})

	validator := eligibility.NewValidator(repo, clk)
	bus := queue.NewBroadcaster(nil, clk, logg)
	defer bus.Close()
	sched, err := scheduler.New(repo, clk, validator, bus, logg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	gaps, err := sched.AvailableGaps(ctx, gapsVehicleID, gapsDriverID)
	if err != nil {
		return fmt.Errorf("available gaps: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	fmt.Printf("gaps at %s:\n", now.Format(time.RFC3339))
	if err := enc.Encode(gaps); err != nil {
		return err
	}

	if gapsAssign {
		out, err := sched.AutoAssign(ctx, gapsVehicleID, gapsDriverID)
		if err != nil {
			return fmt.Errorf("auto assign: %w", err)
		}
		fmt.Println("auto assignment:")
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

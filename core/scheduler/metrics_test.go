package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sotramsa/enruta/core/model"
)

func TestMetricsCountOutcomes(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())

	f := newFixture(t)
	f.repo.AddRoute(routeA())
	f.seedPair(1, 1)

	if _, err := f.sched.AutoAssign(context.Background(), 1, 1); err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if got := testutil.ToFloat64(dispatchesCreated.WithLabelValues("1")); got != 1 {
		t.Fatalf("expected 1 created dispatch metric, got %v", got)
	}

	out, err := f.sched.AutoAssign(context.Background(), 1, 1)
	if err != nil || out.Status != StatusNotAvailable {
		t.Fatalf("expected NOT_AVAILABLE, got %v %v", out.Status, err)
	}

	f.repo.AddSanction(model.Sanction{
		Subject:   model.SubjectVehicle,
		SubjectID: 1,
		StartDate: testDay.Add(-time.Hour),
		EndDate:   testDay.Add(time.Hour),
	})
	if _, err := f.sched.AutoAssign(context.Background(), 1, 1); err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if got := testutil.ToFloat64(blockedAttempts.WithLabelValues("sanction")); got != 1 {
		t.Fatalf("expected 1 blocked attempt metric, got %v", got)
	}
}

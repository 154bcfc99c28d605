package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sotramsa/enruta/api"
	"github.com/sotramsa/enruta/config"
	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/eligibility"
	"github.com/sotramsa/enruta/core/queue"
	"github.com/sotramsa/enruta/core/repository"
	"github.com/sotramsa/enruta/core/scheduler"
	"github.com/sotramsa/enruta/infra/logger"
	"github.com/sotramsa/enruta/infra/metrics"
	infmqtt "github.com/sotramsa/enruta/infra/mqtt"
	"github.com/sotramsa/enruta/infra/store"
)

// Service wires the rotation engine and its adapters together.
type Service struct {
	Scheduler *scheduler.RotationScheduler
	Clock     *clock.VirtualClock
	notifier  queue.Notifier
	router    http.Handler
	log       logger.Logger

	httpAddr    string
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	clk := clock.New()

	var repo repository.Repository
	switch cfg.Database.Driver {
	case "memory":
		repo = store.NewMemoryRepository()
		logg.Warnf("running on the in-memory repository, data will not survive a restart")
	default:
		ttl := time.Duration(cfg.Database.RouteCacheTTLSeconds) * time.Second
		g, err := store.Open(cfg.Database.DSN, ttl)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		repo = g
	}

	snapshot := func(ctx context.Context) (any, error) {
		pending, err := repo.ListPendingDispatches(ctx, clk.Now())
		if err != nil {
			return nil, err
		}
		return pending, nil
	}

	var notifier queue.Notifier
	if cfg.MQTT.Enabled {
		n, err := infmqtt.NewNotifier(cfg.MQTT, snapshot, clk, logg)
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		notifier = n
	} else {
		notifier = queue.NewBroadcaster(snapshot, clk, logg)
	}

	validator := eligibility.NewValidator(repo, clk)
	sched, err := scheduler.New(repo, clk, validator, notifier, logg)
	if err != nil {
		return nil, err
	}

	handler := api.NewHandler(sched, validator, clk, notifier, logg)
	return &Service{
		Scheduler:   sched,
		Clock:       clk,
		notifier:    notifier,
		router:      api.NewRouter(handler),
		log:         logg,
		httpAddr:    cfg.HTTP.Addr,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}, nil
}

// Run serves the API until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.httpAddr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("http shutdown: %v", err)
		}
	}()
	s.log.Infof("serving on %s", s.httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.notifier != nil {
		s.notifier.Close()
	}
	return nil
}

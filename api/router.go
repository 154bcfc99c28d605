// Package api exposes the scheduling engine over HTTP: gap queries,
// automatic assignment, cancellation, day plans, statistics, clock
// simulation controls and a server-sent-events stream of queue changes.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sotramsa/enruta/core/clock"
	"github.com/sotramsa/enruta/core/eligibility"
	"github.com/sotramsa/enruta/core/logger"
	"github.com/sotramsa/enruta/core/queue"
	"github.com/sotramsa/enruta/core/scheduler"
)

// Handler bundles the components the HTTP surface delegates to.
type Handler struct {
	scheduler *scheduler.RotationScheduler
	validator *eligibility.Validator
	clock     *clock.VirtualClock
	notifier  queue.Notifier
	log       logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(s *scheduler.RotationScheduler, v *eligibility.Validator, clk *clock.VirtualClock, n queue.Notifier, log logger.Logger) *Handler {
	return &Handler{scheduler: s, validator: v, clock: clk, notifier: n, log: log}
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.Use(SimulatedTime(h.clock))
	{
		api.GET("/gaps", h.GetGaps)
		api.POST("/dispatches/auto", h.AutoAssign)
		api.DELETE("/dispatches/:id", h.CancelDispatch)
		api.GET("/vehicles/:id/today", h.VehicleToday)
		api.GET("/stats", h.Stats)
		api.GET("/validate", h.Validate)
		api.GET("/events", h.Events)

		clk := api.Group("/clock")
		{
			clk.GET("", h.ClockState)
			clk.POST("/simulate", h.ClockSimulate)
			clk.POST("/specific", h.ClockSpecific)
			clk.POST("/advance", h.ClockAdvance)
			clk.POST("/rewind", h.ClockRewind)
			clk.POST("/reset", h.ClockReset)
		}
	}
	return r
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ClockState handles GET /api/clock.
func (h *Handler) ClockState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"now":       h.clock.Now().Format(time.RFC3339),
		"simulated": h.clock.IsSimulated(),
	})
}

type simulateRequest struct {
	Time string `json:"time" binding:"required"`
}

// ClockSimulate handles POST /api/clock/simulate.
func (h *Handler) ClockSimulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "time is required"})
		return
	}
	t, err := time.Parse(time.RFC3339, req.Time)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time, expected RFC3339"})
		return
	}
	h.clock.SetSimulated(t)
	h.ClockState(c)
}

type specificRequest struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// ClockSpecific handles POST /api/clock/specific.
func (h *Handler) ClockSpecific(c *gin.Context) {
	var req specificRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Hour < 0 || req.Hour > 23 || req.Minute < 0 || req.Minute > 59 || req.Second < 0 || req.Second > 59 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "time of day out of range"})
		return
	}
	h.clock.SetSpecific(req.Hour, req.Minute, req.Second)
	h.ClockState(c)
}

type shiftRequest struct {
	Minutes int `json:"minutes" binding:"required"`
}

// ClockAdvance handles POST /api/clock/advance.
func (h *Handler) ClockAdvance(c *gin.Context) {
	var req shiftRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "minutes must be positive"})
		return
	}
	h.clock.Advance(req.Minutes)
	h.ClockState(c)
}

// ClockRewind handles POST /api/clock/rewind.
func (h *Handler) ClockRewind(c *gin.Context) {
	var req shiftRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "minutes must be positive"})
		return
	}
	h.clock.Rewind(req.Minutes)
	h.ClockState(c)
}

// ClockReset handles POST /api/clock/reset.
func (h *Handler) ClockReset(c *gin.Context) {
	h.clock.Reset()
	h.ClockState(c)
}

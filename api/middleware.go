package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sotramsa/enruta/core/clock"
)

// SimulatedTimeHeader carries an RFC3339 instant that pins the virtual
// clock before any scheduling operation runs in the request's scope.
const SimulatedTimeHeader = "X-Simulated-Time"

// SimulatedTime applies the simulated-time header, when present, to the
// process clock. A malformed value rejects the request so a typo never
// silently schedules against real time.
func SimulatedTime(clk *clock.VirtualClock) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(SimulatedTimeHeader)
		if raw == "" {
			c.Next()
			return
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "invalid " + SimulatedTimeHeader + " header, expected RFC3339",
			})
			return
		}
		clk.SetSimulated(t)
		c.Next()
	}
}

package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Events handles GET /api/events as a server-sent-events stream. The
// subscriber receives the connected and initial-state events first, then
// every queue change until the client disconnects.
func (h *Handler) Events(c *gin.Context) {
	if h.notifier == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	sub, err := h.notifier.Subscribe(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer h.notifier.Unsubscribe(sub)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(ev.Event, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

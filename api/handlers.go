package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sotramsa/enruta/core/model"
	"github.com/sotramsa/enruta/core/scheduler"
)

func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.As(err, &nf):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.Is(err, model.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "rotation slot conflict"})
	default:
		h.log.Errorf("request failed: %v", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pairParams(c *gin.Context) (int64, int64, bool) {
	vehicleID, err := strconv.ParseInt(c.Query("vehicleId"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid vehicleId"})
		return 0, 0, false
	}
	driverID, err := strconv.ParseInt(c.Query("driverId"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid driverId"})
		return 0, 0, false
	}
	return vehicleID, driverID, true
}

// GetGaps handles GET /api/gaps?vehicleId=&driverId=.
func (h *Handler) GetGaps(c *gin.Context) {
	vehicleID, driverID, ok := pairParams(c)
	if !ok {
		return
	}
	gaps, err := h.scheduler.AvailableGaps(c.Request.Context(), vehicleID, driverID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gaps)
}

type autoAssignRequest struct {
	VehicleID int64 `json:"vehicleId" binding:"required"`
	DriverID  int64 `json:"driverId" binding:"required"`
}

// AutoAssign handles POST /api/dispatches/auto.
func (h *Handler) AutoAssign(c *gin.Context) {
	var req autoAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "vehicleId and driverId are required"})
		return
	}
	out, err := h.scheduler.AutoAssign(c.Request.Context(), req.VehicleID, req.DriverID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	switch out.Status {
	case scheduler.StatusAssigned:
		c.JSON(http.StatusCreated, out)
	case scheduler.StatusBlocked:
		c.JSON(http.StatusUnprocessableEntity, out)
	default:
		c.JSON(http.StatusOK, out)
	}
}

// CancelDispatch handles DELETE /api/dispatches/:id.
func (h *Handler) CancelDispatch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid dispatch id"})
		return
	}
	if err := h.scheduler.CancelDispatch(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// VehicleToday handles GET /api/vehicles/:id/today.
func (h *Handler) VehicleToday(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid vehicle id"})
		return
	}
	entries, err := h.scheduler.RoutesForVehicleToday(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Stats handles GET /api/stats?from=&to= with RFC3339 bounds.
func (h *Handler) Stats(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp, expected RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp, expected RFC3339"})
		return
	}
	stats, err := h.scheduler.RotationStatistics(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Validate handles GET /api/validate?vehicleId=&driverId=.
func (h *Handler) Validate(c *gin.Context) {
	vehicleID, driverID, ok := pairParams(c)
	if !ok {
		return
	}
	result, err := h.validator.Validate(c.Request.Context(), vehicleID, driverID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

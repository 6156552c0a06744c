package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/model"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

// Maps Service errors to HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trips.ErrNoData):
		respondError(c, http.StatusServiceUnavailable, err)
	case errors.Is(err, trips.ErrTripNotFound):
		respondError(c, http.StatusNotFound, err)
	default:
		respondError(c, http.StatusInternalServerError, err)
	}
}

type handlers struct {
	svc *trips.Service
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

func (h *handlers) randomTripID(c *gin.Context) {
	id, err := h.svc.RandomTripID()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip_id": id})
}

func (h *handlers) demandForecast(c *gin.Context) {
	demand, err := h.svc.DemandForecast()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, demand)
}

func (h *handlers) tripByID(c *gin.Context) {
	points, err := h.svc.TripByID(c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func (h *handlers) hotZones(c *gin.Context) {
	zones, err := h.svc.HotZones()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, zones)
}

func (h *handlers) simulateTrip(c *gin.Context) {
	record, err := h.svc.SimulateTrip()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *handlers) listTrips(c *gin.Context) {
	limit, err := intQuery(c, "limit", model.DefaultListLimit)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	page, err := h.svc.ListTrips(limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Reads an integer query parameter. Missing or blank means def.
func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

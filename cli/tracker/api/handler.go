// Package api is the read-only dashboard surface: fleet snapshots with
// classified states, per-vehicle detail and trip reports derived from
// the history feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/fleetwatch/fleetwatch/cli/tracker/fleet"
	"github.com/fleetwatch/fleetwatch/cli/tracker/trip"
	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

const dateFormat = "2006-01-02"

// HistorySource is what the trips endpoint needs from the REST client.
type HistorySource interface {
	FetchHistory(ctx context.Context, id types.DeviceID, from, to time.Time) ([]types.HistorySample, error)
}

// Geocoder resolves a coordinate to an address. Optional; stop points
// come back without addresses when it is absent or failing.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

type Handler struct {
	Store    *fleet.Store
	History  HistorySource
	Geocoder Geocoder

	// Connected reports whether the live socket is up. Surfaced so the
	// dashboard can tell live data from polled data.
	Connected func() bool

	// InactiveAfter drives the list-view classification,
	// MarkerInactiveAfter the much more lenient map-marker one.
	InactiveAfter       time.Duration
	MarkerInactiveAfter time.Duration

	TripOptions trip.Options
}

func NewHandler(store *fleet.Store, history HistorySource, geocoder Geocoder, connected func() bool, inactiveAfter, markerInactiveAfter time.Duration) *Handler {
	return &Handler{
		Store:               store,
		History:             history,
		Geocoder:            geocoder,
		Connected:           connected,
		InactiveAfter:       inactiveAfter,
		MarkerInactiveAfter: markerInactiveAfter,
		TripOptions:         trip.DefaultOptions(),
	}
}

type vehicleView struct {
	types.VehicleRecord
	State       string `json:"state"`
	MarkerState string `json:"marker_state"`
}

func (h *Handler) view(rec types.VehicleRecord, now time.Time) vehicleView {
	return vehicleView{
		VehicleRecord: rec,
		State:         fleet.Classify(rec, now, h.InactiveAfter).String(),
		MarkerState:   fleet.Classify(rec, now, h.MarkerInactiveAfter).String(),
	}
}

func (h *Handler) GetFleet(c *gin.Context) {
	now := time.Now()

	records := h.Store.Snapshot()
	vehicles := make([]vehicleView, 0, len(records))
	for _, rec := range records {
		vehicles = append(vehicles, h.view(rec, now))
	}

	c.JSON(http.StatusOK, gin.H{
		"vehicles":  vehicles,
		"counts":    h.Store.AggregateCounts(now),
		"connected": h.connected(),
	})
}

func (h *Handler) GetFleetCounts(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.AggregateCounts(time.Now()))
}

func (h *Handler) GetVehicle(c *gin.Context) {
	id := types.DeviceID(c.Param("imei"))

	rec, ok := h.Store.Record(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	c.JSON(http.StatusOK, h.view(rec, time.Now()))
}

type stopView struct {
	types.StopPoint
	Address string `json:"address,omitempty"`
}

func (h *Handler) GetVehicleTrips(c *gin.Context) {
	id := types.DeviceID(c.Param("imei"))
	if _, ok := h.Store.Record(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown vehicle"})
		return
	}

	to := time.Now()
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(dateFormat, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' date"})
			return
		}
		to = parsed
	}
	from := to
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(dateFormat, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' date"})
			return
		}
		from = parsed
	}

	samples, err := h.History.FetchHistory(c.Request.Context(), id, from, to)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	result := trip.Segment(samples, h.TripOptions)

	stops := make([]stopView, 0, len(result.StopPoints))
	for _, sp := range result.StopPoints {
		stops = append(stops, stopView{StopPoint: sp, Address: h.address(c.Request.Context(), sp)})
	}

	c.JSON(http.StatusOK, gin.H{
		"trips": result.Trips,
		"stops": stops,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"vehicles":  h.Store.Size(),
		"connected": h.connected(),
	})
}

func (h *Handler) connected() bool {
	return h.Connected != nil && h.Connected()
}

// address resolves a stop's address best effort: a geocode failure
// leaves the field empty instead of failing the report.
func (h *Handler) address(ctx context.Context, sp types.StopPoint) string {
	if h.Geocoder == nil {
		return ""
	}
	addr, err := h.Geocoder.ReverseGeocode(ctx, sp.Position.Latitude, sp.Position.Longitude)
	if err != nil {
		log.WithField("err", err).Debug("stop point left unresolved")
		return ""
	}
	return addr
}

// Package types holds the wire and domain models shared by the tracker
// packages: latest-known snapshots keyed by IMEI, partial update events
// coming off the socket, history samples and the trip/stop structures
// derived from them.
package types

import (
	"encoding/json"
	"time"
)

// DeviceID is the IMEI of a tracked unit. It is the primary key for all
// per-vehicle state and never changes once assigned.
type DeviceID string

// StatusSnapshot is the latest known device health state.
type StatusSnapshot struct {
	DeviceID     DeviceID  `json:"device_id"`
	BatteryLevel int       `json:"battery_level"`
	SignalLevel  int       `json:"signal_level"`
	IgnitionOn   bool      `json:"ignition_on"`
	Charging     bool      `json:"charging"`
	RelayOn      bool      `json:"relay_on"`
	ObservedAt   time.Time `json:"observed_at"`
}

// LocationSnapshot is the latest known GPS fix. Versioned independently
// of StatusSnapshot: the two update asynchronously and must not block
// each other.
type LocationSnapshot struct {
	DeviceID       DeviceID  `json:"device_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	SpeedKmh       float64   `json:"speed_kmh"`
	Course         float64   `json:"course"`
	SatelliteCount int       `json:"satellite_count"`
	RealTimeGps    bool      `json:"real_time_gps"`
	ObservedAt     time.Time `json:"observed_at"`
}

// StaticAttributes are the registry fields of a vehicle, loaded once
// from the fleet API and not touched by the event stream.
type StaticAttributes struct {
	Name          string  `json:"name"`
	PlateNumber   string  `json:"plate_number"`
	VehicleType   string  `json:"vehicle_type"`
	SpeedLimitKmh float64 `json:"speed_limit_kmh"`
	OdometerKm    float64 `json:"odometer_km"`
}

// VehicleRecord is the unit of fleet state: identity, registry
// attributes and the latest snapshots, either of which may be absent
// until the first observation arrives.
type VehicleRecord struct {
	ID         DeviceID          `json:"imei"`
	Attributes StaticAttributes  `json:"attributes"`
	Status     *StatusSnapshot   `json:"status,omitempty"`
	Location   *LocationSnapshot `json:"location,omitempty"`
}

// StatusEvent is a partial status update. Pointer fields distinguish
// "omitted" from zero values so a partial update never erases fields it
// does not carry.
type StatusEvent struct {
	DeviceID     DeviceID  `json:"device_id"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	SignalLevel  *int      `json:"signal_level,omitempty"`
	IgnitionOn   *bool     `json:"ignition_on,omitempty"`
	Charging     *bool     `json:"charging,omitempty"`
	RelayOn      *bool     `json:"relay_on,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// LocationEvent is a partial location update, symmetric to StatusEvent.
type LocationEvent struct {
	DeviceID       DeviceID  `json:"device_id"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty"`
	Course         *float64  `json:"course,omitempty"`
	SatelliteCount *int      `json:"satellite_count,omitempty"`
	RealTimeGps    *bool     `json:"real_time_gps,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// SampleKind discriminates history samples.
type SampleKind string

const (
	SampleLocation SampleKind = "location"
	SampleStatus   SampleKind = "status"
)

// HistorySample is one record of the combined location+status history
// feed, ordered by ObservedAt ascending once normalized.
type HistorySample struct {
	DeviceID   DeviceID   `json:"device_id"`
	Kind       SampleKind `json:"kind"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	SpeedKmh   *float64   `json:"speed_kmh,omitempty"`
	Course     *float64   `json:"course,omitempty"`
	IgnitionOn *bool      `json:"ignition_on,omitempty"`
	ObservedAt time.Time  `json:"observed_at"`
}

// TripPoint is a trip boundary coordinate.
type TripPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Trip is a contiguous motion interval cut out of a history sample
// sequence. Immutable once computed; StartTime/EndTime are aligned with
// the neighboring stop points when those exist.
type Trip struct {
	Number          int             `json:"number"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	StartPoint      TripPoint       `json:"start_point"`
	EndPoint        TripPoint       `json:"end_point"`
	DistanceKm      float64         `json:"distance_km"`
	DurationMinutes float64         `json:"duration_minutes"`
	AvgSpeedKmh     float64         `json:"avg_speed_kmh"`
	MaxSpeedKmh     float64         `json:"max_speed_kmh"`
	Samples         []HistorySample `json:"samples"`
}

// StopPoint is a detected dwell between two trips. Only dwells of one
// minute or longer are materialized.
type StopPoint struct {
	PrecedingTrip   int        `json:"preceding_trip"`
	FollowingTrip   *int       `json:"following_trip,omitempty"`
	ArrivalTime     *time.Time `json:"arrival_time,omitempty"`
	DepartureTime   *time.Time `json:"departure_time,omitempty"`
	DurationMinutes float64    `json:"duration_minutes"`
	Position        TripPoint  `json:"position"`
}

// AggregateCounts is the per-state fleet breakdown. The six buckets
// always sum to All.
type AggregateCounts struct {
	All       int `json:"all"`
	Running   int `json:"running"`
	Stopped   int `json:"stopped"`
	Idle      int `json:"idle"`
	Overspeed int `json:"overspeed"`
	Inactive  int `json:"inactive"`
	NoData    int `json:"no_data"`
}

// Alert is a server-pushed alert notification.
type Alert struct {
	AlertID     string          `json:"alert_id"`
	InstituteID string          `json:"institute_id"`
	DeviceID    DeviceID        `json:"device_id,omitempty"`
	Data        json.RawMessage `json:"alert_data,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// ToBytes serializes the alert for archival sinks.
func (a Alert) ToBytes() ([]byte, error) {
	return json.Marshal(a)
}

// MonitoringLog is a free-text monitoring message from the socket.
type MonitoringLog struct {
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// ToBytes serializes the log line for archival sinks.
func (m MonitoringLog) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

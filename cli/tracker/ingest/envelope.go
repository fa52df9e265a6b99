package ingest

import (
	"encoding/json"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

// Message discriminants on the socket. Inbound unknown types are logged
// and dropped, never fatal.
const (
	msgStatusUpdate   = "status_update"
	msgLocationUpdate = "location_update"
	msgVehicleUpdate  = "vehicle_update"
	msgNewAlert       = "new_alert"
	msgMonitoringLog  = "monitoring_log"
	msgJoinAck        = "join_ack"

	msgJoinDevice  = "join_device"
	msgLeaveDevice = "leave_device"
	msgJoinAlerts  = "join_alerts"
	msgLeaveAlerts = "leave_alerts"
)

// envelope is the framing of every socket message.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// Room addressing fields, used by join/leave frames and acks.
	DeviceID      types.DeviceID `json:"device_id,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// alertPayload is the wire shape of a new_alert frame.
type alertPayload struct {
	AlertID     string          `json:"alert_id"`
	InstituteID string          `json:"institute_id"`
	DeviceID    types.DeviceID  `json:"device_id"`
	AlertData   json.RawMessage `json:"alert_data"`
}

// monitoringPayload is the wire shape of a monitoring_log frame.
type monitoringPayload struct {
	Message string `json:"message"`
}

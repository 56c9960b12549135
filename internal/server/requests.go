package server

// Request types for WebSocket commands with validation tags.

// CancelRequest is the request body for session/cancel.
// An empty session ID cancels the active session.
type CancelRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,uuid"`
}

// AdvanceRequest is the request body for calibration/advance.
type AdvanceRequest struct {
	CalibrationID string `json:"calibration_id" validate:"omitempty,uuid"`
}

// SilenceUpdateRequest is the request body for silence/update.
type SilenceUpdateRequest struct {
	Threshold       *float64 `json:"threshold" validate:"omitempty,gt=0,lt=1"`
	DurationSeconds *float64 `json:"duration_seconds" validate:"omitempty,gt=0,lte=60"`
}

// EventsRequest is the request body for events/recent.
type EventsRequest struct {
	Limit int `json:"limit" validate:"omitempty,gte=1,lte=100"`
}

// DeviceSelectRequest is the request body for devices/select.
type DeviceSelectRequest struct {
	Device string `json:"device" validate:"required,max=256"`
}

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-dictation/internal/capture"
	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/device"
	"github.com/oszuidwest/zwfm-dictation/internal/events"
)

// MaxEventEntries is the number of event log entries returned when no limit is given.
const MaxEventEntries = 20

// Controller errors returned to WebSocket clients.
var (
	ErrNoActiveSession     = errors.New("no active recording session")
	ErrSessionMismatch     = errors.New("session is not the active session")
	ErrNoCalibration       = errors.New("no calibration waiting for input")
	ErrCalibrationMismatch = errors.New("calibration is not the active calibration")
	ErrBusy                = errors.New("audio device is busy")
)

// Controller is the application state the command handler acts on.
type Controller interface {
	// Status returns the current application state.
	Status() Status
	// StartSession starts a dictation in the background and returns its id.
	// The transcript is published to clients when it is ready.
	StartSession() (string, error)
	// CancelSession cancels the active session. An empty id matches any session.
	CancelSession(id string) (*capture.Result, error)
	// AdvanceCalibration moves an interactive calibration to its next phase.
	AdvanceCalibration(id string) error
	// Devices lists the capture devices of the configured backend.
	Devices() ([]device.Device, error)
}

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg  *config.Config
	ctrl Controller
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, ctrl Controller) *CommandHandler {
	return &CommandHandler{
		cfg:  cfg,
		ctrl: ctrl,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "session/cancel", "silence/update")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "calibration":
		h.handleCalibration(action, cmd, send)
	case "silence":
		h.handleSilence(action, cmd, send)
	case "devices":
		h.handleDevices(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "config":
		h.handleConfig(action, cmd, send)
	case "status":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd, errors.New("unknown command"))
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSession routes session/* commands
func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		id, err := h.ctrl.StartSession()
		if err != nil {
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, map[string]string{"session_id": id})
	case "cancel":
		HandleCommand(cmd, send, func(req *CancelRequest) (any, error) {
			res, err := h.ctrl.CancelSession(req.SessionID)
			if err != nil {
				return nil, err
			}
			slog.Info("session/cancel: session cancelled", "session_id", res.SessionID, "reason", res.Reason)
			return NewCancelResult(res), nil
		})
	default:
		slog.Warn("unknown session action", "action", action)
	}
}

// handleCalibration routes calibration/* commands
func (h *CommandHandler) handleCalibration(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "advance":
		HandleCommand(cmd, send, func(req *AdvanceRequest) (any, error) {
			return nil, h.ctrl.AdvanceCalibration(req.CalibrationID)
		})
	default:
		slog.Warn("unknown calibration action", "action", action)
	}
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd, NewConfigView(h.cfg.Snapshot()))
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "recent":
		HandleCommand(cmd, send, func(req *EventsRequest) (any, error) {
			snap := h.cfg.Snapshot()
			if !snap.HasEventLog() {
				return []events.Event{}, nil
			}
			limit := req.Limit
			if limit == 0 {
				limit = MaxEventEntries
			}
			return events.ReadLast(snap.EventsPath, limit)
		})
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

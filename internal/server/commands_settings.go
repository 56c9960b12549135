package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

// --- Silence detection handlers ---

// handleSilence routes silence/* commands
func (h *CommandHandler) handleSilence(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSilenceUpdate(cmd, send)
	case "get":
		SendSuccess(send, cmd, NewConfigView(h.cfg.Snapshot()).Silence)
	default:
		slog.Warn("unknown silence action", "action", action)
	}
}

// handleSilenceUpdate processes a silence/update command.
// The new values apply to the next session; a running session keeps its own.
func (h *CommandHandler) handleSilenceUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *SilenceUpdateRequest) (any, error) {
		snap := h.cfg.Snapshot()
		threshold := snap.SilenceThreshold
		duration := snap.SilenceDuration
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		if req.DurationSeconds != nil {
			duration = seconds(*req.DurationSeconds)
		}

		if err := h.cfg.UpdateSilence(threshold, duration); err != nil {
			return nil, util.WrapError("update silence settings", err)
		}
		slog.Info("silence/update: settings saved", "threshold", threshold, "duration", duration)
		return NewConfigView(h.cfg.Snapshot()).Silence, nil
	})
}

// --- Device handlers ---

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		devices, err := h.ctrl.Devices()
		if err != nil {
			SendError(send, cmd, util.WrapError("list devices", err))
			return
		}
		SendSuccess(send, cmd, devices)
	case "select":
		HandleCommand(cmd, send, func(req *DeviceSelectRequest) (any, error) {
			if err := h.cfg.SetAudioDevice(req.Device); err != nil {
				return nil, util.WrapError("save device", err)
			}
			slog.Info("devices/select: input device changed", "device", req.Device)
			return nil, nil
		})
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

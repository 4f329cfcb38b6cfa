package handler

import (
	"net/http"

	"github.com/alanyoungcy/xarb/internal/bot"
)

// StatusSource is the part of the bot the status endpoints read.
type StatusSource interface {
	Status() bot.Status
	Stat() bot.Stat
}

// StatusHandler serves the bot's mode, liveness and holdings.
type StatusHandler struct {
	mode string
	src  StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, src StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, src: src}
}

// GetStatus responds with the mode, venue connectivity and executor state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.mode,
		"status": h.src.Status(),
	})
}

// GetStat responds with each venue's target token amount and their total.
// GET /api/stat
func (h *StatusHandler) GetStat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Stat())
}

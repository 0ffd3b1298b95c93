package handlers

import (
	"net/http"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/auth"
	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"
)

// GetUsageHandler returns today's quota snapshot for the caller
func (h *Handlers) GetUsageHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.gate.Snapshot(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// SetUsageHandler stores the client's optimistic counter for today
func (h *Handlers) SetUsageHandler(w http.ResponseWriter, r *http.Request) {
	feature, err := metering.ParseFeature(r.PathValue("feature"))
	if err != nil {
		h.sendError(w, apperr.NotFound("unknown feature", err))
		return
	}

	var req api.SetUsageRequest
	if err := h.decode(w, r, maxBodyBytes, &req); err != nil {
		h.sendError(w, err)
		return
	}

	q, err := h.gate.SetUsage(r.Context(), auth.UserIDFromContext(r.Context()), feature, req.Count)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

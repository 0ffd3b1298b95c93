package handlers

import (
	"net/http"

	"sadhana-metering/internal/auth"
	"sadhana-metering/pkg/api"
)

// IdentifyHandler runs a metered photo identification
func (h *Handlers) IdentifyHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	// base64 inflates the image by a third, plus room for the JSON envelope
	limit := int64(h.config.AppConfig.Server.MaxImageBytes)*4/3 + 4096

	var req api.IdentifyRequest
	if err := h.decode(w, r, limit, &req); err != nil {
		h.sendError(w, err)
		return
	}

	result, err := h.identifyService.Identify(r.Context(), userID, req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

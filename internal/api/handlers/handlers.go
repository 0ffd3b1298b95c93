package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"sadhana-metering/internal/app"
	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/logger"
	chatService "sadhana-metering/internal/service/chat"
	conversationService "sadhana-metering/internal/service/conversation"
	identifyService "sadhana-metering/internal/service/identify"
	"sadhana-metering/internal/service/llm"
	"sadhana-metering/internal/service/quota"
	"sadhana-metering/pkg/api"
)

// maxBodyBytes caps JSON request bodies other than identify uploads.
const maxBodyBytes = 1 << 20

// Handlers uses the service layer for better separation of concerns
type Handlers struct {
	config              *app.Config
	gate                *quota.Gate
	chatService         *chatService.ChatService
	identifyService     *identifyService.IdentifyService
	conversationService *conversationService.ConversationService
}

// NewHandlers wires the services behind the HTTP API
func NewHandlers(config *app.Config, streams llm.StreamProvider, vision llm.VisionProvider) *Handlers {
	gate := quota.NewGate(config.DB, config.Usage, config.Plans(), config.Calendar)
	return &Handlers{
		config:              config,
		gate:                gate,
		chatService:         chatService.NewChatService(gate, streams, config.AppConfig.LLM.HistoryTurns),
		identifyService:     identifyService.NewIdentifyService(gate, vision, config.AppConfig.Server.MaxImageBytes),
		conversationService: conversationService.NewConversationService(config.DB),
	}
}

// Gate exposes the quota gate for callers outside the HTTP layer.
func (h *Handlers) Gate() *quota.Gate {
	return h.gate
}

// HealthHandler reports liveness
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Helper methods

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.InvalidInput("request body too large", err)
		}
		return apperr.InvalidInput("invalid request body", err)
	}
	return nil
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Error writing response")
	}
}

// sendError sends a standardized JSON error response derived from err's kind
func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)

	var classified *apperr.Error
	if !errors.As(err, &classified) {
		classified = apperr.New(kind, "internal error", err)
	}
	status := classified.HTTPStatus()

	errResp := api.ErrorResponse{
		Code:    status,
		Message: classified.Reason,
		Kind:    string(kind),
	}
	// Internal causes stay in the log.
	if classified.Err != nil && status < http.StatusInternalServerError {
		errResp.Error = classified.Err.Error()
	}

	entry := logger.Log.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}

	h.writeJSON(w, status, errResp)
}

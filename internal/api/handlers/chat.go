package handlers

import (
	"io"
	"net/http"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/auth"
	"sadhana-metering/internal/logger"
	chatService "sadhana-metering/internal/service/chat"
	"sadhana-metering/pkg/api"

	"github.com/sirupsen/logrus"
)

// ChatStreamHandler streams a metered chat turn as plain text. Errors that
// happen before the first byte are JSON error responses; a failure after
// that aborts the connection so the client cannot mistake a truncated
// answer for a complete one.
func (h *Handlers) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	logger.Log.WithField("user_id", userID).Info("Chat stream request received")

	var req api.ChatRequest
	if err := h.decode(w, r, maxBodyBytes, &req); err != nil {
		h.sendError(w, err)
		return
	}

	stream, err := h.chatService.Open(r.Context(), chatService.StreamRequest{
		UserID:   userID,
		Messages: req.Messages,
		System:   req.System,
	})
	if err != nil {
		h.sendError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	rc.Flush()

	err = stream.Forward(func(fragment string) error {
		if _, err := io.WriteString(w, fragment); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err == nil {
		return
	}

	log := logger.Log.WithFields(logrus.Fields{"user_id": userID, "kind": apperr.KindOf(err)})
	if apperr.Is(err, apperr.KindCancelled) {
		log.Debug("Chat stream ended by client")
		return
	}
	log.WithError(err).Warn("Aborting chat stream after upstream failure")
	panic(http.ErrAbortHandler)
}

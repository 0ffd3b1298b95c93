package handlers

import (
	"net/http"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/auth"
	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/api"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// conversationID reads the {id} path segment. Ids are UUIDs, so anything
// else cannot name a conversation.
func conversationID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperr.NotFound("conversation not found", err)
	}
	return id, nil
}

// GetConversationsHandler returns all conversations for the authenticated user
func (h *Handlers) GetConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	conversations, err := h.conversationService.GetUserConversations(r.Context(), userID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ConversationsResponse{Conversations: conversations})
}

// CreateConversationHandler creates a conversation titled after its first message
func (h *Handlers) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req api.CreateConversationRequest
	if err := h.decode(w, r, maxBodyBytes, &req); err != nil {
		h.sendError(w, err)
		return
	}

	conversation, err := h.conversationService.CreateConversation(r.Context(), userID, req.FirstMessage)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, conversation)
}

// GetLatestConversationHandler returns the most recently updated conversation with its messages
func (h *Handlers) GetLatestConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	latest, err := h.conversationService.GetLatestConversation(r.Context(), userID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, latest)
}

// GetConversationMessagesHandler returns all messages from a specific conversation
func (h *Handlers) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	convID, err := conversationID(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	messages, err := h.conversationService.GetConversationMessages(r.Context(), convID, userID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.MessagesResponse{Messages: messages})
}

// AddMessageHandler appends a message to a conversation
func (h *Handlers) AddMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	convID, err := conversationID(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	var req api.AddMessageRequest
	if err := h.decode(w, r, maxBodyBytes, &req); err != nil {
		h.sendError(w, err)
		return
	}

	message, err := h.conversationService.AddMessage(r.Context(), convID, userID, req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, message)
}

// TouchConversationHandler bumps a conversation's updated_at
func (h *Handlers) TouchConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	convID, err := conversationID(r)
	if err != nil {
		h.sendError(w, err)
		return
	}

	if err := h.conversationService.TouchConversation(r.Context(), convID, userID); err != nil {
		h.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteConversationHandler deletes a specific conversation
func (h *Handlers) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	convID, err := conversationID(r)
	if err != nil {
		h.sendError(w, err)
		return
	}
	logger.Log.WithFields(logrus.Fields{"user_id": userID, "conversation_id": convID}).Info("Delete conversation request")

	if err := h.conversationService.DeleteConversation(r.Context(), convID, userID); err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.DeleteResponse{
		Success: true,
		Message: "Conversation deleted successfully",
	})
}

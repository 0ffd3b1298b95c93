package handlers

import (
	"net/http"

	"sadhana-metering/internal/api/middleware"
	"sadhana-metering/internal/auth"
	"sadhana-metering/internal/metrics"
)

// Routes builds the API mux. Metered routes sit behind the per-user rate
// limiter; everything under /api except login, register and health needs
// a bearer token.
func (h *Handlers) Routes(authService *auth.Service, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	protected := func(next http.HandlerFunc) http.Handler {
		return authService.Middleware(next)
	}
	metered := func(next http.HandlerFunc) http.Handler {
		return authService.Middleware(limiter.Handler(next))
	}

	// Public routes
	mux.HandleFunc("POST /api/login", authService.LoginHandler)
	mux.HandleFunc("POST /api/register", authService.RegisterHandler)
	mux.HandleFunc("GET /api/health", h.HealthHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	// Metered routes
	mux.Handle("POST /api/chat", metered(h.ChatStreamHandler))
	mux.Handle("POST /api/identify", metered(h.IdentifyHandler))

	// Usage
	mux.Handle("GET /api/usage", protected(h.GetUsageHandler))
	mux.Handle("PUT /api/usage/{feature}", protected(h.SetUsageHandler))

	// Conversations
	mux.Handle("GET /api/conversations", protected(h.GetConversationsHandler))
	mux.Handle("POST /api/conversations", protected(h.CreateConversationHandler))
	mux.Handle("GET /api/conversations/latest", protected(h.GetLatestConversationHandler))
	mux.Handle("GET /api/conversations/{id}/messages", protected(h.GetConversationMessagesHandler))
	mux.Handle("POST /api/conversations/{id}/messages", protected(h.AddMessageHandler))
	mux.Handle("POST /api/conversations/{id}/touch", protected(h.TouchConversationHandler))
	mux.Handle("DELETE /api/conversations/{id}", protected(h.DeleteConversationHandler))

	return metrics.InstrumentHandler(middleware.CORS(mux))
}

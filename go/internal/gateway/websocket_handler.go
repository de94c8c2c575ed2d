package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wissel/go/internal/match/code"
)

// WebSocketHandler handles WebSocket upgrade requests from live viewers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleMatchConnection upgrades a viewer connection for ?code=XXXX.
func (h *WebSocketHandler) HandleMatchConnection(w http.ResponseWriter, r *http.Request) {
	matchCode := code.Canonical(r.URL.Query().Get("code"))
	if matchCode == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	if !code.Valid(matchCode) {
		http.Error(w, "invalid code format", http.StatusBadRequest)
		return
	}

	viewerID := r.URL.Query().Get("viewer")
	if viewerID == "" {
		viewerID = "anonymous"
	}

	// On failure the upgrader has already replied to the client.
	if err := h.connectionManager.UpgradeConnection(w, r, viewerID, matchCode); err != nil {
		log.Error().
			Err(err).
			Str("code", matchCode).
			Str("viewer_id", viewerID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/match", h.HandleMatchConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}

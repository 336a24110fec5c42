package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/relay/internal/config"
	"github.com/voicebridge/relay/internal/storage/sqlite"
	"github.com/voicebridge/relay/internal/telephony"
	"github.com/voicebridge/relay/internal/translation"
	"github.com/voicebridge/relay/internal/websocket"
	"github.com/voicebridge/relay/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	manager     *translation.Manager
	callStorage *sqlite.CallStorage
	wsServer    *websocket.Server
	telServer   *telephony.Server
	config      *config.Config
	logger      *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(manager *translation.Manager, callStorage *sqlite.CallStorage, wsServer *websocket.Server, telServer *telephony.Server, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		manager:     manager,
		callStorage: callStorage,
		wsServer:    wsServer,
		telServer:   telServer,
		config:      config,
		logger:      logger.Named("api-handler"),
	}
}

// CreateCall places a new translated call
func (h *Handler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var req translation.StartCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	orch, err := h.manager.StartCall(req)
	if err != nil {
		h.logger.Error("Failed to start call", logger.Error(err))
		http.Error(w, fmt.Sprintf("Failed to start call: %v", err), http.StatusBadRequest)
		return
	}

	call := orch.Snapshot()
	h.logger.Info("Call created via API",
		logger.String("call_id", call.ID),
		logger.String("mode", string(call.Mode)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(call); err != nil {
		h.logger.Error("Failed to encode call response", logger.Error(err))
	}
}

// GetCalls returns in-progress calls plus recent history
func (h *Handler) GetCalls(w http.ResponseWriter, r *http.Request) {
	active := h.manager.List()

	history, err := h.callStorage.GetRecentCalls(h.config.Storage.MaxCallsInAPI)
	if err != nil {
		h.logger.Error("Failed to load call history", logger.Error(err))
		http.Error(w, "Failed to load call history", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"active":  active,
		"history": history,
		"count":   len(active) + len(history),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode calls response", logger.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// GetCall returns one call: a live snapshot with running costs when the call
// is in progress, else its stored record
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		http.Error(w, "Call ID is required", http.StatusBadRequest)
		return
	}

	if orch, ok := h.manager.Get(callID); ok {
		response := map[string]any{
			"call":  orch.Snapshot(),
			"costs": orch.Costs(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			h.logger.Error("Failed to encode call response", logger.Error(err))
		}
		return
	}

	record, err := h.callStorage.GetCall(callID)
	if err != nil {
		h.logger.Error("Failed to load call record", logger.Error(err))
		http.Error(w, "Failed to load call record", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(record); err != nil {
		h.logger.Error("Failed to encode call record", logger.Error(err))
	}
}

// DeleteCall hangs up an in-progress call
func (h *Handler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		http.Error(w, "Call ID is required", http.StatusBadRequest)
		return
	}

	if err := h.manager.End(callID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to end call: %v", err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "success",
		"message": "Call ending",
	})
}

// ClientWebSocket upgrades the client device connection for a call
func (h *Handler) ClientWebSocket(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		http.Error(w, "Call ID is required", http.StatusBadRequest)
		return
	}
	h.wsServer.HandleCallConnection(w, r, callID)
}

// TelephonyStream upgrades the gateway media-stream connection for a call
func (h *Handler) TelephonyStream(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	if callID == "" {
		http.Error(w, "Call ID is required", http.StatusBadRequest)
		return
	}
	h.telServer.HandleStreamConnection(w, r, callID)
}

// Health returns service liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

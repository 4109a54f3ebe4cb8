package http

import (
	"encoding/json"
	"net/http"

	"elsa-quiz-live/internal/hub"
	"elsa-quiz-live/internal/results"

	"github.com/rs/zerolog/log"
)

// ResultsHandler accepts requests to email a finished room's results.
// Delivery itself belongs to the platform's mailer; the hub only validates
// and records the request.
type ResultsHandler struct {
	hub *hub.Hub
}

func NewResultsHandler(h *hub.Hub) *ResultsHandler {
	return &ResultsHandler{hub: h}
}

func (h *ResultsHandler) SendResults(w http.ResponseWriter, r *http.Request) {
	var req results.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomCode == "" || req.Email == "" {
		http.Error(w, "roomCode and email are required", http.StatusBadRequest)
		return
	}
	room, ok := h.hub.Room(req.RoomCode)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if !room.Finished() {
		http.Error(w, "game still in progress", http.StatusConflict)
		return
	}
	log.Info().Str("room", room.Code()).Str("email", req.Email).Msg("results summary queued")
	w.WriteHeader(http.StatusAccepted)
}

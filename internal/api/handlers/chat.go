package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/deckforge/deckforge/internal/api/response"
	"github.com/deckforge/deckforge/internal/deckstore"
	"github.com/deckforge/deckforge/internal/orchestrator"
)

// ChatHandler serves the unified /api/chat endpoint (spec.md §6): a new
// deck build when existing_deck is absent, a modification when present.
type ChatHandler struct {
	orchestrator *orchestrator.Orchestrator
}

// NewChatHandler wires the orchestrator driving both request flows.
func NewChatHandler(o *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{orchestrator: o}
}

// chatRequest is the wire shape of a /api/chat request body (spec.md §6).
type chatRequest struct {
	Message      string          `json:"message"`
	Context      *chatContext    `json:"context,omitempty"`
	ExistingDeck *deckstore.Body `json:"existing_deck,omitempty"`
}

type chatContext struct {
	Threshold     *float64 `json:"threshold,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
}

// chatResponsePayload is the wire shape of a /api/chat success body
// (spec.md §6): message, deck, and an always-present (possibly null) error.
type chatResponsePayload struct {
	Message string          `json:"message"`
	Deck    *deckstore.Body `json:"deck"`
	Error   interface{}     `json:"error"`
	Errors  []string        `json:"errors,omitempty"`
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed chat request body: "+err.Error())
		return
	}
	if req.Message == "" {
		response.BadRequest(w, "message is required")
		return
	}

	orchReq := &orchestrator.Request{Message: req.Message, RunQualityCheck: true}
	if req.ExistingDeck != nil {
		existing := req.ExistingDeck.ToDeck()
		orchReq.ExistingDeck = &existing
	}
	if req.Context != nil {
		orchReq.Threshold = req.Context.Threshold
		orchReq.MaxIterations = req.Context.MaxIterations
	}

	result, err := h.orchestrator.Run(r.Context(), orchReq)
	if err != nil {
		response.Error(w, err)
		return
	}

	body := deckstore.BodyFromDeck(result.Deck)
	response.Success(w, http.StatusOK, chatResponsePayload{
		Message: result.Message,
		Deck:    &body,
		Error:   nil,
		Errors:  result.Errors,
	})
}

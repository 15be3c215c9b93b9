package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/deckforge/deckforge/internal/api/response"
	"github.com/deckforge/deckforge/internal/apperr"
	"github.com/deckforge/deckforge/internal/authtoken"
	"github.com/deckforge/deckforge/internal/deckstore"
)

// DeckHandler serves the /api/decks persistence surface (spec.md §6).
type DeckHandler struct {
	store *deckstore.Store
}

// NewDeckHandler wires the deck store.
func NewDeckHandler(store *deckstore.Store) *DeckHandler {
	return &DeckHandler{store: store}
}

// saveDeckRequest is the POST /api/decks request body. IssueAPIToken is an
// opt-in convenience for operators layering their own auth in front of this
// service: when set alongside UserID, the response carries a one-time
// opaque token whose bcrypt hash is persisted for later verification.
type saveDeckRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Deck          deckstore.Body `json:"deck"`
	UserID        string         `json:"user_id"`
	IssueAPIToken bool           `json:"issue_api_token"`
}

type deckIDPayload struct {
	DeckID   string `json:"deck_id"`
	APIToken string `json:"api_token,omitempty"`
}

// CreateDeck handles POST /api/decks.
func (h *DeckHandler) CreateDeck(w http.ResponseWriter, r *http.Request) {
	var req saveDeckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed deck body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = req.Deck.Format + " " + req.Deck.Archetype
	}

	d := req.Deck.ToDeck()

	if req.IssueAPIToken && req.UserID != "" {
		token, hash, err := issueToken()
		if err != nil {
			response.Error(w, apperr.Wrap(apperr.KindInternal, "issue api token", err))
			return
		}
		id, err := h.store.SaveWithToken(r.Context(), req.Name, req.Description, &d, req.UserID, hash)
		if err != nil {
			response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "save deck", err))
			return
		}
		response.Success(w, http.StatusOK, deckIDPayload{DeckID: id, APIToken: token})
		return
	}

	id, err := h.store.Save(r.Context(), req.Name, req.Description, &d, req.UserID)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "save deck", err))
		return
	}
	response.Success(w, http.StatusOK, deckIDPayload{DeckID: id})
}

// IssueToken handles POST /api/decks/{id}/token, minting a fresh opaque API
// token for an already-saved deck and replacing any token hash it previously
// had. Only decks saved with a user_id can carry a token.
func (h *DeckHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "get deck", err))
		return
	}
	if existing == nil {
		response.Error(w, apperr.NotFound("deck %q", id))
		return
	}
	if existing.UserID == "" {
		response.Error(w, apperr.Invalid("deck %q has no user_id to associate a token with", id))
		return
	}

	token, hash, err := issueToken()
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindInternal, "issue api token", err))
		return
	}
	if err := h.store.AttachTokenHash(r.Context(), id, hash); err != nil {
		response.Error(w, translateStoreErr("deck", id, err))
		return
	}
	response.Success(w, http.StatusOK, deckIDPayload{DeckID: id, APIToken: token})
}

// issueToken mints a fresh opaque token and its bcrypt hash.
func issueToken() (token, hash string, err error) {
	token, err = authtoken.Generate()
	if err != nil {
		return "", "", err
	}
	hash, err = authtoken.Hash(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}

// recordPayload is the wire shape of one stored deck record.
type recordPayload struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Format           string         `json:"format"`
	Archetype        string         `json:"archetype"`
	Colors           []string       `json:"colors"`
	Deck             deckstore.Body `json:"deck"`
	QualityScore     *float64       `json:"quality_score,omitempty"`
	ImprovementNotes string         `json:"improvement_notes,omitempty"`
	TotalCards       int            `json:"total_cards"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

func payloadFromRecord(r *deckstore.Record) recordPayload {
	return recordPayload{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Format:           r.Format,
		Archetype:        r.Archetype,
		Colors:           r.Colors,
		Deck:             r.Body,
		QualityScore:     r.QualityScore,
		ImprovementNotes: r.ImprovementNotes,
		TotalCards:       r.TotalCards,
		CreatedAt:        r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:        r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// GetDeck handles GET /api/decks/{id}.
func (h *DeckHandler) GetDeck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "get deck", err))
		return
	}
	if rec == nil {
		response.Error(w, apperr.NotFound("deck %q", id))
		return
	}
	response.Success(w, http.StatusOK, payloadFromRecord(rec))
}

type listDecksPayload struct {
	Decks []recordPayload `json:"decks"`
	Total int             `json:"total"`
}

// ListDecks handles GET /api/decks.
func (h *DeckHandler) ListDecks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := deckstore.Filters{Format: q.Get("format"), Archetype: q.Get("archetype")}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	records, err := h.store.List(r.Context(), filters, limit, offset)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "list decks", err))
		return
	}
	total, err := h.store.Count(r.Context(), filters)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "count decks", err))
		return
	}

	payloads := make([]recordPayload, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, payloadFromRecord(rec))
	}
	response.Success(w, http.StatusOK, listDecksPayload{Decks: payloads, Total: total})
}

// updateDeckRequest is the PUT /api/decks/{id} request body. Name and
// Description are carried through unchanged when omitted.
type updateDeckRequest struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Deck             deckstore.Body `json:"deck"`
	QualityScore     *float64       `json:"quality_score,omitempty"`
	ImprovementNotes string         `json:"improvement_notes,omitempty"`
}

// UpdateDeck handles PUT /api/decks/{id}.
func (h *DeckHandler) UpdateDeck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "get deck", err))
		return
	}
	if existing == nil {
		response.Error(w, apperr.NotFound("deck %q", id))
		return
	}

	var req updateDeckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed deck body: "+err.Error())
		return
	}

	name := req.Name
	if name == "" {
		name = existing.Name
	}
	description := req.Description
	if description == "" {
		description = existing.Description
	}

	d := req.Deck.ToDeck()
	if err := h.store.Update(r.Context(), id, name, description, &d, req.QualityScore, req.ImprovementNotes); err != nil {
		response.Error(w, translateStoreErr("deck", id, err))
		return
	}

	updated, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		response.Error(w, apperr.Wrap(apperr.KindUpstreamUnavailable, "get deck", err))
		return
	}
	response.Success(w, http.StatusOK, payloadFromRecord(updated))
}

// DeleteDeck handles DELETE /api/decks/{id}.
func (h *DeckHandler) DeleteDeck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		response.Error(w, translateStoreErr("deck", id, err))
		return
	}
	response.Success(w, http.StatusOK, map[string]string{"id": id})
}

// translateStoreErr maps deckstore's sql.ErrNoRows sentinel (used for
// "no such id" on Update/Delete) into apperr.KindNotFound, and everything
// else into an upstream failure.
func translateStoreErr(resource, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s %q", resource, id)
	}
	return apperr.Wrap(apperr.KindUpstreamUnavailable, "store operation failed", err)
}

package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckforge/deckforge/internal/analyzer"
	"github.com/deckforge/deckforge/internal/builder"
	"github.com/deckforge/deckforge/internal/cache"
	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/deckstore"
	"github.com/deckforge/deckforge/internal/llm"
	"github.com/deckforge/deckforge/internal/modify"
	"github.com/deckforge/deckforge/internal/orchestrator"
	"github.com/deckforge/deckforge/internal/repository"
	"github.com/deckforge/deckforge/internal/vectorindex"

	_ "modernc.org/sqlite"
)

// noopProvider answers every structured call with an empty, valid plan so
// the build/refine loop terminates immediately with a land-only deck.
type noopProvider struct{}

func (noopProvider) IsAvailable(ctx context.Context) bool { return true }
func (noopProvider) Generate(ctx context.Context, system, prompt string, opts llm.Options) (string, error) {
	return "", nil
}
func (noopProvider) StructuredCall(ctx context.Context, system, prompt string, out interface{}) error {
	return json.Unmarshal([]byte(`{"strategy":"","card_selections":[]}`), out)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE cards (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, name_lower TEXT NOT NULL,
			mana_cost TEXT NOT NULL DEFAULT '', cmc REAL NOT NULL DEFAULT 0,
			colors TEXT NOT NULL DEFAULT '', color_identity TEXT NOT NULL DEFAULT '',
			type_line TEXT NOT NULL DEFAULT '', types TEXT NOT NULL DEFAULT '',
			subtypes TEXT NOT NULL DEFAULT '', oracle_text TEXT NOT NULL DEFAULT '',
			power TEXT NOT NULL DEFAULT '', toughness TEXT NOT NULL DEFAULT '',
			loyalty TEXT NOT NULL DEFAULT '', set_code TEXT NOT NULL DEFAULT '',
			rarity TEXT NOT NULL DEFAULT '', legalities TEXT NOT NULL DEFAULT '{}',
			keywords TEXT NOT NULL DEFAULT '', ingested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX idx_cards_name_lower_earliest ON cards(name_lower, ingested_at, id);
		CREATE TABLE card_embeddings (
			card_id TEXT PRIMARY KEY REFERENCES cards(id) ON DELETE CASCADE,
			dimension INTEGER NOT NULL, vector BLOB NOT NULL,
			tags TEXT NOT NULL DEFAULT '', updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE decks (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, description TEXT NOT NULL DEFAULT '',
			format TEXT NOT NULL, archetype TEXT NOT NULL DEFAULT '', colors TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL, quality_score REAL, improvement_notes TEXT NOT NULL DEFAULT '',
			total_cards INTEGER NOT NULL DEFAULT 0, user_id TEXT, user_token_hash TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	require.NoError(t, err)
	return db
}

func newTestServer(t *testing.T) (*Server, *deckstore.Store) {
	db := openTestDB(t)
	index := vectorindex.NewIndex(db)
	c := cache.NewTiered(cache.DefaultTieredConfig())
	repo := repository.New(c, catalog.NewStore(db), index, nil)

	b := builder.New(repo, noopProvider{}, nil)
	a := analyzer.New(nil, index, nil)
	m := modify.New(repo, noopProvider{}, b, a, nil)
	o := orchestrator.New(b, a, m)

	store := deckstore.NewStore(db)
	srv := NewServer(Config{Port: 0}, o, store)
	return srv, store
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthCheckReturnsHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestChatNewDeckReturnsSuccessEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := `{"message": "Build a Standard deck"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotNil(t, body["deck"])
}

func TestChatMissingMessageReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestChatWrongContentTypeIsRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestDeckLifecycleCreateGetUpdateDelete(t *testing.T) {
	srv, _ := newTestServer(t)

	createPayload := `{
		"name": "Test Deck",
		"deck": {"cards": [], "format": "Modern", "archetype": "aggro", "colors": ["R"], "total_cards": 0}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/decks/", bytes.NewBufferString(createPayload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	id, ok := decodeBody(t, rec)["deck_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	getReq := httptest.NewRequest(http.MethodGet, "/api/decks/"+id, nil)
	getRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
	getBody := decodeBody(t, getRec)
	assert.Equal(t, "Test Deck", getBody["name"])

	updatePayload := `{
		"name": "Renamed Deck",
		"deck": {"cards": [], "format": "Modern", "archetype": "aggro", "colors": ["R"], "total_cards": 0}
	}`
	putReq := httptest.NewRequest(http.MethodPut, "/api/decks/"+id, bytes.NewBufferString(updatePayload))
	putReq.Header.Set("Content-Type", "application/json")
	putRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(putRec, putReq)
	assert.Equal(t, http.StatusOK, putRec.Code)
	assert.Equal(t, "Renamed Deck", decodeBody(t, putRec)["name"])

	delReq := httptest.NewRequest(http.MethodDelete, "/api/decks/"+id, nil)
	delRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusOK, delRec.Code)

	missingReq := httptest.NewRequest(http.MethodGet, "/api/decks/"+id, nil)
	missingRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(missingRec, missingReq)
	assert.Equal(t, http.StatusNotFound, missingRec.Code)
}

func TestCreateDeckWithIssueAPITokenReturnsOneTimeToken(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `{
		"name": "Owned Deck",
		"user_id": "user-1",
		"issue_api_token": true,
		"deck": {"cards": [], "format": "Modern", "archetype": "aggro", "colors": ["R"], "total_cards": 0}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/decks/", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	token, ok := body["api_token"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, token)
}

func TestCreateDeckWithoutUserIDNeverIssuesToken(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := `{
		"name": "Anonymous Deck",
		"issue_api_token": true,
		"deck": {"cards": [], "format": "Modern", "archetype": "aggro", "colors": ["R"], "total_cards": 0}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/decks/", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	_, hasToken := body["api_token"]
	assert.False(t, hasToken)
}

func TestIssueTokenReissuesForOwnedDeck(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	d := deckstore.Body{Format: "Modern"}.ToDeck()
	id, err := store.Save(ctx, "deck", "", &d, "user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/decks/"+id+"/token", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	token, ok := body["api_token"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, token)
}

func TestIssueTokenRejectsDeckWithoutUserID(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	d := deckstore.Body{Format: "Modern"}.ToDeck()
	id, err := store.Save(ctx, "deck", "", &d, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/decks/"+id+"/token", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid_input", body["error"])
}

func TestIssueTokenUnknownDeckReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/decks/does-not-exist/token", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUnknownDeckReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/decks/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "not_found", body["error"])
}

func TestUpdateUnknownDeckReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/api/decks/does-not-exist", bytes.NewBufferString(`{"deck":{"format":"Modern"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDecksAppliesPagination(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d := deckstore.Body{Format: "Modern"}.ToDeck()
		_, err := store.Save(ctx, "deck", "", &d, "")
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/decks/?limit=2&offset=0", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.InDelta(t, 3, body["total"], 0)
	decks, ok := body["decks"].([]interface{})
	require.True(t, ok)
	assert.Len(t, decks, 2)
}

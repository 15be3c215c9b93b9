package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckforge/deckforge/internal/analyzer"
	"github.com/deckforge/deckforge/internal/builder"
	"github.com/deckforge/deckforge/internal/cache"
	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/deck"
	"github.com/deckforge/deckforge/internal/llm"
	"github.com/deckforge/deckforge/internal/modify"
	"github.com/deckforge/deckforge/internal/repository"
	"github.com/deckforge/deckforge/internal/vectorindex"

	_ "modernc.org/sqlite"
)

// scriptedProvider replays a fixed sequence of structured-output
// responses, cycling back to the last one once exhausted so a
// many-iteration refinement loop never starves mid-test.
type scriptedProvider struct {
	responses []string
	calls     int
	failAfter int // if > 0, StructuredCall errors from this call onward
}

func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedProvider) Generate(ctx context.Context, system, prompt string, opts llm.Options) (string, error) {
	return "", nil
}

func (p *scriptedProvider) StructuredCall(ctx context.Context, system, prompt string, out interface{}) error {
	p.calls++
	if p.failAfter > 0 && p.calls >= p.failAfter {
		return errors.New("scripted provider exhausted")
	}
	idx := p.calls - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return json.Unmarshal([]byte(p.responses[idx]), out)
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
	`)
	require.NoError(t, err)
	return db
}

func seedCatalog(t *testing.T, db *sql.DB) *catalog.Store {
	store := catalog.NewStore(db)
	ctx := context.Background()
	cards := []*catalog.Card{
		{ID: "c1", Name: "Lightning Bolt", CMC: 1, Colors: []string{"R"}, ColorIdentity: []string{"R"}, Types: []string{"Instant"}, Legalities: map[string]bool{}},
		{ID: "c2", Name: "Goblin Guide", CMC: 1, Colors: []string{"R"}, ColorIdentity: []string{"R"}, Types: []string{"Creature"}, Subtypes: []string{"Goblin"}, Legalities: map[string]bool{}},
		{ID: "c3", Name: "Monastery Swiftspear", CMC: 1, Colors: []string{"R"}, ColorIdentity: []string{"R"}, Types: []string{"Creature"}, Legalities: map[string]bool{}},
		{ID: "c4", Name: "Colossus", CMC: 7, Colors: []string{"R"}, ColorIdentity: []string{"R"}, Types: []string{"Creature"}, Legalities: map[string]bool{}},
	}
	for _, c := range cards {
		require.NoError(t, store.Upsert(ctx, c))
	}
	return store
}

func newTestOrchestrator(t *testing.T, buildProvider, refineProvider *scriptedProvider) *Orchestrator {
	db := openTestDB(t)
	seedCatalog(t, db)
	index := vectorindex.NewIndex(db)
	c := cache.NewTiered(cache.DefaultTieredConfig())
	repo := repository.New(c, catalog.NewStore(db), index, nil)

	b := builder.New(repo, buildProvider, nil)
	a := analyzer.New(nil, nil, nil) // no LLM-assisted plan needed for these scenarios
	m := modify.New(repo, refineProvider, b, a, nil)

	return New(b, a, m)
}

const buildPlan = `{
	"strategy": "mono red aggro",
	"card_selections": [
		{"card_name": "Lightning Bolt", "quantity": 4, "reasoning": "burn"},
		{"card_name": "Goblin Guide", "quantity": 4, "reasoning": "fast clock"},
		{"card_name": "Monastery Swiftspear", "quantity": 4, "reasoning": "prowess"}
	]
}`

const refinementNoOp = `{"analysis": "holding steady", "actions": []}`

func TestRunNewDeckFlowProducesFullSizeDeckWithinMaxIterations(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{responses: []string{buildPlan}}, &scriptedProvider{responses: []string{refinementNoOp}})

	resp, err := o.Run(context.Background(), &Request{Message: "Build a Modern red aggro deck"})
	require.NoError(t, err)
	assert.Equal(t, 60, resp.Deck.TotalCards())
	assert.LessOrEqual(t, resp.Iterations, DefaultMaxIterations)
	assert.Contains(t, resp.Message, "Quality Score:")
}

func TestRunNewDeckFlowWithZeroMaxIterationsVerifiesOnce(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{responses: []string{buildPlan}}, &scriptedProvider{responses: []string{refinementNoOp}})

	maxIter := 0
	resp, err := o.Run(context.Background(), &Request{Message: "Build a Standard deck", MaxIterations: &maxIter})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Iterations)
}

func TestRunNewDeckFlowDefaultsUnknownFormatToStandard(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{responses: []string{buildPlan}}, &scriptedProvider{responses: []string{refinementNoOp}})

	resp, err := o.Run(context.Background(), &Request{Message: "Build me something red and fast"})
	require.NoError(t, err)
	assert.Equal(t, 60, resp.Deck.TotalCards()) // Standard/Modern/etc all share deck size 60 here
	assert.Equal(t, "Standard", resp.Deck.Format)
}

func TestRunNewDeckFlowDegradesBuildFailureToLandOnlyDeck(t *testing.T) {
	// failAfter=1 makes the very first StructuredCall error; BuildInitial
	// degrades to an empty plan rather than failing, so the flow should
	// still succeed with a land-only deck, not an error.
	o := newTestOrchestrator(t, &scriptedProvider{failAfter: 1}, &scriptedProvider{responses: []string{refinementNoOp}})

	resp, err := o.Run(context.Background(), &Request{Message: "Build a Modern deck"})
	require.NoError(t, err)
	assert.Equal(t, resp.Deck.LandCount(), resp.Deck.TotalCards())
}

func TestRunModificationFlowRemovesHighCMCCards(t *testing.T) {
	buildProvider := &scriptedProvider{}
	refineProvider := &scriptedProvider{responses: []string{`{
		"intent_type": "REMOVE",
		"description": "cut the top end",
		"card_changes": [{"predicate": "CMC >= 6", "reason": "too slow"}],
		"constraints": [], "confidence": 0.9
	}`}}
	o := newTestOrchestrator(t, buildProvider, refineProvider)

	existing := &deck.Deck{Format: "Modern", Archetype: "aggro", Colors: []string{"R"}}
	existing.AddCopies(catalog.Card{Name: "Colossus", CMC: 7, Types: []string{"Creature"}}, 4)
	existing.AddCopies(catalog.Card{Name: "Mountain", Types: []string{"Basic", "Land"}}, 56)

	resp, err := o.Run(context.Background(), &Request{Message: "Remove all cards with CMC >= 6", ExistingDeck: existing})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Deck.QuantityOf("Colossus"))
	assert.Equal(t, 60, resp.Deck.TotalCards())
}

func TestRunRoutesDeterministicallyOnExistingDeckPresence(t *testing.T) {
	buildProvider := &scriptedProvider{responses: []string{buildPlan}}
	refineProvider := &scriptedProvider{responses: []string{refinementNoOp}}
	o := newTestOrchestrator(t, buildProvider, refineProvider)

	// no ExistingDeck -> new-deck flow, regardless of message content.
	resp, err := o.Run(context.Background(), &Request{Message: "modify my deck somehow"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Deck)
	assert.Equal(t, 60, resp.Deck.TotalCards())
}

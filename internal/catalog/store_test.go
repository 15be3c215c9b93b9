package catalog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestDB opens an in-memory catalog database with schema applied
// directly from the embedded migration SQL (golang-migrate's sqlite driver
// needs a real file path, so tests bypass it and exec the SQL themselves).
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", "file::memory:?cache=shared&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlBytes, err := migrationsFS.ReadFile("migrations/0001_init.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(sqlBytes))
	require.NoError(t, err)

	return db
}

func sampleCard(id, name string, cmc float64, colors []string, types []string) *Card {
	return &Card{
		ID:            id,
		Name:          name,
		ManaCost:      "{R}",
		CMC:           cmc,
		Colors:        colors,
		ColorIdentity: colors,
		TypeLine:      "Creature",
		Types:         types,
		OracleText:    "Haste. Deals damage.",
		Rarity:        "common",
		SetCode:       "TST",
		Legalities:    map[string]bool{"Standard": true},
	}
}

func TestUpsertAndGetByID(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	card := sampleCard("c1", "Goblin Guide", 1, []string{"R"}, []string{"Creature"})
	require.NoError(t, store.Upsert(ctx, card))

	got, err := store.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Goblin Guide", got.Name)
	require.True(t, got.LegalIn("Standard"))
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)

	got, err := store.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetByNameCaseInsensitiveEarliestWins(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleCard("c1", "Shock", 1, []string{"R"}, []string{"Instant"})))

	got, err := store.GetByName(ctx, "sHoCk")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "c1", got.ID)
}

func TestSearchOrdersByNameThenID(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleCard("c2", "Zebra Unicorn", 2, []string{"W"}, []string{"Creature"})))
	require.NoError(t, store.Upsert(ctx, sampleCard("c1", "Ambush Wolf", 2, []string{"G"}, []string{"Creature"})))

	results, err := store.Search(ctx, SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "Ambush Wolf", results[0].Name)
	require.Equal(t, "Zebra Unicorn", results[1].Name)
}

func TestSearchByCMCRange(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleCard("c1", "Cheap", 1, []string{"R"}, []string{"Creature"})))
	require.NoError(t, store.Upsert(ctx, sampleCard("c2", "Pricey", 6, []string{"R"}, []string{"Creature"})))

	min := 5.0
	results, err := store.Search(ctx, SearchFilters{MinCMC: &min}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Pricey", results[0].Name)
}

func TestSearchFullText(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleCard("c1", "Lightning Strike", 2, []string{"R"}, []string{"Instant"})))
	require.NoError(t, store.Upsert(ctx, sampleCard("c2", "Giant Growth", 1, []string{"G"}, []string{"Instant"})))

	results, err := store.Search(ctx, SearchFilters{TextContains: "Haste"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2) // both sample cards share the Haste oracle text
}

func TestCount(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, sampleCard("c1", "Shock", 1, []string{"R"}, []string{"Instant"})))
	require.NoError(t, store.Upsert(ctx, sampleCard("c2", "Bolt", 1, []string{"R"}, []string{"Instant"})))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

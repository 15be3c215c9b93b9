package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/deckforge/deckforge/internal/catalog"
)

// Result is one hit from Search: the matching card id, its cosine distance
// from the query (0 = identical), and a compact metadata record.
type Result struct {
	CardID   string
	Distance float64
	Metadata Metadata
}

// Metadata is the compact per-card record returned alongside search hits,
// avoiding a full catalog hydration when only descriptors are needed.
type Metadata struct {
	Name      string
	CMC       float64
	ColorsCSV string
	TypesCSV  string
	Rarity    string
	Legal     map[string]bool
}

// Filters narrows a semantic search.
type Filters struct {
	LegalInFormat string
	Colors        []string // card's colors must be a subset of these
}

// Index stores per-card embedding vectors in the catalog database
// (card_embeddings table) and answers cosine-similarity searches over them,
// per the Open Question decision to avoid a separate vector store.
type Index struct {
	db        *sql.DB
	generator *Generator

	mu        sync.RWMutex
	cache     map[string][]float64 // card id -> vector, loaded lazily
	cacheFull bool
}

// NewIndex wraps the catalog database connection.
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db, generator: NewGenerator(), cache: make(map[string][]float64)}
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// Upsert computes embeddings for cards (unless a vector was already
// provided via providedVectors, keyed by card id) and replaces any
// existing entries. Returns the count written.
func (idx *Index) Upsert(ctx context.Context, cards []*catalog.Card, providedVectors map[string][]float64) (int, error) {
	count := 0
	for _, c := range cards {
		vec, ok := providedVectors[c.ID]
		var tags []string
		if !ok {
			vec, tags = idx.generator.Embed(c)
		} else {
			_, tags = idx.generator.Embed(c)
		}

		_, err := idx.db.ExecContext(ctx, `
			INSERT INTO card_embeddings (card_id, dimension, vector, tags)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(card_id) DO UPDATE SET
				dimension = excluded.dimension, vector = excluded.vector,
				tags = excluded.tags, updated_at = CURRENT_TIMESTAMP`,
			c.ID, len(vec), encodeVector(vec), strings.Join(tags, ","),
		)
		if err != nil {
			return count, fmt.Errorf("upsert embedding for %s: %w", c.ID, err)
		}

		idx.mu.Lock()
		idx.cache[c.ID] = vec
		idx.mu.Unlock()

		count++
	}
	return count, nil
}

// Count returns the number of embeddings stored.
func (idx *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM card_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

func (idx *Index) loadAll(ctx context.Context) error {
	idx.mu.RLock()
	full := idx.cacheFull
	idx.mu.RUnlock()
	if full {
		return nil
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT card_id, vector FROM card_embeddings`)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scan embedding: %w", err)
		}
		idx.cache[id] = decodeVector(blob)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}
	idx.cacheFull = true
	return nil
}

// SynergyBonus returns the cosine similarity between two already-indexed
// cards' embeddings, for use as a secondary, suggestions-only signal. It
// never participates in the analyzer's authoritative synergy sub-score
// (spec.md §4.7 forbids changing that score's definition); callers fold it
// into free-text reasoning only. Returns 0 if either card has no embedding.
func (idx *Index) SynergyBonus(ctx context.Context, cardIDA, cardIDB string) (float64, error) {
	if err := idx.loadAll(ctx); err != nil {
		return 0, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	a, ok := idx.cache[cardIDA]
	if !ok {
		return 0, nil
	}
	b, ok := idx.cache[cardIDB]
	if !ok {
		return 0, nil
	}
	return CosineSimilarity(a, b), nil
}

// Search embeds queryText on the fly (as if it were a pseudo-card oracle
// description) and returns the k nearest stored embeddings by cosine
// similarity, hydrated with compact catalog metadata. filters are applied
// as post-predicates.
func (idx *Index) Search(ctx context.Context, queryText string, k int, filters *Filters) ([]Result, error) {
	if k <= 0 {
		k = 10
	}

	queryVec := embedQueryText(queryText)

	if err := idx.loadAll(ctx); err != nil {
		return nil, err
	}

	idx.mu.RLock()
	type scored struct {
		id   string
		dist float64
	}
	scores := make([]scored, 0, len(idx.cache))
	for id, vec := range idx.cache {
		sim := CosineSimilarity(queryVec, vec)
		scores = append(scores, scored{id: id, dist: 1 - sim})
	}
	idx.mu.RUnlock()

	sort.Slice(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })

	results := make([]Result, 0, k)
	for i, sc := range scores {
		if i >= k*4 {
			break // bound how much metadata we hydrate before filtering
		}
		meta, err := idx.loadMetadata(ctx, sc.id)
		if err != nil {
			continue
		}
		if filters != nil && !passesFilters(*meta, *filters) {
			continue
		}
		results = append(results, Result{CardID: sc.id, Distance: sc.dist, Metadata: *meta})
		if len(results) >= k {
			break
		}
	}

	return results, nil
}

func (idx *Index) loadMetadata(ctx context.Context, cardID string) (*Metadata, error) {
	row := idx.db.QueryRowContext(ctx,
		`SELECT name, cmc, colors, types, rarity, legalities FROM cards WHERE id = ?`, cardID)

	var m Metadata
	var legalitiesJSON string
	if err := row.Scan(&m.Name, &m.CMC, &m.ColorsCSV, &m.TypesCSV, &m.Rarity, &legalitiesJSON); err != nil {
		return nil, err
	}
	m.Legal = parseLegalities(legalitiesJSON)
	return &m, nil
}

func parseLegalities(raw string) map[string]bool {
	// Reuse catalog's JSON encoding without importing its internals: a
	// minimal decode is enough here since Metadata only needs membership.
	legal := make(map[string]bool)
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		return legal
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.Trim(strings.TrimSpace(kv[0]), `"`)
		val := strings.TrimSpace(kv[1])
		legal[key] = val == "true"
	}
	return legal
}

func passesFilters(m Metadata, f Filters) bool {
	if f.LegalInFormat != "" && !m.Legal[f.LegalInFormat] {
		return false
	}
	if len(f.Colors) > 0 {
		allowed := make(map[string]bool, len(f.Colors))
		for _, c := range f.Colors {
			allowed[c] = true
		}
		for _, c := range strings.Split(m.ColorsCSV, ",") {
			if c == "" {
				continue
			}
			if !allowed[c] {
				return false
			}
		}
	}
	return true
}

// embedQueryText produces a lightweight bag-of-keywords vector for free-text
// queries, reusing the same keyword dimensions as card embeddings so
// cosine similarity is meaningful against stored card vectors.
func embedQueryText(text string) []float64 {
	vec := make([]float64, Dimensions)
	g := NewGenerator()
	g.encodeKeywords(vec[35:64], text)

	lower := strings.ToLower(text)
	colorWords := map[string]int{"white": 0, "blue": 1, "black": 2, "red": 3, "green": 4}
	for word, i := range colorWords {
		if strings.Contains(lower, word) {
			vec[i] = 1.0
		}
	}
	typeWords := []struct {
		word  string
		index int
	}{
		{"creature", 13}, {"instant", 14}, {"sorcery", 15}, {"enchantment", 16},
		{"artifact", 17}, {"planeswalker", 18}, {"land", 19},
	}
	for _, tw := range typeWords {
		if strings.Contains(lower, tw.word) {
			vec[tw.index] = 1.0
		}
	}

	g.normalize(vec)
	return vec
}

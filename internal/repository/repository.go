// Package repository is the unified card-lookup facade consulted by the
// agent builder and modification executor (spec §4.4): cache first, then
// catalog, with write-through on miss and a degrading semantic search.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/deckforge/deckforge/internal/cache"
	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/vectorindex"
)

// Repository is the card-lookup facade.
type Repository struct {
	cache  cache.Cache
	store  *catalog.Store
	index  *vectorindex.Index
	logger *slog.Logger
}

// New wires a cache, catalog store, and vector index into one facade.
func New(c cache.Cache, store *catalog.Store, index *vectorindex.Index, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{cache: c, store: store, index: index, logger: logger}
}

func nameKey(name string) string { return "card:" + strings.ToLower(name) }
func idKey(id string) string     { return "card_id:" + id }

// GetByName resolves a card by name, checking the cache before the catalog.
// A catalog hit is written through into the cache's cold tier; a catalog
// miss is never cached (spec §4.4: no negative caching).
func (r *Repository) GetByName(ctx context.Context, name string) (*catalog.Card, error) {
	key := nameKey(name)
	if v, ok := r.cache.Get(key); ok {
		return v.(*catalog.Card), nil
	}

	card, err := r.store.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get card by name: %w", err)
	}
	if card == nil {
		return nil, nil
	}

	r.cache.Put(key, card, cache.TierCold)
	r.cache.Put(idKey(card.ID), card, cache.TierCold)
	return card, nil
}

// GetByID resolves a card by id under the same miss policy as GetByName.
func (r *Repository) GetByID(ctx context.Context, id string) (*catalog.Card, error) {
	key := idKey(id)
	if v, ok := r.cache.Get(key); ok {
		return v.(*catalog.Card), nil
	}

	card, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get card by id: %w", err)
	}
	if card == nil {
		return nil, nil
	}

	r.cache.Put(key, card, cache.TierCold)
	r.cache.Put(nameKey(card.Name), card, cache.TierCold)
	return card, nil
}

// Search delegates to the catalog; results are not cached as a set, but
// each hit is opportunistically inserted into the cold tier.
func (r *Repository) Search(ctx context.Context, filters catalog.SearchFilters, limit int) ([]*catalog.Card, error) {
	cards, err := r.store.Search(ctx, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("search cards: %w", err)
	}
	for _, c := range cards {
		r.cache.Put(idKey(c.ID), c, cache.TierCold)
	}
	return cards, nil
}

// SemanticSearch delegates to the vector index and hydrates hits from the
// catalog. Vector-index errors degrade to an empty result set with a
// logged warning rather than masking catalog lookups (spec §4.4).
func (r *Repository) SemanticSearch(ctx context.Context, query string, filters *vectorindex.Filters, limit int) ([]*catalog.Card, error) {
	results, err := r.index.Search(ctx, query, limit, filters)
	if err != nil {
		r.logger.Warn("semantic search degraded to empty result", "error", err, "query", query)
		return nil, nil
	}

	cards := make([]*catalog.Card, 0, len(results))
	for _, res := range results {
		card, err := r.GetByID(ctx, res.CardID)
		if err != nil {
			r.logger.Warn("semantic search hit could not be hydrated", "card_id", res.CardID, "error", err)
			continue
		}
		if card == nil {
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// Preload resolves each name concurrently (bounded by goroutines fanned
// out over names, mutex-guarded accumulation, mirroring the teacher's
// batch-fetch pattern) and returns how many resolved successfully.
func (r *Repository) Preload(ctx context.Context, names []string) (int, error) {
	var (
		mu     sync.Mutex
		loaded int
		wg     sync.WaitGroup
	)

	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			card, err := r.GetByName(ctx, name)
			if err != nil {
				r.logger.Warn("preload failed", "name", name, "error", err)
				return
			}
			if card == nil {
				return
			}
			mu.Lock()
			loaded++
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return loaded, nil
}

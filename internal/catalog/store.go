package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is the durable, indexed, full-text-searchable catalog of Card
// records described by spec §4.1.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-opened *sql.DB as a catalog Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func csv(values []string) string { return strings.Join(values, ",") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// GetByID returns the card with the given id, or (nil, nil) if missing.
func (s *Store) GetByID(ctx context.Context, id string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card by id: %w", err)
	}
	return card, nil
}

// GetByName returns the card matching name case-insensitively. Name
// collisions resolve to the earliest-ingested row via idx_cards_name_lower_earliest.
func (s *Store) GetByName(ctx context.Context, name string) (*Card, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM cards WHERE name_lower = ? ORDER BY ingested_at ASC, id ASC LIMIT 1`,
		strings.ToLower(name))
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card by name: %w", err)
	}
	return card, nil
}

// Search returns cards matching filters, ordered by name ascending, ties by id.
func (s *Store) Search(ctx context.Context, filters SearchFilters, limit int) ([]*Card, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		where []string
		args  []interface{}
	)

	if filters.MinCMC != nil {
		where = append(where, "cmc >= ?")
		args = append(args, *filters.MinCMC)
	}
	if filters.MaxCMC != nil {
		where = append(where, "cmc <= ?")
		args = append(args, *filters.MaxCMC)
	}
	if filters.Rarity != "" {
		where = append(where, "rarity = ?")
		args = append(args, filters.Rarity)
	}
	if filters.LegalInFormat != "" {
		where = append(where, "json_extract(legalities, ?) = 1")
		args = append(args, "$."+filters.LegalInFormat)
	}
	for _, t := range filters.Types {
		where = append(where, "(',' || types || ',') LIKE ?")
		args = append(args, "%,"+t+",%")
	}
	var colorClauses []string
	for _, c := range filters.Colors {
		if filters.ColorExact {
			// ColorExact applies no color clause at all.
			continue
		}
		colorClauses = append(colorClauses, "(',' || colors || ',') LIKE ?")
		args = append(args, "%,"+c+",%")
	}
	if len(colorClauses) > 0 {
		where = append(where, "("+strings.Join(colorClauses, " OR ")+")")
	}

	query := selectColumns + ` FROM cards`
	if filters.TextContains != "" {
		query = selectColumnsFTS + `
			FROM cards_fts
			JOIN cards ON cards.rowid = cards_fts.rowid
			WHERE cards_fts MATCH ?`
		args = append([]interface{}{ftsQuery(filters.TextContains)}, args...)
		if len(where) > 0 {
			query += " AND " + strings.Join(where, " AND ")
		}
	} else if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY cards.name ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []*Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		if filters.ColorExact && !colorSubset(card.Colors, filters.Colors) {
			continue
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	return cards, nil
}

func colorSubset(cardColors, declared []string) bool {
	allowed := make(map[string]bool, len(declared))
	for _, c := range declared {
		allowed[c] = true
	}
	for _, c := range cardColors {
		if !allowed[c] {
			return false
		}
	}
	return true
}

func ftsQuery(text string) string {
	// FTS5 MATCH treats bare words as AND terms; wrap in quotes for substring-ish behavior.
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// Count returns the total number of cards in the catalog.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

// Upsert inserts or replaces a card record. Used by ingest tooling and tests;
// the core query path never mutates cards.
func (s *Store) Upsert(ctx context.Context, c *Card) error {
	legalities, err := json.Marshal(c.Legalities)
	if err != nil {
		return fmt.Errorf("marshal legalities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cards (
			id, name, name_lower, mana_cost, cmc, colors, color_identity,
			type_line, types, subtypes, oracle_text, power, toughness, loyalty,
			set_code, rarity, legalities, keywords
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, name_lower = excluded.name_lower,
			mana_cost = excluded.mana_cost, cmc = excluded.cmc,
			colors = excluded.colors, color_identity = excluded.color_identity,
			type_line = excluded.type_line, types = excluded.types,
			subtypes = excluded.subtypes, oracle_text = excluded.oracle_text,
			power = excluded.power, toughness = excluded.toughness, loyalty = excluded.loyalty,
			set_code = excluded.set_code, rarity = excluded.rarity,
			legalities = excluded.legalities, keywords = excluded.keywords`,
		c.ID, c.Name, strings.ToLower(c.Name), c.ManaCost, c.CMC,
		csv(c.Colors), csv(c.ColorIdentity), c.TypeLine, csv(c.Types), csv(c.Subtypes),
		c.OracleText, c.Power, c.Toughness, c.Loyalty, c.SetCode, c.Rarity,
		string(legalities), csv(c.Keywords),
	)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, name, mana_cost, cmc, colors, color_identity,
	type_line, types, subtypes, oracle_text, power, toughness, loyalty,
	set_code, rarity, legalities, keywords`

const selectColumnsFTS = `SELECT cards.id, cards.name, cards.mana_cost, cards.cmc,
	cards.colors, cards.color_identity, cards.type_line, cards.types, cards.subtypes,
	cards.oracle_text, cards.power, cards.toughness, cards.loyalty,
	cards.set_code, cards.rarity, cards.legalities, cards.keywords`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (*Card, error) {
	var (
		c                                  Card
		colors, colorIdentity, types       string
		subtypes, keywords, legalitiesJSON string
	)
	if err := row.Scan(
		&c.ID, &c.Name, &c.ManaCost, &c.CMC, &colors, &colorIdentity,
		&c.TypeLine, &types, &subtypes, &c.OracleText, &c.Power, &c.Toughness, &c.Loyalty,
		&c.SetCode, &c.Rarity, &legalitiesJSON, &keywords,
	); err != nil {
		return nil, err
	}

	c.Colors = splitCSV(colors)
	c.ColorIdentity = splitCSV(colorIdentity)
	c.Types = splitCSV(types)
	c.Subtypes = splitCSV(subtypes)
	c.Keywords = splitCSV(keywords)

	if legalitiesJSON != "" {
		if err := json.Unmarshal([]byte(legalitiesJSON), &c.Legalities); err != nil {
			return nil, fmt.Errorf("unmarshal legalities: %w", err)
		}
	}

	return &c, nil
}

// Package deckstore persists Deck records as JSON-bodied rows keyed by a
// server-assigned UUID (spec §6).
package deckstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/dbutil"
	"github.com/deckforge/deckforge/internal/deck"
)

// Body is the persisted JSON shape of a stored deck (spec §6).
type Body struct {
	Cards      []BodyCard `json:"cards"`
	Format     string     `json:"format"`
	Archetype  string     `json:"archetype"`
	Colors     []string   `json:"colors"`
	TotalCards int        `json:"total_cards"`
}

// BodyCard is one entry of Body.Cards.
type BodyCard struct {
	Card     catalog.Card `json:"card"`
	Quantity int          `json:"quantity"`
}

// Record is a stored deck row, including the fields set server-side.
type Record struct {
	ID               string
	Name             string
	Description      string
	Format           string
	Archetype        string
	Colors           []string
	Body             Body
	QualityScore     *float64
	ImprovementNotes string
	TotalCards       int
	UserID           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Filters narrows List/Count.
type Filters struct {
	Format    string
	Archetype string
	UserID    string
}

// Store persists deck records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open, already-migrated database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BodyFromDeck converts an in-memory Deck into its persisted/wire shape.
func BodyFromDeck(d *deck.Deck) Body {
	cards := make([]BodyCard, 0, len(d.Cards))
	for _, dc := range d.Cards {
		cards = append(cards, BodyCard{Card: dc.Card, Quantity: dc.Quantity})
	}
	return Body{
		Cards:      cards,
		Format:     d.Format,
		Archetype:  d.Archetype,
		Colors:     d.Colors,
		TotalCards: d.TotalCards(),
	}
}

// ToDeck reconstructs the in-memory Deck model from a stored Body.
func (b Body) ToDeck() deck.Deck {
	cards := make([]deck.DeckCard, 0, len(b.Cards))
	for _, bc := range b.Cards {
		cards = append(cards, deck.DeckCard{Card: bc.Card, Quantity: bc.Quantity})
	}
	return deck.Deck{Format: b.Format, Archetype: b.Archetype, Colors: b.Colors, Cards: cards}
}

// Save inserts a new deck and returns its server-assigned id.
func (s *Store) Save(ctx context.Context, name, description string, d *deck.Deck, userID string) (string, error) {
	id := uuid.NewString()
	body := BodyFromDeck(d)

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal deck body: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decks (id, name, description, format, archetype, colors, body, total_cards, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, description, d.Format, d.Archetype, strings.Join(d.Colors, ","), string(bodyJSON), d.TotalCards(), nullable(userID),
	)
	if err != nil {
		return "", fmt.Errorf("save deck: %w", err)
	}
	return id, nil
}

// SaveWithToken inserts a new deck with a pre-hashed opaque API token already
// attached, in a single transaction, so a crash between the insert and the
// token write can never leave a deck issued without its hash persisted.
func (s *Store) SaveWithToken(ctx context.Context, name, description string, d *deck.Deck, userID, tokenHash string) (string, error) {
	id := uuid.NewString()
	body := BodyFromDeck(d)

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal deck body: %w", err)
	}

	err = dbutil.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO decks (id, name, description, format, archetype, colors, body, total_cards, user_id, user_token_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, name, description, d.Format, d.Archetype, strings.Join(d.Colors, ","), string(bodyJSON), d.TotalCards(), nullable(userID), tokenHash,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("save deck with token: %w", err)
	}
	return id, nil
}

// GetByID returns the deck with id, or nil if not found.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, format, archetype, colors, body,
		       quality_score, improvement_notes, total_cards, user_id, created_at, updated_at
		FROM decks WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deck by id: %w", err)
	}
	return rec, nil
}

// List returns decks matching filters, newest first, bounded by limit/offset.
func (s *Store) List(ctx context.Context, filters Filters, limit, offset int) ([]*Record, error) {
	query := `
		SELECT id, name, description, format, archetype, colors, body,
		       quality_score, improvement_notes, total_cards, user_id, created_at, updated_at
		FROM decks`
	var where []string
	var args []interface{}

	if filters.Format != "" {
		where = append(where, "format = ?")
		args = append(args, filters.Format)
	}
	if filters.Archetype != "" {
		where = append(where, "archetype = ?")
		args = append(args, filters.Archetype)
	}
	if filters.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filters.UserID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decks: %w", err)
	}
	return out, nil
}

// Count returns the number of decks matching filters.
func (s *Store) Count(ctx context.Context, filters Filters) (int, error) {
	query := `SELECT COUNT(*) FROM decks`
	var where []string
	var args []interface{}

	if filters.Format != "" {
		where = append(where, "format = ?")
		args = append(args, filters.Format)
	}
	if filters.Archetype != "" {
		where = append(where, "archetype = ?")
		args = append(args, filters.Archetype)
	}
	if filters.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filters.UserID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count decks: %w", err)
	}
	return n, nil
}

// Update overwrites name/description/deck body/quality fields for id.
// It returns sql.ErrNoRows if no such deck exists.
func (s *Store) Update(ctx context.Context, id string, name, description string, d *deck.Deck, qualityScore *float64, improvementNotes string) error {
	body := BodyFromDeck(d)
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal deck body: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE decks
		SET name = ?, description = ?, format = ?, archetype = ?, colors = ?, body = ?,
		    quality_score = ?, improvement_notes = ?, total_cards = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		name, description, d.Format, d.Archetype, strings.Join(d.Colors, ","), string(bodyJSON),
		qualityScore, improvementNotes, d.TotalCards(), id,
	)
	if err != nil {
		return fmt.Errorf("update deck: %w", err)
	}
	return checkRowsAffected(result)
}

// AttachTokenHash stores a pre-hashed opaque API token against id, for the
// optional auth-in-front-of-the-service convenience (spec.md §1: auth
// itself is out of scope; this only persists what internal/authtoken
// produces). It returns sql.ErrNoRows if no such deck exists.
func (s *Store) AttachTokenHash(ctx context.Context, id, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE decks SET user_token_hash = ? WHERE id = ?`, tokenHash, id)
	if err != nil {
		return fmt.Errorf("attach token hash: %w", err)
	}
	return checkRowsAffected(result)
}

// Delete removes the deck with id. It returns sql.ErrNoRows if no such
// deck exists.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM decks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deck: %w", err)
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var colorsCSV, bodyJSON string
	var qualityScore sql.NullFloat64
	var improvementNotes, userID sql.NullString

	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.Description, &rec.Format, &rec.Archetype,
		&colorsCSV, &bodyJSON, &qualityScore, &improvementNotes, &rec.TotalCards,
		&userID, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Colors = splitCSV(colorsCSV)
	if qualityScore.Valid {
		rec.QualityScore = &qualityScore.Float64
	}
	rec.ImprovementNotes = improvementNotes.String
	rec.UserID = userID.String

	if err := json.Unmarshal([]byte(bodyJSON), &rec.Body); err != nil {
		return nil, fmt.Errorf("unmarshal deck body: %w", err)
	}

	return &rec, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

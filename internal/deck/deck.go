// Package deck declares the in-memory Deck/DeckCard/QualityMetrics/
// IterationState types shared by the analyzer, builder, modification
// executor, orchestrator, and deck store (spec §3).
package deck

import (
	"time"

	"github.com/deckforge/deckforge/internal/catalog"
)

// DeckCard is an ordered pair (card, quantity>=1).
type DeckCard struct {
	Card     catalog.Card
	Quantity int
}

// Deck is an ordered-irrelevant bag of DeckCard plus strategy metadata.
type Deck struct {
	Format    string
	Archetype string
	Colors    []string // declared colors
	Cards     []DeckCard
}

// TotalCards returns the sum of all DeckCard quantities.
func (d *Deck) TotalCards() int {
	total := 0
	for _, dc := range d.Cards {
		total += dc.Quantity
	}
	return total
}

// ColorIdentity returns the union of every card's color identity, lands
// included.
func (d *Deck) ColorIdentity() []string {
	seen := make(map[string]bool)
	var identity []string
	for _, dc := range d.Cards {
		for _, c := range dc.Card.ColorIdentity {
			if !seen[c] {
				seen[c] = true
				identity = append(identity, c)
			}
		}
	}
	return identity
}

// NonLandCards returns the subset of Cards whose catalog card is not a land.
func (d *Deck) NonLandCards() []DeckCard {
	var out []DeckCard
	for _, dc := range d.Cards {
		if !dc.Card.IsLand() {
			out = append(out, dc)
		}
	}
	return out
}

// LandCount returns the total quantity of land cards.
func (d *Deck) LandCount() int {
	total := 0
	for _, dc := range d.Cards {
		if dc.Card.IsLand() {
			total += dc.Quantity
		}
	}
	return total
}

// QuantityOf returns the current quantity of the named card (case-sensitive
// on the catalog's canonical Name), or 0 if absent.
func (d *Deck) QuantityOf(name string) int {
	for _, dc := range d.Cards {
		if dc.Card.Name == name {
			return dc.Quantity
		}
	}
	return 0
}

// AddCopies increases (or inserts) the quantity of card by n, returning the
// new total quantity for that card.
func (d *Deck) AddCopies(card catalog.Card, n int) int {
	for i := range d.Cards {
		if d.Cards[i].Card.Name == card.Name {
			d.Cards[i].Quantity += n
			return d.Cards[i].Quantity
		}
	}
	d.Cards = append(d.Cards, DeckCard{Card: card, Quantity: n})
	return n
}

// RemoveCopies decreases the quantity of the named card by up to n,
// removing the entry entirely if it reaches zero. Returns the number of
// copies actually removed.
func (d *Deck) RemoveCopies(name string, n int) int {
	for i := range d.Cards {
		if d.Cards[i].Card.Name != name {
			continue
		}
		removed := n
		if removed > d.Cards[i].Quantity {
			removed = d.Cards[i].Quantity
		}
		d.Cards[i].Quantity -= removed
		if d.Cards[i].Quantity <= 0 {
			d.Cards = append(d.Cards[:i], d.Cards[i+1:]...)
		}
		return removed
	}
	return 0
}

// ImprovementPlan is the structured output of the quality analyzer's
// LLM-assisted call (spec §4.7).
type ImprovementPlan struct {
	Additions []CardChange
	Removals  []CardChange
	Analysis  string
}

// CardChange names a card, a quantity, and the reason for the change.
type CardChange struct {
	CardName string
	Quantity int
	Reason   string
}

// QualityMetrics is the analyzer's scored verdict on a Deck.
type QualityMetrics struct {
	ManaCurve   float64
	LandRatio   float64
	Synergy     float64
	Consistency float64
	Issues      []string
	Suggestions []string
	Plan        *ImprovementPlan // nil when the LLM call failed or degraded
}

// Overall is the arithmetic mean of the four sub-scores.
func (m QualityMetrics) Overall() float64 {
	return (m.ManaCurve + m.LandRatio + m.Synergy + m.Consistency) / 4
}

// IterationEntry records one orchestrator transition for IterationState.History.
type IterationEntry struct {
	IterationIndex int
	DeckSnapshot   Deck
	Metrics        QualityMetrics
	AppliedChanges []CardChange
	Timestamp      time.Time
}

// IterationState tracks the orchestrator's refinement loop progress.
type IterationState struct {
	Iteration     int
	MaxIterations int
	Threshold     float64
	History       []IterationEntry
}

// Record appends an entry to History and bumps Iteration.
func (s *IterationState) Record(snapshot Deck, metrics QualityMetrics, applied []CardChange) {
	s.History = append(s.History, IterationEntry{
		IterationIndex: s.Iteration,
		DeckSnapshot:   snapshot,
		Metrics:        metrics,
		AppliedChanges: applied,
		Timestamp:      time.Now(),
	})
	s.Iteration++
}

// Package analyzer scores a Deck's quality and, when an LLM provider is
// available, proposes an improvement plan (spec §4.7).
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/deckforge/deckforge/internal/deck"
	"github.com/deckforge/deckforge/internal/formatrules"
	"github.com/deckforge/deckforge/internal/llm"
	"github.com/deckforge/deckforge/internal/vectorindex"
)

// WarningThreshold is the per-metric floor below which an issue string is
// generated (spec §4.7).
const WarningThreshold = 0.6

// Analyzer scores decks and, best-effort, asks an LLM provider for an
// improvement plan.
type Analyzer struct {
	provider llm.Provider
	index    *vectorindex.Index
	logger   *slog.Logger
}

// New wires an optional LLM provider (nil disables the improvement-plan
// call, degrading to numeric metrics only) and an optional vector index
// (nil disables the embedding-similarity synergy bonus in suggestions).
func New(provider llm.Provider, index *vectorindex.Index, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{provider: provider, index: index, logger: logger}
}

// Verify computes QualityMetrics for d under format's rules, then attempts
// the LLM-assisted improvement plan. LLM failure never fails Verify.
func (a *Analyzer) Verify(ctx context.Context, d *deck.Deck) deck.QualityMetrics {
	rules := formatrules.Get(d.Format)

	metrics := deck.QualityMetrics{
		ManaCurve:   scoreManaCurve(d, rules),
		LandRatio:   scoreLandRatio(d, rules),
		Synergy:     scoreSynergy(d),
		Consistency: scoreConsistency(d, rules),
	}

	addIssuesAndSuggestions(&metrics)

	if a.index != nil {
		if suggestion := a.synergyBonusSuggestion(ctx, d); suggestion != "" {
			metrics.Suggestions = append(metrics.Suggestions, suggestion)
		}
	}

	if a.provider != nil {
		plan, err := a.requestImprovementPlan(ctx, d, metrics)
		if err != nil {
			a.logger.Warn("improvement plan degraded to numeric metrics only", "error", err)
		} else {
			metrics.Plan = plan
		}
	}

	return metrics
}

// scoreManaCurve compares the non-land CMC histogram to the format's ideal
// distribution via 1 - L1distance/2.
func scoreManaCurve(d *deck.Deck, rules formatrules.Rules) float64 {
	nonLand := d.NonLandCards()
	total := 0
	for _, dc := range nonLand {
		total += dc.Quantity
	}
	if total == 0 {
		return 0
	}

	actual := make(map[formatrules.CMCBucket]float64)
	for _, dc := range nonLand {
		bucket := formatrules.CMCToBucket(dc.Card.CMC)
		actual[bucket] += float64(dc.Quantity) / float64(total)
	}

	var l1 float64
	seen := make(map[formatrules.CMCBucket]bool)
	for bucket, ideal := range rules.CurveIdeal {
		l1 += math.Abs(actual[bucket] - ideal)
		seen[bucket] = true
	}
	for bucket, frac := range actual {
		if !seen[bucket] {
			l1 += frac
		}
	}

	score := 1 - l1/2
	return clamp01(score)
}

// scoreLandRatio scores actual land count against the format/archetype
// ideal with a linear decay over a band of ±20% of deck size.
func scoreLandRatio(d *deck.Deck, rules formatrules.Rules) float64 {
	archetype := parseArchetype(d.Archetype)
	ideal := rules.IdealLandCount(archetype)
	actual := d.LandCount()
	band := float64(rules.DeckSize) * rules.LandRatio.BandFraction

	diff := math.Abs(float64(actual - ideal))
	if diff <= 1 {
		return 1.0
	}
	score := 1 - diff/band
	return clamp01(score)
}

// scoreSynergy takes the fraction of distinct non-land card pairs that
// share at least one vectorindex.GenerateTags tag (strategic tags and
// tribal subtypes), doubles it, and clamps it to [0,1]; fewer than two
// non-land cards score 0.5.
func scoreSynergy(d *deck.Deck) float64 {
	cards := d.NonLandCards()
	if len(cards) < 2 {
		return 0.5
	}

	tagSets := make([][]string, len(cards))
	for i, dc := range cards {
		tagSets[i] = vectorindex.GenerateTags(&dc.Card)
	}

	sharedPairs := 0
	totalPairs := 0
	for i := 0; i < len(cards); i++ {
		for j := i + 1; j < len(cards); j++ {
			totalPairs++
			if vectorindex.SharedTagCount(tagSets[i], tagSets[j]) > 0 {
				sharedPairs++
			}
		}
	}
	if totalPairs == 0 {
		return 0.5
	}

	score := float64(sharedPairs) / float64(totalPairs) * 2 // amplify sparse overlap
	return clamp01(score)
}

// scoreConsistency rewards playset-sized quantities and penalizes one-of
// utility exceptions when the format allows larger playsets.
func scoreConsistency(d *deck.Deck, rules formatrules.Rules) float64 {
	nonLand := d.NonLandCards()
	if len(nonLand) == 0 {
		return 0.5
	}
	if rules.Singleton {
		return 1.0 // singleton formats have no playset consistency to measure
	}

	var total float64
	for _, dc := range nonLand {
		switch {
		case dc.Quantity >= 3:
			total += 1.0
		case dc.Quantity == 2:
			total += 0.6
		default:
			total += 0.3 // every one-of; utility cards are not told apart and score the same
		}
	}
	return clamp01(total / float64(len(nonLand)))
}

// synergyBonusSuggestion looks for the single strongest embedding-similarity
// pair among the deck's non-land cards and, if it clears a high bar, turns
// it into free-text suggestion copy. This is a secondary signal only: it
// never touches QualityMetrics.Synergy, which spec.md §4.7 requires stay a
// pure per-deck heuristic.
func (a *Analyzer) synergyBonusSuggestion(ctx context.Context, d *deck.Deck) string {
	cards := d.NonLandCards()
	const synergyBonusThreshold = 0.85

	var bestA, bestB string
	best := 0.0
	for i := 0; i < len(cards); i++ {
		for j := i + 1; j < len(cards); j++ {
			bonus, err := a.index.SynergyBonus(ctx, cards[i].Card.ID, cards[j].Card.ID)
			if err != nil {
				a.logger.Debug("synergy bonus lookup failed", "error", err)
				continue
			}
			if bonus > best {
				best = bonus
				bestA, bestB = cards[i].Card.Name, cards[j].Card.Name
			}
		}
	}

	if best < synergyBonusThreshold {
		return ""
	}
	return fmt.Sprintf("%s and %s share strong embedding similarity — consider building around that pairing", bestA, bestB)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseArchetype(s string) formatrules.Archetype {
	switch strings.ToLower(s) {
	case "aggro":
		return formatrules.Aggro
	case "midrange":
		return formatrules.Midrange
	case "control":
		return formatrules.Control
	case "combo":
		return formatrules.Combo
	case "tempo":
		return formatrules.Tempo
	case "ramp":
		return formatrules.Ramp
	default:
		return formatrules.OtherArchetype
	}
}

func addIssuesAndSuggestions(m *deck.QualityMetrics) {
	checks := []struct {
		score   float64
		issue   string
		suggest string
	}{
		{m.ManaCurve, "mana curve deviates from the format's ideal distribution", "adjust card selection to fill curve gaps"},
		{m.LandRatio, "land count is outside the ideal band for this archetype", "add or cut lands to match the archetype's land ratio"},
		{m.Synergy, "cards share little synergy with each other", "favor cards that share tribal types, keywords, or mechanic tags"},
		{m.Consistency, "too many singleton inclusions reduce consistency", "increase playset sizes for your best cards"},
	}
	for _, c := range checks {
		if c.score < WarningThreshold {
			m.Issues = append(m.Issues, c.issue)
			m.Suggestions = append(m.Suggestions, c.suggest)
		}
	}
}

type improvementPlanResponse struct {
	Removals  []cardChangeJSON `json:"removals"`
	Additions []cardChangeJSON `json:"additions"`
	Analysis  string           `json:"analysis"`
}

type cardChangeJSON struct {
	CardName string `json:"card_name"`
	Reason   string `json:"reason"`
	Quantity int    `json:"quantity"`
}

func (a *Analyzer) requestImprovementPlan(ctx context.Context, d *deck.Deck, metrics deck.QualityMetrics) (*deck.ImprovementPlan, error) {
	system := "You are a Magic: The Gathering deck-building assistant. Respond with JSON only, matching the requested schema."
	prompt := buildImprovementPrompt(d, metrics)

	var resp improvementPlanResponse
	if err := a.provider.StructuredCall(ctx, system, prompt, &resp); err != nil {
		return nil, fmt.Errorf("improvement plan call: %w", err)
	}

	plan := &deck.ImprovementPlan{Analysis: resp.Analysis}
	for _, r := range resp.Removals {
		plan.Removals = append(plan.Removals, deck.CardChange{CardName: r.CardName, Quantity: r.Quantity, Reason: r.Reason})
	}
	for _, a := range resp.Additions {
		plan.Additions = append(plan.Additions, deck.CardChange{CardName: a.CardName, Quantity: a.Quantity, Reason: a.Reason})
	}
	return plan, nil
}

func buildImprovementPrompt(d *deck.Deck, metrics deck.QualityMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Format: %s\nArchetype: %s\n", d.Format, d.Archetype)
	fmt.Fprintf(&b, "Metrics: mana_curve=%.2f land_ratio=%.2f synergy=%.2f consistency=%.2f\n",
		metrics.ManaCurve, metrics.LandRatio, metrics.Synergy, metrics.Consistency)
	b.WriteString("Current deck:\n")
	for _, dc := range d.Cards {
		fmt.Fprintf(&b, "- %dx %s\n", dc.Quantity, dc.Card.Name)
	}
	b.WriteString("Respond with JSON: {\"removals\": [{\"card_name\",\"reason\",\"quantity\"}], \"additions\": [...], \"analysis\": \"...\"}")
	return b.String()
}

// Package builder drives the LLM agent loop that constructs and refines
// decks (spec.md §4.8), exposing the search_cards/get_card_details tool
// surface backed by internal/repository and materializing structured
// output into a deck.Deck under formatrules constraints.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/deck"
	"github.com/deckforge/deckforge/internal/formatrules"
	"github.com/deckforge/deckforge/internal/llm"
	"github.com/deckforge/deckforge/internal/repository"
)

// cardSummary is the truncated tool-call response shape for search_cards
// (spec.md §4.8: "name, CMC, colors, type line, short oracle text excerpt").
type cardSummary struct {
	Name       string   `json:"name"`
	CMC        float64  `json:"cmc"`
	Colors     []string `json:"colors"`
	TypeLine   string   `json:"type_line"`
	OracleText string   `json:"oracle_text_excerpt"`
}

const oracleExcerptLen = 140
const searchCardsLimit = 50

// Builder constructs and refines decks by driving an llm.Provider through
// two tool calls surfaced over internal/repository.
type Builder struct {
	repo     *repository.Repository
	provider llm.Provider
	logger   *slog.Logger
}

// New wires a repository and LLM provider into a Builder.
func New(repo *repository.Repository, provider llm.Provider, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{repo: repo, provider: provider, logger: logger}
}

// SearchCards is the search_cards tool call: a bounded catalog search
// returning compact summaries instead of full records.
func (b *Builder) SearchCards(ctx context.Context, filters catalog.SearchFilters) ([]cardSummary, error) {
	cards, err := b.repo.Search(ctx, filters, searchCardsLimit)
	if err != nil {
		return nil, fmt.Errorf("search_cards: %w", err)
	}
	out := make([]cardSummary, 0, len(cards))
	for _, c := range cards {
		out = append(out, summarize(c))
	}
	return out, nil
}

// GetCardDetails is the get_card_details tool call: resolves a card by
// name first, then by id, returning the full catalog record.
func (b *Builder) GetCardDetails(ctx context.Context, nameOrID string) (*catalog.Card, error) {
	card, err := b.repo.GetByName(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("get_card_details: %w", err)
	}
	if card != nil {
		return card, nil
	}
	card, err = b.repo.GetByID(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("get_card_details: %w", err)
	}
	return card, nil
}

func summarize(c *catalog.Card) cardSummary {
	excerpt := c.OracleText
	if len(excerpt) > oracleExcerptLen {
		excerpt = excerpt[:oracleExcerptLen] + "..."
	}
	return cardSummary{Name: c.Name, CMC: c.CMC, Colors: c.Colors, TypeLine: c.TypeLine, OracleText: excerpt}
}

// deckConstructionPlan is the structured-output schema issued when
// building an initial deck (spec.md §4.8).
type deckConstructionPlan struct {
	Strategy       string                `json:"strategy"`
	CardSelections []cardSelectionOutput `json:"card_selections"`
}

type cardSelectionOutput struct {
	CardName  string `json:"card_name"`
	Quantity  int    `json:"quantity"`
	Reasoning string `json:"reasoning"`
}

// refinementPlan is the structured-output schema issued when refining an
// existing deck against an analyzer improvement plan (spec.md §4.8).
type refinementPlan struct {
	Analysis string             `json:"analysis"`
	Actions  []refinementAction `json:"actions"`
}

type refinementAction struct {
	Type      string `json:"type"` // "add", "remove", "replace"
	CardName  string `json:"card_name"`
	Quantity  int    `json:"quantity"`
	Reasoning string `json:"reasoning"`
}

// BuildInitial assembles the system prompt from format, archetype, and
// colors, issues the DeckConstructionPlan call, and materializes the
// result into a deck.Deck: copies are capped by the copy/legendary rules,
// non-land cards outside colors are skipped, and basic lands top the deck
// up to deck_size. Selections that already exceed deck_size are not trimmed.
func (b *Builder) BuildInitial(ctx context.Context, format, archetype string, colors []string) (*deck.Deck, error) {
	rules := formatrules.Get(format)
	system := buildSystemPrompt(rules, archetype, colors)
	prompt := fmt.Sprintf("Build a %s %s deck in colors %s.", format, archetype, strings.Join(colors, ""))

	var plan deckConstructionPlan
	if err := b.provider.StructuredCall(ctx, system, prompt, &plan); err != nil {
		b.logger.Warn("deck construction plan degraded to empty deck", "error", err)
		plan = deckConstructionPlan{} // spec.md §4.11: degraded plan, empty additions
	}

	d := &deck.Deck{Format: format, Archetype: archetype, Colors: colors}
	for _, sel := range plan.CardSelections {
		if err := b.materializeSelection(ctx, d, rules, sel.CardName, sel.Quantity); err != nil {
			return nil, fmt.Errorf("materialize card selection: %w", err)
		}
	}

	fillWithBasicLands(d, rules, colors)
	return d, nil
}

// Refine drives the RefinementPlan call against the current deck and an
// analyzer improvement plan, applies actions in remove→replace→add order,
// then re-balances to deck size (spec.md §4.8).
func (b *Builder) Refine(ctx context.Context, d *deck.Deck, improvement *deck.ImprovementPlan) (*deck.Deck, error) {
	rules := formatrules.Get(d.Format)
	system := buildSystemPrompt(rules, d.Archetype, d.Colors)
	prompt := buildRefinementPrompt(d, improvement)

	var plan refinementPlan
	if err := b.provider.StructuredCall(ctx, system, prompt, &plan); err != nil {
		b.logger.Warn("refinement plan degraded to no-op, deck preserved", "error", err)
		return d, nil // spec.md §4.11: degraded plan preserves current deck
	}

	var removes, replaces, adds []refinementAction
	for _, a := range plan.Actions {
		switch a.Type {
		case "remove":
			removes = append(removes, a)
		case "replace":
			replaces = append(replaces, a)
		case "add":
			adds = append(adds, a)
		default:
			b.logger.Warn("refinement action has unrecognized type, skipped", "type", a.Type)
		}
	}

	for _, a := range removes {
		applyRemove(d, a)
	}
	for _, a := range replaces {
		if err := b.applyReplace(ctx, d, rules, a); err != nil {
			return nil, fmt.Errorf("apply replacement: %w", err)
		}
	}
	for _, a := range adds {
		if err := b.materializeSelection(ctx, d, rules, a.CardName, a.Quantity); err != nil {
			return nil, fmt.Errorf("materialize refinement addition: %w", err)
		}
	}

	fillWithBasicLands(d, rules, d.Colors)
	return d, nil
}

func applyRemove(d *deck.Deck, a refinementAction) {
	qty := a.Quantity
	if qty <= 0 {
		qty = d.QuantityOf(a.CardName)
	}
	d.RemoveCopies(a.CardName, qty)
}

func (b *Builder) applyReplace(ctx context.Context, d *deck.Deck, rules formatrules.Rules, a refinementAction) error {
	// spec.md §4.8 refinement actions carry a single card_name; treat
	// "replace" as remove-old-name then add-the-same-action's target,
	// leaving the original in place if the new name cannot be resolved.
	card, err := b.GetCardDetails(ctx, a.CardName)
	if err != nil {
		return err // catalog/repository outage: propagate, don't mask as not_found
	}
	if card == nil {
		b.logger.Warn("replacement target unresolvable, original left in place", "card_name", a.CardName)
		return nil
	}
	d.RemoveCopies(a.CardName, d.QuantityOf(a.CardName))
	return b.materializeSelection(ctx, d, rules, a.CardName, a.Quantity)
}

// materializeSelection resolves a named card through the repository and
// inserts it, capped per spec.md §4.8's copy/legendary/singleton rules. A
// not_found result, or a non-land card whose color identity falls outside
// the deck's declared colors, is logged and skipped (nil error); a lookup failure
// (catalog outage) is returned so the caller can short-circuit instead of
// silently building around an unavailable backend (spec.md §4.11).
func (b *Builder) materializeSelection(ctx context.Context, d *deck.Deck, rules formatrules.Rules, name string, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	card, err := b.GetCardDetails(ctx, name)
	if err != nil {
		return err
	}
	if card == nil {
		b.logger.Warn("card selection unresolvable, skipped", "card_name", name)
		return nil
	}
	if !card.IsLand() {
		declared := "," + strings.Join(d.Colors, ",") + ","
		for _, ci := range card.ColorIdentity {
			if !strings.Contains(declared, ","+ci+",") {
				b.logger.Warn("card selection outside declared colors, skipped", "card_name", name)
				return nil
			}
		}
	}

	maxCopies := copyCap(*card, rules)
	if existing := d.QuantityOf(card.Name); existing+quantity > maxCopies {
		quantity = maxCopies - existing
	}
	if quantity <= 0 {
		return nil
	}
	d.AddCopies(*card, quantity)
	return nil
}

// copyCap returns the maximum total quantity allowed for card under rules:
// unlimited (represented as a large cap) for basic lands, 1 for legendary
// non-basic-lands, rules.CopyLimit otherwise.
func copyCap(card catalog.Card, rules formatrules.Rules) int {
	if card.IsBasicLand() {
		return 1 << 30
	}
	if card.IsLegendary() {
		return 1
	}
	return rules.CopyLimit
}

// fillWithBasicLands tops the deck up to deck_size with basic lands in the
// declared colors, distributed proportionally to colors appearing in the
// non-land portion (spec.md §4.8).
func fillWithBasicLands(d *deck.Deck, rules formatrules.Rules, colors []string) {
	remaining := rules.DeckSize - d.TotalCards()
	if remaining <= 0 {
		return
	}
	if len(colors) == 0 {
		colors = []string{"C"} // colorless fallback; caller declared no colors
	}

	weights := colorWeights(d, colors)
	total := 0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		for _, c := range colors {
			weights[c] = 1
		}
		total = len(colors)
	}

	distributed := 0
	sortedColors := make([]string, 0, len(colors))
	sortedColors = append(sortedColors, colors...)
	sort.Strings(sortedColors)

	for i, c := range sortedColors {
		var qty int
		if i == len(sortedColors)-1 {
			qty = remaining - distributed // last color absorbs the rounding remainder
		} else {
			qty = int(float64(weights[c]) / float64(total) * float64(remaining))
			if qty == 0 && weights[c] > 0 {
				qty = 1
			}
		}
		if qty <= 0 {
			continue
		}
		d.AddCopies(basicLandFor(c), qty)
		distributed += qty
	}
}

func colorWeights(d *deck.Deck, colors []string) map[string]int {
	weights := make(map[string]int, len(colors))
	for _, c := range colors {
		weights[c] = 0
	}
	for _, dc := range d.NonLandCards() {
		for _, c := range dc.Card.Colors {
			if _, declared := weights[c]; declared {
				weights[c] += dc.Quantity
			}
		}
	}
	return weights
}

func basicLandFor(color string) catalog.Card {
	names := map[string]string{
		"W": "Plains", "U": "Island", "B": "Swamp", "R": "Mountain", "G": "Forest",
	}
	name, ok := names[color]
	if !ok {
		name = "Wastes"
	}
	return catalog.Card{Name: name, Types: []string{"Basic", "Land"}, TypeLine: "Basic Land"}
}

func buildSystemPrompt(rules formatrules.Rules, archetype string, colors []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are building a Magic: The Gathering deck for the %s format.\n", rules.Format)
	fmt.Fprintf(&b, "Deck size: %d. Copy limit: %d per card (singleton: %v). Legendary max: %d.\n",
		rules.DeckSize, rules.CopyLimit, rules.Singleton, rules.LegendaryMax)
	fmt.Fprintf(&b, "Archetype: %s. Declared colors: %s.\n", archetype, strings.Join(colors, ""))
	b.WriteString("Use the search_cards and get_card_details tools to find real cards before selecting them.\n")
	b.WriteString("Respond with JSON: {\"strategy\": \"...\", \"card_selections\": [{\"card_name\", \"quantity\", \"reasoning\"}]}")
	return b.String()
}

func buildRefinementPrompt(d *deck.Deck, improvement *deck.ImprovementPlan) string {
	var b strings.Builder
	b.WriteString("Current deck:\n")
	for _, dc := range d.Cards {
		fmt.Fprintf(&b, "- %dx %s\n", dc.Quantity, dc.Card.Name)
	}
	if improvement != nil {
		fmt.Fprintf(&b, "\nImprovement plan analysis: %s\n", improvement.Analysis)
		for _, r := range improvement.Removals {
			fmt.Fprintf(&b, "Suggested removal: %dx %s (%s)\n", r.Quantity, r.CardName, r.Reason)
		}
		for _, a := range improvement.Additions {
			fmt.Fprintf(&b, "Suggested addition: %dx %s (%s)\n", a.Quantity, a.CardName, a.Reason)
		}
	}
	b.WriteString("\nRespond with JSON: {\"analysis\": \"...\", \"actions\": [{\"type\": \"add|remove|replace\", \"card_name\", \"quantity\", \"reasoning\"}]}")
	return b.String()
}

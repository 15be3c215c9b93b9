// Package modify implements the single-pass modification executor that
// applies a free-text user request to an existing deck (spec.md §4.9).
package modify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/deckforge/deckforge/internal/analyzer"
	"github.com/deckforge/deckforge/internal/builder"
	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/deckforge/deckforge/internal/deck"
	"github.com/deckforge/deckforge/internal/formatrules"
	"github.com/deckforge/deckforge/internal/llm"
	"github.com/deckforge/deckforge/internal/repository"
)

// IntentType is one of the five modification branches (spec.md §4.9).
type IntentType string

const (
	IntentAdd           IntentType = "ADD"
	IntentRemove        IntentType = "REMOVE"
	IntentReplace       IntentType = "REPLACE"
	IntentOptimize      IntentType = "OPTIMIZE"
	IntentStrategyShift IntentType = "STRATEGY_SHIFT"
)

// DefaultMaxChanges bounds how many cards an abstract ADD may introduce.
const DefaultMaxChanges = 6

// cardChangeInput is one entry of the classifier's card_changes list. A
// specific-name request carries CardName; a predicate-based request (e.g.
// REMOVE "CMC >= 6") carries Predicate instead and leaves CardName empty.
type cardChangeInput struct {
	CardName  string `json:"card_name"`
	Predicate string `json:"predicate"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

// intent is the structured-output schema for intent classification.
type intent struct {
	IntentType  string            `json:"intent_type"`
	Description string            `json:"description"`
	CardChanges []cardChangeInput `json:"card_changes"`
	Constraints []string          `json:"constraints"`
	Confidence  float64           `json:"confidence"`
}

// Result is the outcome of Execute: the (possibly unchanged) deck plus any
// non-fatal errors recorded along the way.
type Result struct {
	Deck    *deck.Deck
	Errors  []string
	Metrics *deck.QualityMetrics // set only when RunQualityCheck is requested
}

// Executor applies a single modification request to a deck.
type Executor struct {
	repo     *repository.Repository
	provider llm.Provider
	builder  *builder.Builder
	analyzer *analyzer.Analyzer
	logger   *slog.Logger
}

// New wires the collaborators the executor needs: a repository for card
// resolution, an LLM provider for classification, a builder for
// materialization, and an analyzer for OPTIMIZE.
func New(repo *repository.Repository, provider llm.Provider, b *builder.Builder, a *analyzer.Analyzer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{repo: repo, provider: provider, builder: b, analyzer: a, logger: logger}
}

// Execute classifies userPrompt's intent, applies the matching branch,
// auto-fixes the resulting size, and optionally runs a single-pass quality
// check (spec.md §4.9).
func (e *Executor) Execute(ctx context.Context, d *deck.Deck, userPrompt string, runQualityCheck bool) (*Result, error) {
	snapshot := cloneDeck(d)
	res := &Result{Deck: d}

	classified, err := e.classify(ctx, d, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("classify modification intent: %w", err)
	}

	switch IntentType(strings.ToUpper(classified.IntentType)) {
	case IntentAdd:
		e.applyAdd(ctx, d, classified, res)
	case IntentRemove:
		e.applyRemove(ctx, d, classified, res)
	case IntentReplace:
		e.applyReplace(ctx, d, classified, res)
	case IntentOptimize:
		e.applyOptimize(ctx, d, res)
	case IntentStrategyShift:
		e.applyStrategyShift(ctx, d, res)
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("unrecognized intent_type %q, no changes applied", classified.IntentType))
	}

	rules := formatrules.Get(d.Format)
	autoFix(d, rules)

	if violation := firstInvariantViolation(d, rules); violation != "" {
		*d = *snapshot
		res.Errors = append(res.Errors, fmt.Sprintf("modification rolled back: %s", violation))
	}

	if runQualityCheck && e.analyzer != nil {
		metrics := e.analyzer.Verify(ctx, d)
		res.Metrics = &metrics
	}

	return res, nil
}

func (e *Executor) classify(ctx context.Context, d *deck.Deck, userPrompt string) (*intent, error) {
	system := "You classify Magic: The Gathering deck modification requests. Respond with JSON only."
	prompt := buildClassificationPrompt(d, userPrompt)

	var out intent
	if err := e.provider.StructuredCall(ctx, system, prompt, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func buildClassificationPrompt(d *deck.Deck, userPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Format: %s, Archetype: %s\n", d.Format, d.Archetype)
	b.WriteString("Current deck:\n")
	for _, dc := range d.Cards {
		fmt.Fprintf(&b, "- %dx %s\n", dc.Quantity, dc.Card.Name)
	}
	fmt.Fprintf(&b, "\nUser request: %s\n", userPrompt)
	b.WriteString("Respond with JSON: {\"intent_type\": \"ADD|REMOVE|REPLACE|OPTIMIZE|STRATEGY_SHIFT\", " +
		"\"description\": \"...\", \"card_changes\": [{\"card_name\", \"predicate\", \"quantity\", \"reason\"}], " +
		"\"constraints\": [\"...\"], \"confidence\": 0.0}")
	return b.String()
}

// applyAdd handles both specific-name additions (card_changes carries
// card_name) and abstract additions (card_changes is empty or carries only
// a description, resolved via semantic search bounded by DefaultMaxChanges).
func (e *Executor) applyAdd(ctx context.Context, d *deck.Deck, in *intent, res *Result) {
	rules := formatrules.Get(d.Format)

	named := 0
	for _, c := range in.CardChanges {
		if c.CardName == "" {
			continue
		}
		named++
		e.resolveAndAdd(ctx, d, rules, c.CardName, c.Quantity, res)
	}
	if named > 0 {
		return
	}

	results, err := e.repo.SemanticSearch(ctx, in.Description, nil, DefaultMaxChanges)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("semantic search for addition failed: %v", err))
		return
	}
	added := 0
	for _, card := range results {
		if added >= DefaultMaxChanges {
			break
		}
		maxCopies := copyCapFor(*card, rules)
		if d.QuantityOf(card.Name) >= maxCopies {
			continue
		}
		d.AddCopies(*card, 1)
		added++
	}
}

func (e *Executor) resolveAndAdd(ctx context.Context, d *deck.Deck, rules formatrules.Rules, name string, quantity int, res *Result) {
	if quantity <= 0 {
		quantity = 1
	}
	card, err := e.builder.GetCardDetails(ctx, name)
	if err != nil || card == nil {
		e.logger.Warn("modification add target unresolvable, skipped", "card_name", name, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("could not resolve card %q, skipped", name))
		return
	}
	maxCopies := copyCapFor(*card, rules)
	if existing := d.QuantityOf(card.Name); existing+quantity > maxCopies {
		quantity = maxCopies - existing
	}
	if quantity <= 0 {
		return
	}
	d.AddCopies(*card, quantity)
}

var cmcPredicate = regexp.MustCompile(`cmc\s*(>=|<=|>|<|==|=)\s*(\d+(\.\d+)?)`)

// applyRemove handles specific-name removals and CMC predicate removals
// like "CMC >= 6" (spec.md §4.9).
func (e *Executor) applyRemove(ctx context.Context, d *deck.Deck, in *intent, res *Result) {
	for _, c := range in.CardChanges {
		if c.CardName != "" {
			qty := c.Quantity
			if qty <= 0 {
				qty = d.QuantityOf(c.CardName)
			}
			d.RemoveCopies(c.CardName, qty)
			continue
		}
		if c.Predicate != "" {
			e.removeByPredicate(d, c.Predicate, res)
		}
	}
}

func (e *Executor) removeByPredicate(d *deck.Deck, predicate string, res *Result) {
	match := cmcPredicate.FindStringSubmatch(strings.ToLower(predicate))
	if match == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("unrecognized removal predicate %q, ignored", predicate))
		return
	}
	op := match[1]
	threshold, _ := strconv.ParseFloat(match[2], 64)

	var toRemove []string
	for _, dc := range d.NonLandCards() {
		if matchesCMC(dc.Card.CMC, op, threshold) {
			toRemove = append(toRemove, dc.Card.Name)
		}
	}
	for _, name := range toRemove {
		d.RemoveCopies(name, d.QuantityOf(name))
	}
}

func matchesCMC(cmc float64, op string, threshold float64) bool {
	switch op {
	case ">=":
		return cmc >= threshold
	case "<=":
		return cmc <= threshold
	case ">":
		return cmc > threshold
	case "<":
		return cmc < threshold
	default:
		return cmc == threshold
	}
}

// applyReplace partitions the card_changes list by current deck membership:
// a named card already in the deck is the outgoing half of a replacement
// pair and is removed; a named card not in the deck is the incoming half
// and is resolved and added. If an incoming card is unresolvable, the
// matching outgoing removal for that pair never happens, leaving the
// original in place as spec.md §4.9 requires; an error is recorded instead.
func (e *Executor) applyReplace(ctx context.Context, d *deck.Deck, in *intent, res *Result) {
	rules := formatrules.Get(d.Format)

	var outgoing, incoming []cardChangeInput
	for _, c := range in.CardChanges {
		if c.CardName == "" {
			continue
		}
		if d.QuantityOf(c.CardName) > 0 {
			outgoing = append(outgoing, c)
		} else {
			incoming = append(incoming, c)
		}
	}

	resolvedIncoming := make([]cardChangeInput, 0, len(incoming))
	for _, c := range incoming {
		card, err := e.builder.GetCardDetails(ctx, c.CardName)
		if err != nil || card == nil {
			res.Errors = append(res.Errors, fmt.Sprintf("replacement target %q unresolvable, original left in place", c.CardName))
			continue
		}
		resolvedIncoming = append(resolvedIncoming, c)
	}
	if len(resolvedIncoming) == 0 {
		return
	}

	for _, c := range outgoing {
		d.RemoveCopies(c.CardName, d.QuantityOf(c.CardName))
	}
	for _, c := range resolvedIncoming {
		e.resolveAndAdd(ctx, d, rules, c.CardName, c.Quantity, res)
	}
}

// applyOptimize delegates to the analyzer for an improvement plan, then
// applies it via the builder's refinement path (spec.md §4.9).
func (e *Executor) applyOptimize(ctx context.Context, d *deck.Deck, res *Result) {
	if e.analyzer == nil {
		res.Errors = append(res.Errors, "optimize requested but no analyzer is wired")
		return
	}
	metrics := e.analyzer.Verify(ctx, d)
	refined, err := e.builder.Refine(ctx, d, metrics.Plan)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("optimize refinement failed: %v", err))
		return
	}
	*d = *refined
}

// applyStrategyShift treats the request as a guided refinement driven by
// the same improvement-plan-shaped input the builder already knows how to
// consume, without a numeric analyzer pass (spec.md §4.9).
func (e *Executor) applyStrategyShift(ctx context.Context, d *deck.Deck, res *Result) {
	refined, err := e.builder.Refine(ctx, d, nil)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("strategy shift refinement failed: %v", err))
		return
	}
	*d = *refined
}

// autoFix tops up with basic lands when the deck undershoots deck_size, or
// trims the lowest-impact cards (lowest quantity * highest CMC) when it
// overshoots (spec.md §4.9).
func autoFix(d *deck.Deck, rules formatrules.Rules) {
	diff := rules.DeckSize - d.TotalCards()
	if diff == 0 {
		return
	}
	if diff > 0 {
		fillRemainder(d, rules, diff)
		return
	}
	trimLowestImpact(d, -diff)
}

func fillRemainder(d *deck.Deck, rules formatrules.Rules, n int) {
	colors := d.Colors
	if len(colors) == 0 {
		colors = []string{"C"}
	}
	names := map[string]string{"W": "Plains", "U": "Island", "B": "Swamp", "R": "Mountain", "G": "Forest"}
	name, ok := names[colors[0]]
	if !ok {
		name = "Wastes"
	}
	d.AddCopies(catalog.Card{Name: name, Types: []string{"Basic", "Land"}}, n)
}

func trimLowestImpact(d *deck.Deck, n int) {
	type impact struct {
		name   string
		qty    int
		weight float64
	}
	var candidates []impact
	for _, dc := range d.NonLandCards() {
		candidates = append(candidates, impact{name: dc.Card.Name, qty: dc.Quantity, weight: float64(dc.Quantity) * dc.Card.CMC})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].weight < candidates[j].weight })

	removed := 0
	for _, c := range candidates {
		if removed >= n {
			break
		}
		take := n - removed
		if take > c.qty {
			take = c.qty
		}
		d.RemoveCopies(c.name, take)
		removed += take
	}
}

// firstInvariantViolation reports the first broken invariant from spec.md
// §4.8/§4.9, or "" if none.
func firstInvariantViolation(d *deck.Deck, rules formatrules.Rules) string {
	if d.TotalCards() != rules.DeckSize {
		return fmt.Sprintf("total card count %d does not match deck size %d", d.TotalCards(), rules.DeckSize)
	}
	for _, dc := range d.Cards {
		maxCopies := copyCapFor(dc.Card, rules)
		if dc.Quantity > maxCopies {
			return fmt.Sprintf("%s exceeds its copy limit (%d > %d)", dc.Card.Name, dc.Quantity, maxCopies)
		}
	}
	return ""
}

func copyCapFor(card catalog.Card, rules formatrules.Rules) int {
	if card.IsBasicLand() {
		return 1 << 30
	}
	if card.IsLegendary() {
		return 1
	}
	return rules.CopyLimit
}

func cloneDeck(d *deck.Deck) *deck.Deck {
	clone := &deck.Deck{Format: d.Format, Archetype: d.Archetype}
	clone.Colors = append(clone.Colors, d.Colors...)
	clone.Cards = append(clone.Cards, d.Cards...)
	return clone
}

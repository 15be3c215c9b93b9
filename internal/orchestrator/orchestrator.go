// Package orchestrator drives the two request flows named in spec.md
// §4.10: a new-deck FSM (ParseRequest → BuildInitial → VerifyQuality →
// {RefineDeck | Terminal}) and a modification flow (Route →
// UserModification → Terminal). It is the single error-translation
// boundary (spec.md §7): every component error surfacing here is
// converted into a typed *apperr.Error before returning to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/deckforge/deckforge/internal/analyzer"
	"github.com/deckforge/deckforge/internal/apperr"
	"github.com/deckforge/deckforge/internal/builder"
	"github.com/deckforge/deckforge/internal/deck"
	"github.com/deckforge/deckforge/internal/formatrules"
	"github.com/deckforge/deckforge/internal/modify"
)

// DefaultThreshold and DefaultMaxIterations are spec.md §4.10's defaults.
const (
	DefaultThreshold     = 0.7
	DefaultMaxIterations = 5
)

// Request is a parsed /api/chat request: a new-deck request carries only
// Message (and optional overrides); a modification request additionally
// carries ExistingDeck. Routing is deterministic on which is set (spec.md
// §4.10: "no heuristic guessing").
type Request struct {
	Message         string
	ExistingDeck    *deck.Deck
	Threshold       *float64
	MaxIterations   *int
	RunQualityCheck bool // only consulted on the modification flow
}

// Response is the orchestrator's unified result for both flows.
type Response struct {
	Deck       *deck.Deck
	Metrics    deck.QualityMetrics
	Iterations int
	Message    string
	Errors     []string // non-fatal, per-change errors (modification flow)
}

// Orchestrator wires the builder, analyzer, and modification executor
// into the two request flows.
type Orchestrator struct {
	builder  *builder.Builder
	analyzer *analyzer.Analyzer
	modifier *modify.Executor
}

// New wires the three collaborators the orchestrator drives.
func New(b *builder.Builder, a *analyzer.Analyzer, m *modify.Executor) *Orchestrator {
	return &Orchestrator{builder: b, analyzer: a, modifier: m}
}

// Run routes req to the new-deck or modification flow and translates any
// component error into a typed *apperr.Error before returning.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Response, error) {
	if req.ExistingDeck != nil {
		return o.runModificationFlow(ctx, req)
	}
	return o.runNewDeckFlow(ctx, req)
}

// runNewDeckFlow drives ParseRequest → BuildInitial → VerifyQuality →
// {RefineDeck | Terminal}.
func (o *Orchestrator) runNewDeckFlow(ctx context.Context, req *Request) (*Response, error) {
	params := parseNewDeckParams(req.Message)
	threshold := DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	maxIterations := DefaultMaxIterations
	if req.MaxIterations != nil {
		maxIterations = *req.MaxIterations
	}

	d, err := o.builder.BuildInitial(ctx, params.Format, params.Archetype, params.Colors)
	if err != nil {
		return nil, translateError("build initial deck", err)
	}

	iterState := &deck.IterationState{MaxIterations: maxIterations, Threshold: threshold}
	var metrics deck.QualityMetrics

	for {
		metrics = o.analyzer.Verify(ctx, d)
		iterState.Record(*d, metrics, nil)

		if metrics.Overall() >= threshold || iterState.Iteration >= maxIterations {
			break
		}

		refined, err := o.builder.Refine(ctx, d, metrics.Plan)
		if err != nil {
			return nil, translateError("refine deck", err)
		}
		d = refined
	}

	if wantSize := formatrules.Get(d.Format).DeckSize; d.TotalCards() != wantSize {
		return nil, apperr.New(apperr.KindInvariantViolation,
			fmt.Sprintf("deck settled at %d cards, expected %d", d.TotalCards(), wantSize))
	}

	return &Response{
		Deck:       d,
		Metrics:    metrics,
		Iterations: iterState.Iteration,
		Message:    buildResultMessage(params, metrics, iterState.Iteration),
	}, nil
}

// runModificationFlow drives Route → UserModification → Terminal.
func (o *Orchestrator) runModificationFlow(ctx context.Context, req *Request) (*Response, error) {
	result, err := o.modifier.Execute(ctx, req.ExistingDeck, req.Message, req.RunQualityCheck)
	if err != nil {
		return nil, translateError("execute modification", err)
	}

	resp := &Response{
		Deck:    result.Deck,
		Message: fmt.Sprintf("Modification applied. %d card(s) in the updated deck.", result.Deck.TotalCards()),
		Errors:  result.Errors,
	}
	if result.Metrics != nil {
		resp.Metrics = *result.Metrics
		resp.Message += fmt.Sprintf(" Quality Score: %.2f.", result.Metrics.Overall())
	}
	if len(result.Errors) > 0 {
		resp.Message += " Some changes could not be applied; see errors."
	}
	return resp, nil
}

// translateError is the single point where component errors become typed
// *apperr.Error values (spec.md §7). An error already carrying a Kind
// passes through unchanged; everything else is treated as an upstream
// I/O failure, since every error reaching this boundary came from a
// builder/analyzer/modifier call chain that only ever wraps repository,
// catalog, or LLM provider failures.
func translateError(phase string, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return apperr.Wrap(apperr.KindUpstreamUnavailable, phase, err)
}

// newDeckParams is the result of parsing a free-text chat message into the
// new-deck build parameters (spec.md §6).
type newDeckParams struct {
	Format    string
	Colors    []string
	Archetype string
}

var knownFormats = []string{"Standard", "Modern", "Commander", "Legacy", "Vintage", "Pioneer"}

var colorWords = map[string]string{
	"white": "W", "blue": "U", "black": "B", "red": "R", "green": "G",
}

var archetypeWords = map[string]string{
	"aggro": "Aggro", "control": "Control", "midrange": "Midrange", "combo": "Combo",
}

// parseNewDeckParams extracts format, colors, and archetype by substring
// match, applying the spec.md §6 defaults (Standard / R / Aggro) when no
// substring is recognized.
func parseNewDeckParams(message string) newDeckParams {
	lower := strings.ToLower(message)

	format := "Standard"
	for _, f := range knownFormats {
		if strings.Contains(lower, strings.ToLower(f)) {
			format = f
			break
		}
	}

	var colors []string
	for word, code := range colorWords {
		if matchesWord(lower, word) {
			colors = append(colors, code)
		}
	}
	if len(colors) == 0 {
		colors = []string{"R"}
	}

	archetype := "Aggro"
	for word, name := range archetypeWords {
		if matchesWord(lower, word) {
			archetype = name
			break
		}
	}

	return newDeckParams{Format: format, Colors: colors, Archetype: archetype}
}

func matchesWord(lower, word string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(lower)
}

func buildResultMessage(params newDeckParams, metrics deck.QualityMetrics, iterations int) string {
	return fmt.Sprintf("Built a %s %s deck in %s. Quality Score: %.2f after %d iteration(s).",
		params.Format, params.Archetype, strings.Join(params.Colors, ""), metrics.Overall(), iterations)
}

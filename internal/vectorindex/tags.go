package vectorindex

import (
	"sort"
	"strings"

	"github.com/deckforge/deckforge/internal/catalog"
)

// tagSignal is a pure, language-neutral string match against oracle text or
// type line that contributes one strategic tag to a card.
type tagSignal struct {
	tag       string
	patterns  []string // oracle-text substrings (already lowercased)
	typeLines []string // type-line substrings (already lowercased)
}

// synergyTags encode mechanics/themes that cluster cards together.
var synergyTags = []tagSignal{
	{tag: "graveyard", patterns: []string{"graveyard", "from your graveyard", "mill"}},
	{tag: "counters", patterns: []string{"+1/+1 counter", "-1/-1 counter"}},
	{tag: "artifacts", patterns: []string{"artifact you control", "artifacts you control"}, typeLines: []string{"artifact"}},
	{tag: "tokens", patterns: []string{"create a", "create x", "token"}},
	{tag: "sacrifice", patterns: []string{"sacrifice a", "sacrifice another"}},
	{tag: "lifegain", patterns: []string{"gain life", "lifelink"}},
	{tag: "spells-matter", patterns: []string{"whenever you cast an instant or sorcery", "prowess"}},
	{tag: "enchantments-matter", patterns: []string{"enchantment you control"}, typeLines: []string{"enchantment"}},
	{tag: "discard", patterns: []string{"discard a card", "each player discards"}},
}

// antiSynergyTags flag cards that actively undercut common strategies.
var antiSynergyTags = []tagSignal{
	{tag: "anti-graveyard", patterns: []string{"exile target card from a graveyard", "exile all graveyards", "exile each player's graveyard"}},
	{tag: "symmetric-discard", patterns: []string{"each player discards", "each player sacrifices"}},
	{tag: "anti-artifact", patterns: []string{"destroy target artifact", "exile target artifact"}},
}

// roleTags classify a card's function in a deck.
var roleTags = []tagSignal{
	{tag: "removal", patterns: []string{"destroy target creature", "exile target creature", "deals damage to target creature", "destroy target permanent"}},
	{tag: "ramp", patterns: []string{"add one mana", "add {", "search your library for a basic land", "search your library for a land"}},
	{tag: "card-advantage", patterns: []string{"draw a card", "draw two cards", "draw three cards"}},
	{tag: "finisher", patterns: []string{"double strike", "deals damage equal to"}},
	{tag: "counterspell", patterns: []string{"counter target spell"}},
	{tag: "board-wipe", patterns: []string{"destroy all creatures", "exile all creatures", "deals damage to each creature"}},
}

// GenerateTags computes the deterministic strategic-tag set for a card by
// pure string matching over oracle text and type line, plus any tribal
// subtype the card declares.
func GenerateTags(card *catalog.Card) []string {
	oracle := strings.ToLower(card.OracleText)
	typeLine := strings.ToLower(card.TypeLine)

	var tags []string
	for _, group := range [][]tagSignal{synergyTags, antiSynergyTags, roleTags} {
		for _, sig := range group {
			if signalMatches(sig, oracle, typeLine) {
				tags = append(tags, sig.tag)
			}
		}
	}

	for _, st := range card.Subtypes {
		tags = append(tags, "tribal:"+strings.ToLower(st))
	}

	sort.Strings(tags)
	return dedupe(tags)
}

func signalMatches(sig tagSignal, oracle, typeLine string) bool {
	for _, p := range sig.patterns {
		if strings.Contains(oracle, p) {
			return true
		}
	}
	for _, t := range sig.typeLines {
		if strings.Contains(typeLine, t) {
			return true
		}
	}
	return false
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return tags
	}
	out := tags[:1]
	for _, t := range tags[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// SharedTagCount returns how many of b's tags also appear in a, used by the
// analyzer's synergy sub-score.
func SharedTagCount(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	n := 0
	for _, t := range b {
		if set[t] {
			n++
		}
	}
	return n
}

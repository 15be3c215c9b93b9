// Package vectorindex stores per-card dense embedding vectors and answers
// similarity queries over them (spec §4.3).
package vectorindex

import (
	"math"
	"strings"

	"github.com/deckforge/deckforge/internal/catalog"
)

// Dimensions is the embedding width produced by Generator.
//
//	[0-4]   color identity (W,U,B,R,G)              5
//	[5-12]  CMC bucket (0..7+)                        8
//	[13-20] card types                               8
//	[21-24] rarity                                    4
//	[25-34] power/toughness buckets                  10
//	[35-63] common keywords/mechanics                29
const Dimensions = 64

// Generator produces deterministic embeddings from Card + strategic tags.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

// Embed computes a deterministic, L2-normalized embedding for card, plus
// the strategic tags from GenerateTags, which EmbeddingText also appends.
// The vector encodes oracle-text keywords, not the tags.
func (g *Generator) Embed(card *catalog.Card) (vector []float64, tags []string) {
	vec := make([]float64, Dimensions)

	g.encodeColors(vec[0:5], card.ColorIdentity)
	g.encodeCMC(vec[5:13], card.CMC)
	g.encodeTypes(vec[13:21], card.TypeLine)
	g.encodeRarity(vec[21:25], card.Rarity)
	g.encodePowerToughness(vec[25:35], card.Power, card.Toughness)
	g.encodeKeywords(vec[35:64], card.OracleText)

	g.normalize(vec)

	return vec, GenerateTags(card)
}

// EmbeddingText builds the deterministic text representation required by
// spec §4.3: name, type line, mana cost, color words, oracle text,
// keywords, plus strategic tags.
func EmbeddingText(card *catalog.Card) string {
	var b strings.Builder
	b.WriteString(card.Name)
	b.WriteString(" | ")
	b.WriteString(card.TypeLine)
	b.WriteString(" | ")
	b.WriteString(card.ManaCost)
	b.WriteString(" | ")
	b.WriteString(strings.Join(colorWords(card.Colors), " "))
	b.WriteString(" | ")
	b.WriteString(card.OracleText)
	b.WriteString(" | ")
	b.WriteString(strings.Join(card.Keywords, " "))
	tags := GenerateTags(card)
	if len(tags) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(tags, " "))
	}
	return b.String()
}

func colorWords(colors []string) []string {
	names := map[string]string{"W": "white", "U": "blue", "B": "black", "R": "red", "G": "green"}
	out := make([]string, 0, len(colors))
	for _, c := range colors {
		if w, ok := names[strings.ToUpper(c)]; ok {
			out = append(out, w)
		}
	}
	return out
}

func (g *Generator) encodeColors(vec []float64, colors []string) {
	idx := map[string]int{"W": 0, "U": 1, "B": 2, "R": 3, "G": 4}
	for _, c := range colors {
		if i, ok := idx[strings.ToUpper(c)]; ok {
			vec[i] = 1.0
		}
	}
}

func (g *Generator) encodeCMC(vec []float64, cmc float64) {
	i := int(cmc)
	if i > 7 {
		i = 7
	}
	if i < 0 {
		i = 0
	}
	vec[i] = 1.0
}

func (g *Generator) encodeTypes(vec []float64, typeLine string) {
	lower := strings.ToLower(typeLine)
	checks := []struct {
		keyword string
		index   int
	}{
		{"creature", 0}, {"instant", 1}, {"sorcery", 2}, {"enchantment", 3},
		{"artifact", 4}, {"planeswalker", 5}, {"land", 6},
	}
	found := false
	for _, c := range checks {
		if strings.Contains(lower, c.keyword) {
			vec[c.index] = 1.0
			found = true
		}
	}
	if !found {
		vec[7] = 1.0
	}
}

func (g *Generator) encodeRarity(vec []float64, rarity string) {
	idx := map[string]int{"common": 0, "uncommon": 1, "rare": 2, "mythic": 3}
	if i, ok := idx[strings.ToLower(rarity)]; ok {
		vec[i] = 1.0
	}
}

func (g *Generator) encodePowerToughness(vec []float64, power, toughness string) {
	g.encodeStatValue(vec[0:5], power)
	g.encodeStatValue(vec[5:10], toughness)
}

func (g *Generator) encodeStatValue(vec []float64, value string) {
	if value == "" || value == "*" {
		for i := range vec {
			vec[i] = 0.2
		}
		return
	}
	if strings.ContainsAny(value, "Xx") {
		vec[4] = 1.0
		return
	}
	val := 0
	for _, c := range value {
		if c >= '0' && c <= '9' {
			val = val*10 + int(c-'0')
		}
	}
	bucket := val / 2
	if bucket > 4 {
		bucket = 4
	}
	vec[bucket] = 1.0
}

var commonKeywords = []string{
	"flying", "trample", "haste", "vigilance", "lifelink",
	"deathtouch", "first strike", "double strike", "menace", "reach",
	"flash", "hexproof", "indestructible", "defender", "protection",
	"ward", "prowess", "scry", "surveil", "draw",
	"counter", "destroy", "exile", "return", "sacrifice",
	"token", "enters", "dies", "graveyard",
}

func (g *Generator) encodeKeywords(vec []float64, oracleText string) {
	lower := strings.ToLower(oracleText)
	for i, kw := range commonKeywords {
		if i >= len(vec) {
			break
		}
		if strings.Contains(lower, kw) {
			vec[i] = 1.0
		}
	}
}

func (g *Generator) normalize(vec []float64) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineSimilarity computes cosine similarity between two equal-length vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

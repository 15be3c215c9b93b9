package deck

import (
	"testing"

	"github.com/deckforge/deckforge/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bolt() catalog.Card {
	return catalog.Card{ID: "c1", Name: "Lightning Bolt", CMC: 1, Colors: []string{"R"}, ColorIdentity: []string{"R"}, Types: []string{"Instant"}}
}

func mountain() catalog.Card {
	return catalog.Card{ID: "c2", Name: "Mountain", Types: []string{"Land"}}
}

func TestTotalCardsAndLandCount(t *testing.T) {
	d := &Deck{Cards: []DeckCard{{Card: bolt(), Quantity: 4}, {Card: mountain(), Quantity: 20}}}
	assert.Equal(t, 24, d.TotalCards())
	assert.Equal(t, 20, d.LandCount())
}

func TestAddCopiesMergesExisting(t *testing.T) {
	d := &Deck{}
	d.AddCopies(bolt(), 2)
	total := d.AddCopies(bolt(), 1)
	assert.Equal(t, 3, total)
	assert.Len(t, d.Cards, 1)
}

func TestRemoveCopiesClampsAndDeletes(t *testing.T) {
	d := &Deck{}
	d.AddCopies(bolt(), 2)

	removed := d.RemoveCopies("Lightning Bolt", 5)
	assert.Equal(t, 2, removed)
	assert.Empty(t, d.Cards)
}

func TestColorIdentityUnion(t *testing.T) {
	d := &Deck{Cards: []DeckCard{{Card: bolt(), Quantity: 1}}}
	assert.Equal(t, []string{"R"}, d.ColorIdentity())
}

func TestQualityMetricsOverallIsArithmeticMean(t *testing.T) {
	m := QualityMetrics{ManaCurve: 1, LandRatio: 1, Synergy: 0, Consistency: 0}
	assert.InDelta(t, 0.5, m.Overall(), 0.0001)
}

func TestIterationStateRecordAppendsAndBumps(t *testing.T) {
	s := &IterationState{MaxIterations: 5, Threshold: 0.7}
	s.Record(Deck{}, QualityMetrics{}, nil)
	require.Len(t, s.History, 1)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, 0, s.History[0].IterationIndex)
}

package formatrules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnknownFormatDefaultsToStandard(t *testing.T) {
	r := Get("Wizardly Nonsense")
	assert.Equal(t, "Standard", r.Format)
}

func TestSingletonImpliesCopyLimitOne(t *testing.T) {
	for _, name := range []string{"Standard", "Modern", "Commander", "Legacy", "Vintage", "Pioneer"} {
		r := Get(name)
		if r.IsSingleton() {
			assert.Equal(t, 1, r.CopyLimit, "format %s", name)
		}
	}
}

func TestCommanderDeckSize(t *testing.T) {
	r := Get("Commander")
	assert.Equal(t, 100, r.DeckSize)
	assert.True(t, r.IsSingleton())
}

func TestCMCToBucket(t *testing.T) {
	assert.Equal(t, Bucket0to1, CMCToBucket(0))
	assert.Equal(t, Bucket0to1, CMCToBucket(1))
	assert.Equal(t, Bucket2, CMCToBucket(2))
	assert.Equal(t, Bucket6Plus, CMCToBucket(9))
}

func TestIdealLandCountFallsBackToMidrange(t *testing.T) {
	r := Get("Standard")
	assert.Equal(t, r.LandRatio.IdealByArchetype[Midrange], r.IdealLandCount("unknown-archetype"))
}

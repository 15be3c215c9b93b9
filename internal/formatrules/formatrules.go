// Package formatrules centralizes the static per-format constraint and
// ideal tables consulted by the analyzer and the builder (spec §4.6). The
// tables themselves are pure data; Reload and WatchFile (formatrules/watch.go)
// are the only I/O this package performs, and both are opt-in.
package formatrules

import "sync"

// CMCBucket names a mana-value range in the ideal curve distribution.
type CMCBucket string

const (
	Bucket0to1  CMCBucket = "0-1"
	Bucket2     CMCBucket = "2"
	Bucket3     CMCBucket = "3"
	Bucket4     CMCBucket = "4"
	Bucket5     CMCBucket = "5"
	Bucket6Plus CMCBucket = "6+"
)

// Archetype is one of the labelled deck strategies from the glossary.
type Archetype string

const (
	Aggro          Archetype = "aggro"
	Midrange       Archetype = "midrange"
	Control        Archetype = "control"
	Combo          Archetype = "combo"
	Tempo          Archetype = "tempo"
	Ramp           Archetype = "ramp"
	OtherArchetype Archetype = "other"
)

// LandRatioBand bounds the linear-decay-to-zero window around the ideal
// land count, expressed as a fraction of deck size on each side.
type LandRatioBand struct {
	IdealByArchetype map[Archetype]int `toml:"ideal_by_archetype"`
	BandFraction     float64           `toml:"band_fraction"` // e.g. 0.2 => ±20% of deck_size
}

// Rules describes one format's constraints and ideals.
type Rules struct {
	Format       string                `toml:"format"`
	DeckSize     int                   `toml:"deck_size"`
	CopyLimit    int                   `toml:"copy_limit"` // 4 for most formats, 1 for singleton formats
	Singleton    bool                  `toml:"singleton"`
	LegendaryMax int                   `toml:"legendary_max"`
	LandRatio    LandRatioBand         `toml:"land_ratio"`
	CurveIdeal   map[CMCBucket]float64 `toml:"curve_ideal"` // fractions, sum to 1.0
}

// IsSingleton reports whether the format allows at most one copy of any
// non-basic-land card.
func (r Rules) IsSingleton() bool { return r.Singleton }

// IdealLandCount returns the ideal land count for the given archetype,
// falling back to the midrange value when the archetype is unrecognized.
func (r Rules) IdealLandCount(a Archetype) int {
	if n, ok := r.LandRatio.IdealByArchetype[a]; ok {
		return n
	}
	return r.LandRatio.IdealByArchetype[Midrange]
}

func standardCurve() map[CMCBucket]float64 {
	return map[CMCBucket]float64{
		Bucket0to1: 0.15, Bucket2: 0.25, Bucket3: 0.25,
		Bucket4: 0.15, Bucket5: 0.12, Bucket6Plus: 0.08,
	}
}

func aggroCurve() map[CMCBucket]float64 {
	return map[CMCBucket]float64{
		Bucket0to1: 0.30, Bucket2: 0.30, Bucket3: 0.20,
		Bucket4: 0.12, Bucket5: 0.05, Bucket6Plus: 0.03,
	}
}

func controlCurve() map[CMCBucket]float64 {
	return map[CMCBucket]float64{
		Bucket0to1: 0.08, Bucket2: 0.15, Bucket3: 0.20,
		Bucket4: 0.20, Bucket5: 0.20, Bucket6Plus: 0.17,
	}
}

func sixtyCardLandIdeals(aggroLands, midrangeLands, controlLands int) map[Archetype]int {
	return map[Archetype]int{
		Aggro: aggroLands, Tempo: aggroLands,
		Midrange: midrangeLands, Ramp: midrangeLands, Combo: midrangeLands, OtherArchetype: midrangeLands,
		Control: controlLands,
	}
}

var tablesMu sync.RWMutex

// tables holds the static per-format rule set, keyed by format name exactly
// as parsed from chat requests (spec §6).
var tables = map[string]Rules{
	"Standard": {
		Format: "Standard", DeckSize: 60, CopyLimit: 4, Singleton: false, LegendaryMax: 1,
		LandRatio:  LandRatioBand{IdealByArchetype: sixtyCardLandIdeals(15, 17, 18), BandFraction: 0.2},
		CurveIdeal: standardCurve(),
	},
	"Pioneer": {
		Format: "Pioneer", DeckSize: 60, CopyLimit: 4, Singleton: false, LegendaryMax: 1,
		LandRatio:  LandRatioBand{IdealByArchetype: sixtyCardLandIdeals(15, 17, 18), BandFraction: 0.2},
		CurveIdeal: standardCurve(),
	},
	"Modern": {
		Format: "Modern", DeckSize: 60, CopyLimit: 4, Singleton: false, LegendaryMax: 1,
		LandRatio:  LandRatioBand{IdealByArchetype: sixtyCardLandIdeals(14, 16, 17), BandFraction: 0.2},
		CurveIdeal: aggroCurve(),
	},
	"Legacy": {
		Format: "Legacy", DeckSize: 60, CopyLimit: 4, Singleton: false, LegendaryMax: 1,
		LandRatio:  LandRatioBand{IdealByArchetype: sixtyCardLandIdeals(14, 16, 17), BandFraction: 0.2},
		CurveIdeal: aggroCurve(),
	},
	"Vintage": {
		Format: "Vintage", DeckSize: 60, CopyLimit: 4, Singleton: false, LegendaryMax: 1,
		LandRatio:  LandRatioBand{IdealByArchetype: sixtyCardLandIdeals(14, 16, 17), BandFraction: 0.2},
		CurveIdeal: aggroCurve(),
	},
	"Commander": {
		Format: "Commander", DeckSize: 100, CopyLimit: 1, Singleton: true, LegendaryMax: 1,
		LandRatio: LandRatioBand{
			IdealByArchetype: map[Archetype]int{
				Aggro: 34, Tempo: 34, Midrange: 37, Ramp: 38, Combo: 35, OtherArchetype: 37, Control: 40,
			},
			BandFraction: 0.2,
		},
		CurveIdeal: controlCurve(),
	},
}

// Get returns the rules for format, defaulting to Standard when format is
// unrecognized (spec §8 boundary behavior).
func Get(format string) Rules {
	tablesMu.RLock()
	defer tablesMu.RUnlock()
	if r, ok := tables[format]; ok {
		return r
	}
	return tables["Standard"]
}

// Known reports whether format has a dedicated rule table.
func Known(format string) bool {
	tablesMu.RLock()
	defer tablesMu.RUnlock()
	_, ok := tables[format]
	return ok
}

// replaceTables atomically swaps in a fully new rule set, used by Reload.
func replaceTables(next map[string]Rules) {
	tablesMu.Lock()
	tables = next
	tablesMu.Unlock()
}

// CMCToBucket maps a converted mana cost to its curve bucket.
func CMCToBucket(cmc float64) CMCBucket {
	switch {
	case cmc <= 1:
		return Bucket0to1
	case cmc <= 2:
		return Bucket2
	case cmc <= 3:
		return Bucket3
	case cmc <= 4:
		return Bucket4
	case cmc <= 5:
		return Bucket5
	default:
		return Bucket6Plus
	}
}

// Package classify turns accumulated signal scores into confidence tiers
// and applies the exclusive combination bonuses.
package classify

import "botsweep/internal/detect"

// Tier is the confidence classification of a session.
type Tier int

const (
	// TierLow covers everything below the medium threshold, including
	// unscored sessions.
	TierLow Tier = iota
	// TierMedium is suspicious but not certain; surfaced for review.
	TierMedium
	// TierHigh is certainly automated traffic, eligible for pruning.
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// Score thresholds. A committed session's is_bot flag is true exactly when
// its capped score reached HighThreshold.
const (
	MediumThreshold = 30
	HighThreshold   = 70
	MaxScore        = 100
)

// Cap bounds a raw accumulated score to the committed range.
func Cap(score int) int {
	if score > MaxScore {
		return MaxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

// TierFor maps a capped score to its tier. Total and pure.
func TierFor(score int) Tier {
	switch {
	case score >= HighThreshold:
		return TierHigh
	case score >= MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// ComboRule is an exclusive bonus for co-occurring signal families.
type ComboRule struct {
	Tag   string
	Bonus int
	Match func(detect.ReasonSet) bool
}

// Signal-family predicates over a session's reason set.

func hasOutdated(rs detect.ReasonSet) bool {
	return rs.Has(detect.ReasonDeadBrowser) || rs.HasPrefix(detect.ReasonOutdatedBrowserPrefix)
}

func hasDatacenter(rs detect.ReasonSet) bool {
	return rs.HasPrefix(detect.ReasonDatacenterIPPrefix)
}

func hasBehavior(rs detect.ReasonSet) bool {
	return rs.HasAny(
		detect.ReasonHighVolumeHourly,
		detect.ReasonHighVolumeDaily,
		detect.ReasonRoboticTiming,
		detect.ReasonSequentialCrawler,
		detect.ReasonSystematicCrawler,
		detect.ReasonIPVolumeAnomaly,
	)
}

// Rules is the combination bonus table in priority order. At most one rule
// fires per session: correlated signals must not be double-penalized, but
// genuinely multi-family evidence outranks a pile of weak single signals.
var Rules = []ComboRule{
	{
		Tag:   "combo:triple_threat",
		Bonus: 40,
		Match: func(rs detect.ReasonSet) bool {
			return hasOutdated(rs) && hasDatacenter(rs) && hasBehavior(rs)
		},
	},
	{
		Tag:   "combo:known+datacenter",
		Bonus: 25,
		Match: func(rs detect.ReasonSet) bool {
			return rs.Has(detect.ReasonKnownBot) && hasDatacenter(rs)
		},
	},
	{
		Tag:   "combo:outdated+datacenter",
		Bonus: 25,
		Match: func(rs detect.ReasonSet) bool {
			return hasOutdated(rs) && hasDatacenter(rs)
		},
	},
	{
		Tag:   "combo:outdated+behavior",
		Bonus: 20,
		Match: func(rs detect.ReasonSet) bool {
			return hasOutdated(rs) && hasBehavior(rs)
		},
	},
	{
		Tag:   "combo:datacenter+behavior",
		Bonus: 15,
		Match: func(rs detect.ReasonSet) bool {
			return hasDatacenter(rs) && hasBehavior(rs)
		},
	},
	{
		Tag:   "combo:custom+outdated",
		Bonus: 15,
		Match: func(rs detect.ReasonSet) bool {
			return rs.Has(detect.ReasonCustomBotPattern) && hasOutdated(rs)
		},
	},
	{
		Tag:   "combo:outdated+singlepage",
		Bonus: 15,
		Match: func(rs detect.ReasonSet) bool {
			return hasOutdated(rs) && rs.Has(detect.ReasonSinglePageSession)
		},
	},
}

// ApplyCombo evaluates the rule table against a reason set. First match
// wins; ok is false when no rule applies.
func ApplyCombo(rs detect.ReasonSet) (bonus int, tag string, ok bool) {
	for _, rule := range Rules {
		if rule.Match(rs) {
			return rule.Bonus, rule.Tag, true
		}
	}
	return 0, "", false
}

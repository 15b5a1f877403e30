// Package detect implements the signal-collection passes of the bot
// classification engine. Each detector scans the analytics store in batches
// and writes scored signals into a run-scoped accumulator; nothing is
// classified or persisted until every detector has run.
package detect

// Signal is one heuristic's scored opinion about a session.
type Signal struct {
	SessionID string
	Points    int
	Reason    string
}

// Reason tags emitted by the detectors.
const (
	ReasonNoPageViews       = "no_page_views"
	ReasonKnownBot          = "known_bot"
	ReasonDeadBrowser       = "dead_browser"
	ReasonCustomBotPattern  = "custom_bot_pattern"
	ReasonHighVolumeHourly  = "high_volume_hourly"
	ReasonHighVolumeDaily   = "high_volume_daily"
	ReasonSystematicCrawler = "systematic_crawler"
	ReasonIPVolumeAnomaly   = "ip_volume_anomaly"
	ReasonRoboticTiming     = "robotic_timing"
	ReasonSequentialCrawler = "sequential_crawler"
	ReasonSinglePageSession = "single_page_session"

	// Prefix tags carry a variable suffix: the point band for outdated
	// browsers, the provider name for datacenter IPs.
	ReasonOutdatedBrowserPrefix = "outdated_browser:"
	ReasonDatacenterIPPrefix    = "datacenter_ip:"
)

// Point values per signal.
const (
	PointsNoPageViews       = 100
	PointsKnownBot          = 50
	PointsDeadBrowser       = 50
	PointsCustomBotPattern  = 50
	PointsHighVolume        = 35
	PointsSystematicCrawler = 35
	PointsIPVolumeAnomaly   = 30
	PointsRoboticTiming     = 40
	PointsSequentialCrawler = 40
	PointsSinglePage        = 20
	PointsDatacenterIP      = 35
)

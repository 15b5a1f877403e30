package detect

import (
	"context"
	"fmt"
	"log/slog"

	"botsweep/internal/crawler"
	"botsweep/internal/store"
	"botsweep/internal/useragent"
	"botsweep/internal/versions"
)

// UserAgentDetector scores sessions on what their user agent claims to be:
// known crawler signatures, dead browsers, version age, and custom bot
// fingerprints. Sessions already at or past SkipScore are skipped; they are
// classified HIGH no matter what the UA adds.
type UserAgentDetector struct {
	Store    *store.Store
	Batch    int
	Matcher  crawler.Matcher
	Versions versions.Provider
	// SkipScore is the accumulator score at which a session is skipped.
	SkipScore int
	Log       *slog.Logger
}

func (d *UserAgentDetector) Name() string { return "user_agent" }

func (d *UserAgentDetector) Detect(ctx context.Context, acc *Accumulator) error {
	cat := d.Versions.Current(ctx)
	if d.Log != nil {
		d.Log.Debug("user agent detector using version table", "revision", cat.Revision)
	}

	err := paginate(ctx, d.Batch,
		d.Store.SessionBatch,
		func(s store.Session) string { return s.SessionID },
		func(s store.Session) {
			if d.SkipScore > 0 && acc.Score(s.SessionID) >= d.SkipScore {
				return
			}
			d.scoreSession(acc, s, cat)
		},
	)
	if err != nil {
		return fmt.Errorf("user agent scan: %w", err)
	}
	return nil
}

// scoreSession applies the UA sub-signals. They fire independently of each
// other, except that the dead-browser list and the age score are mutually
// exclusive per session.
func (d *UserAgentDetector) scoreSession(acc *Accumulator, s store.Session, cat *versions.Catalog) {
	ua := useragent.Normalize(s.UserAgent)

	if d.Matcher != nil && d.Matcher.IsKnownCrawler(ua, s.IPAddress) {
		acc.Add(s.SessionID, PointsKnownBot, ReasonKnownBot)
	}

	if useragent.IsDeadBrowser(ua) {
		acc.Add(s.SessionID, PointsDeadBrowser, ReasonDeadBrowser)
	} else if pts := useragent.AgeScore(ua, cat); pts > 0 {
		acc.Add(s.SessionID, pts, fmt.Sprintf("%s%d", ReasonOutdatedBrowserPrefix, pts))
	}

	if useragent.MatchesCustomPattern(ua) {
		acc.Add(s.SessionID, PointsCustomBotPattern, ReasonCustomBotPattern)
	}
}

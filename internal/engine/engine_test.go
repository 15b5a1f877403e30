package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"botsweep/internal/classify"
	"botsweep/internal/detect"
	"botsweep/internal/ranges"
	"botsweep/internal/store"
	"botsweep/internal/versions"
)

const (
	uaModern = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"
	uaDead   = "Mozilla/4.0 (compatible; MSIE 6.0; Windows NT 5.1)"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addSession(t *testing.T, s *store.Store, id, ip, ua string, createdAt int64) {
	t.Helper()
	err := s.InsertSession(&store.Session{
		SessionID: id,
		IPAddress: ip,
		UserAgent: ua,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("InsertSession(%s) failed: %v", id, err)
	}
}

func addView(t *testing.T, s *store.Store, sessionID, url string, createdAt int64) {
	t.Helper()
	if _, err := s.InsertPageView(&store.PageView{SessionID: sessionID, URL: url, CreatedAt: createdAt}); err != nil {
		t.Fatalf("InsertPageView(%s) failed: %v", sessionID, err)
	}
}

func addElement(t *testing.T, s *store.Store, sessionID string, createdAt int64) {
	t.Helper()
	ev := &store.ElementView{SessionID: sessionID, ElementUUID: "el-1", ElementType: "detail", CreatedAt: createdAt}
	if _, err := s.InsertElementView(ev); err != nil {
		t.Fatalf("InsertElementView(%s) failed: %v", sessionID, err)
	}
}

// seedMixedTraffic seeds one session per tier outcome:
//   - "aa-high":  dead browser on an AWS address, both page views and an
//     element view (50+35+25 combo, capped at 100)
//   - "bb-medium": dead browser on a residential address (50)
//   - "cc-clean":  current browser, residential, no signals
func seedMixedTraffic(t *testing.T, s *store.Store) {
	t.Helper()
	now := time.Now().Add(-time.Hour).Unix()

	addSession(t, s, "aa-high", "3.1.2.3", uaDead, now)
	addView(t, s, "aa-high", "/products", now)
	addView(t, s, "aa-high", "/products/42", now+60)
	addElement(t, s, "aa-high", now+61)

	addSession(t, s, "bb-medium", "93.184.216.34", uaDead, now)
	addView(t, s, "bb-medium", "/products", now)
	addView(t, s, "bb-medium", "/about", now+400)

	addSession(t, s, "cc-clean", "93.184.216.35", uaModern, now)
	addView(t, s, "cc-clean", "/products", now)
	addView(t, s, "cc-clean", "/about", now+400)
}

func newTestEngine(s *store.Store, withRanges bool) *Engine {
	th := detect.DefaultThresholds()
	th.DatacenterDetection = withRanges

	var rc *ranges.Cache
	if withRanges {
		rc = ranges.New(ranges.Config{}, nil)
	}
	return New(s, th, nil, versions.Static{}, rc, nil)
}

func TestRunClassifiesAndPrunes(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	eng := newTestEngine(s, true)
	stats, err := eng.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Scored != 2 {
		t.Errorf("scored = %d, want 2", stats.Scored)
	}
	if stats.High != 1 || stats.Medium != 1 || stats.Low != 0 {
		t.Errorf("tiers = %d/%d/%d, want 1/1/0", stats.High, stats.Medium, stats.Low)
	}
	if stats.PrunedSessions != 1 {
		t.Errorf("pruned sessions = %d, want 1", stats.PrunedSessions)
	}
	if stats.PrunedPageViews != 2 || stats.PrunedElementViews != 1 {
		t.Errorf("pruned rows = %d page views, %d element views", stats.PrunedPageViews, stats.PrunedElementViews)
	}
	if stats.Errors != 0 {
		t.Errorf("errors = %d", stats.Errors)
	}

	// The high session is gone along with its children.
	if sess, err := s.GetSession("aa-high"); err != nil || sess != nil {
		t.Errorf("high session should be deleted, got %v, %v", sess, err)
	}
	if n, _ := s.CountPageViews("aa-high"); n != 0 {
		t.Errorf("orphaned page views left: %d", n)
	}
	if n, _ := s.CountElementViews("aa-high"); n != 0 {
		t.Errorf("orphaned element views left: %d", n)
	}

	// The medium session carries its score and reasons but is not a bot.
	sess, err := s.GetSession("bb-medium")
	if err != nil || sess == nil {
		t.Fatalf("GetSession(bb-medium) = %v, %v", sess, err)
	}
	if sess.IsBot {
		t.Error("medium session must not be flagged as bot")
	}
	if !sess.BotScore.Valid || sess.BotScore.Int64 != 50 {
		t.Errorf("medium score = %+v, want 50", sess.BotScore)
	}
	if !sess.BotReason.Valid || sess.BotReason.String != "dead_browser" {
		t.Errorf("medium reason = %+v", sess.BotReason)
	}

	// The clean session is untouched: no score, not even zero.
	clean, err := s.GetSession("cc-clean")
	if err != nil || clean == nil {
		t.Fatalf("GetSession(cc-clean) = %v, %v", clean, err)
	}
	if clean.BotScore.Valid || clean.IsBot {
		t.Errorf("clean session was written to: %+v", clean)
	}
}

func TestRunScoreInvariants(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	eng := newTestEngine(s, true)
	if _, err := eng.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sessions, err := s.SessionBatch("", 1000)
	if err != nil {
		t.Fatalf("SessionBatch failed: %v", err)
	}
	for _, sess := range sessions {
		if !sess.BotScore.Valid {
			if sess.IsBot {
				t.Errorf("%s: bot without a score", sess.SessionID)
			}
			continue
		}
		score := sess.BotScore.Int64
		if score < 0 || score > classify.MaxScore {
			t.Errorf("%s: score %d out of range", sess.SessionID, score)
		}
		if sess.IsBot != (score >= classify.HighThreshold) {
			t.Errorf("%s: is_bot %v inconsistent with score %d", sess.SessionID, sess.IsBot, score)
		}
	}
}

func TestRunDryRun(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	eng := newTestEngine(s, true)
	stats, err := eng.Run(context.Background(), RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.High != 1 || stats.Medium != 1 {
		t.Errorf("dry run tiers = %d/%d, want 1/1", stats.High, stats.Medium)
	}
	if stats.Committed != 0 || stats.PrunedSessions != 0 {
		t.Errorf("dry run wrote: committed %d, pruned %d", stats.Committed, stats.PrunedSessions)
	}

	// Nothing in the store moved.
	for _, id := range []string{"aa-high", "bb-medium", "cc-clean"} {
		sess, err := s.GetSession(id)
		if err != nil || sess == nil {
			t.Fatalf("GetSession(%s) = %v, %v", id, sess, err)
		}
		if sess.BotScore.Valid || sess.IsBot {
			t.Errorf("dry run modified %s: %+v", id, sess)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	eng := newTestEngine(s, true)
	if _, err := eng.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Scores are re-derived from signals, never accumulated across runs.
	stats, err := eng.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if stats.High != 0 {
		t.Errorf("second run found %d high sessions, the first should have pruned them", stats.High)
	}

	sess, err := s.GetSession("bb-medium")
	if err != nil || sess == nil {
		t.Fatalf("GetSession(bb-medium) = %v, %v", sess, err)
	}
	if !sess.BotScore.Valid || sess.BotScore.Int64 != 50 {
		t.Errorf("score after second run = %+v, want unchanged 50", sess.BotScore)
	}
}

func TestRunBatchSizeOverrideIsRunLocal(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	eng := newTestEngine(s, false)
	before := eng.Thresholds().BatchSize

	if _, err := eng.Run(context.Background(), RunOptions{BatchSize: 7}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := eng.Thresholds().BatchSize; got != before {
		t.Errorf("batch size after overridden run = %d, want %d", got, before)
	}
}

func TestRunOrphanSession(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Add(-time.Hour).Unix()
	addSession(t, s, "ghost", "93.184.216.40", uaModern, now)

	eng := newTestEngine(s, false)
	stats, err := eng.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.High != 1 || stats.PrunedSessions != 1 {
		t.Errorf("orphan not condemned: high %d, pruned %d", stats.High, stats.PrunedSessions)
	}
	if sess, _ := s.GetSession("ghost"); sess != nil {
		t.Error("orphan session survived the prune")
	}
}

func TestRunCancellation(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := newTestEngine(s, false)
	_, err := eng.Run(ctx, RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run under cancelled context = %v, want context.Canceled", err)
	}
}

func TestReviewPromoteDemote(t *testing.T) {
	s := newTestStore(t)
	seedMixedTraffic(t, s)

	eng := newTestEngine(s, true)
	if _, err := eng.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Review surfaces the medium session.
	sessions, err := eng.Review(0)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "bb-medium" {
		t.Fatalf("Review = %+v, want bb-medium", sessions)
	}

	// Promote by unique prefix.
	sess, err := eng.Promote("bb-")
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if !sess.IsBot || sess.BotScore.Int64 != classify.HighThreshold {
		t.Errorf("promoted session = %+v", sess)
	}
	if sess.BotReason.String != ManualPromoteReason {
		t.Errorf("promote reason = %q", sess.BotReason.String)
	}

	// Promotion flags the page views too.
	// (bb-medium has two page views seeded.)
	stats, err := eng.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Tiers.High != 1 {
		t.Errorf("high tier count = %d after promotion", stats.Tiers.High)
	}
	if stats.Reasons[ManualPromoteReason] != 1 {
		t.Errorf("reason breakdown = %v", stats.Reasons)
	}

	// Demote clears everything.
	sess, err = eng.Demote("bb-")
	if err != nil {
		t.Fatalf("Demote failed: %v", err)
	}
	if sess.IsBot || sess.BotScore.Int64 != 0 {
		t.Errorf("demoted session = %+v", sess)
	}

	stats, err = eng.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Tiers.High != 0 {
		t.Errorf("high tier count = %d after demotion", stats.Tiers.High)
	}
}

func TestPromoteUnknownAndAmbiguousPrefix(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Unix()
	addSession(t, s, "dup-1", "1.1.1.1", uaModern, now)
	addSession(t, s, "dup-2", "1.1.1.2", uaModern, now)

	eng := newTestEngine(s, false)

	if _, err := eng.Promote("missing"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Promote(missing) = %v, want ErrSessionNotFound", err)
	}
	if _, err := eng.Promote("dup-"); !errors.Is(err, store.ErrAmbiguousPrefix) {
		t.Errorf("Promote(dup-) = %v, want ErrAmbiguousPrefix", err)
	}
}

func TestStatsOnEmptyStore(t *testing.T) {
	s := newTestStore(t)
	eng := newTestEngine(s, false)

	stats, err := eng.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Tiers.Total != 0 || len(stats.Reasons) != 0 {
		t.Errorf("empty store stats = %+v", stats)
	}
}

func TestRunStatsString(t *testing.T) {
	stats := &RunStats{
		RunID:          "r-1",
		DryRun:         true,
		Scored:         3,
		High:           1,
		Medium:         1,
		Low:            1,
		Duration:       1500 * time.Millisecond,
		PrunedSessions: 0,
	}
	got := stats.String()
	if got == "" {
		t.Fatal("empty summary")
	}
	if want := "dry run r-1: 3 scored (1 high / 1 medium / 1 low)"; len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("summary = %q", got)
	}
}

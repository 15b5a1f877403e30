package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSession(t *testing.T, s *Store, id, ip, ua string, createdAt int64) {
	t.Helper()
	err := s.InsertSession(&Session{
		SessionID: id,
		IPAddress: ip,
		UserAgent: ua,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("InsertSession(%s) failed: %v", id, err)
	}
}

func seedPageView(t *testing.T, s *Store, sessionID, url string, createdAt int64) {
	t.Helper()
	if _, err := s.InsertPageView(&PageView{SessionID: sessionID, URL: url, CreatedAt: createdAt}); err != nil {
		t.Fatalf("InsertPageView(%s) failed: %v", sessionID, err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestOrphanSessionIDs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "orphan-1", "1.2.3.4", "ua", now)
	seedSession(t, s, "visited-1", "1.2.3.5", "ua", now)
	seedPageView(t, s, "visited-1", "/home", now)

	ids, err := s.OrphanSessionIDs("", 100)
	if err != nil {
		t.Fatalf("OrphanSessionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "orphan-1" {
		t.Errorf("expected [orphan-1], got %v", ids)
	}
}

func TestSessionBatchPagination(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedSession(t, s, id, "1.1.1.1", "ua", now)
	}

	first, err := s.SessionBatch("", 2)
	if err != nil {
		t.Fatalf("SessionBatch failed: %v", err)
	}
	if len(first) != 2 || first[0].SessionID != "a" || first[1].SessionID != "b" {
		t.Fatalf("unexpected first batch: %+v", first)
	}

	second, err := s.SessionBatch(first[1].SessionID, 2)
	if err != nil {
		t.Fatalf("SessionBatch failed: %v", err)
	}
	if len(second) != 2 || second[0].SessionID != "c" {
		t.Fatalf("unexpected second batch: %+v", second)
	}

	last, err := s.SessionBatch(second[1].SessionID, 2)
	if err != nil {
		t.Fatalf("SessionBatch failed: %v", err)
	}
	if len(last) != 1 || last[0].SessionID != "e" {
		t.Fatalf("unexpected last batch: %+v", last)
	}
}

func TestHighVolumeSessions(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()
	base := now - now%3600 // align to an hour bucket

	seedSession(t, s, "busy", "1.1.1.1", "ua", base)
	seedSession(t, s, "calm", "1.1.1.2", "ua", base)

	for i := 0; i < 6; i++ {
		seedPageView(t, s, "busy", "/p", base+int64(i))
	}
	seedPageView(t, s, "calm", "/p", base)

	vols, err := s.HighVolumeSessions(base-1, 3600, 5, "", 100)
	if err != nil {
		t.Fatalf("HighVolumeSessions failed: %v", err)
	}
	if len(vols) != 1 || vols[0].SessionID != "busy" || vols[0].Requests != 6 {
		t.Errorf("expected busy session with 6 requests, got %+v", vols)
	}
}

func TestDiverseURLSessions(t *testing.T) {
	s := openTestStore(t)
	base := int64(1700000000)
	base -= base % 86400

	seedSession(t, s, "crawler", "1.1.1.1", "ua", base)
	for i := 0; i < 10; i++ {
		seedPageView(t, s, "crawler", "/page-"+string(rune('a'+i)), base+int64(i))
	}

	divs, err := s.DiverseURLSessions(base-1, 10, "", 100)
	if err != nil {
		t.Fatalf("DiverseURLSessions failed: %v", err)
	}
	if len(divs) != 1 || divs[0].Requests != 10 || divs[0].DistinctURLs != 10 {
		t.Errorf("unexpected diversity rows: %+v", divs)
	}
}

func TestFanoutIPs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	for i := 0; i < 4; i++ {
		seedSession(t, s, "fan-"+string(rune('a'+i)), "9.9.9.9", "ua", now)
	}
	seedSession(t, s, "solo", "8.8.8.8", "ua", now)

	ips, err := s.FanoutIPs(now-10, 3)
	if err != nil {
		t.Fatalf("FanoutIPs failed: %v", err)
	}
	if len(ips) != 1 || ips[0] != "9.9.9.9" {
		t.Errorf("expected [9.9.9.9], got %v", ips)
	}

	ids, err := s.SessionIDsForIP("9.9.9.9", now-10)
	if err != nil {
		t.Fatalf("SessionIDsForIP failed: %v", err)
	}
	if len(ids) != 4 {
		t.Errorf("expected 4 sessions for fanout ip, got %v", ids)
	}
}

func TestSinglePageSessionIDs(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "single", "1.1.1.1", "ua", now)
	seedPageView(t, s, "single", "/only", now)

	seedSession(t, s, "double", "1.1.1.2", "ua", now)
	seedPageView(t, s, "double", "/a", now)
	seedPageView(t, s, "double", "/b", now)

	ids, err := s.SinglePageSessionIDs("", 100)
	if err != nil {
		t.Fatalf("SinglePageSessionIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "single" {
		t.Errorf("expected [single], got %v", ids)
	}
}

func TestCommitScoreAndFlagPropagation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "sess-1", "1.1.1.1", "ua", now)
	seedPageView(t, s, "sess-1", "/a", now)
	seedPageView(t, s, "sess-1", "/b", now)

	if err := s.CommitScore("sess-1", 85, "known_bot,datacenter_ip:aws", true); err != nil {
		t.Fatalf("CommitScore failed: %v", err)
	}
	n, err := s.MarkPageViewsBot("sess-1")
	if err != nil {
		t.Fatalf("MarkPageViewsBot failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 flagged page views, got %d", n)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.IsBot || !sess.BotScore.Valid || sess.BotScore.Int64 != 85 {
		t.Errorf("unexpected committed session: %+v", sess)
	}
	if sess.BotReason.String != "known_bot,datacenter_ip:aws" {
		t.Errorf("unexpected reason: %q", sess.BotReason.String)
	}
}

func TestCommitScoreMissingSession(t *testing.T) {
	s := openTestStore(t)

	err := s.CommitScore("no-such", 50, "", false)
	if err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestPruneSessionsDeletesChildrenFirst(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "doomed", "1.1.1.1", "ua", now)
	seedPageView(t, s, "doomed", "/a", now)
	seedPageView(t, s, "doomed", "/b", now)
	if _, err := s.InsertElementView(&ElementView{SessionID: "doomed", ElementUUID: "el-1", ElementType: "click", CreatedAt: now}); err != nil {
		t.Fatalf("InsertElementView failed: %v", err)
	}

	seedSession(t, s, "spared", "1.1.1.2", "ua", now)
	seedPageView(t, s, "spared", "/c", now)

	res, err := s.PruneSessions([]string{"doomed"})
	if err != nil {
		t.Fatalf("PruneSessions failed: %v", err)
	}
	if res.Sessions != 1 || res.PageViews != 2 || res.ElementViews != 1 {
		t.Errorf("unexpected prune result: %+v", res)
	}

	sess, err := s.GetSession("doomed")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess != nil {
		t.Error("doomed session should be gone")
	}

	// No orphaned children anywhere
	if n, _ := s.CountPageViews("doomed"); n != 0 {
		t.Errorf("expected 0 page views for pruned session, got %d", n)
	}
	if n, _ := s.CountElementViews("doomed"); n != 0 {
		t.Errorf("expected 0 element views for pruned session, got %d", n)
	}

	// Untouched neighbor survives
	if sess, _ := s.GetSession("spared"); sess == nil {
		t.Error("spared session should still exist")
	}
}

func TestPruneSessionsEmpty(t *testing.T) {
	s := openTestStore(t)

	res, err := s.PruneSessions(nil)
	if err != nil {
		t.Fatalf("PruneSessions(nil) failed: %v", err)
	}
	if res.Sessions != 0 {
		t.Errorf("expected no deletions, got %+v", res)
	}
}

func TestFindSessionByPrefix(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "abc-123", "1.1.1.1", "ua", now)
	seedSession(t, s, "abd-456", "1.1.1.2", "ua", now)

	sess, err := s.FindSessionByPrefix("abc")
	if err != nil {
		t.Fatalf("FindSessionByPrefix failed: %v", err)
	}
	if sess.SessionID != "abc-123" {
		t.Errorf("expected abc-123, got %s", sess.SessionID)
	}

	if _, err := s.FindSessionByPrefix("ab"); err == nil {
		t.Error("expected ambiguous prefix error")
	}
	if _, err := s.FindSessionByPrefix("zzz"); err == nil {
		t.Error("expected not found error")
	}
}

func TestTierCountsAndReasonBreakdown(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "high-1", "1.1.1.1", "ua", now)
	seedSession(t, s, "med-1", "1.1.1.2", "ua", now)
	seedSession(t, s, "low-1", "1.1.1.3", "ua", now)
	seedSession(t, s, "none-1", "1.1.1.4", "ua", now)

	if err := s.CommitScore("high-1", 100, "no_page_views", true); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitScore("med-1", 40, "robotic_timing", false); err != nil {
		t.Fatal(err)
	}
	if err := s.CommitScore("low-1", 20, "single_page_session", false); err != nil {
		t.Fatal(err)
	}

	counts, err := s.TierCountsByThreshold(30, 70)
	if err != nil {
		t.Fatalf("TierCountsByThreshold failed: %v", err)
	}
	want := TierCounts{Total: 4, High: 1, Medium: 1, Low: 1, Unscored: 1}
	if counts != want {
		t.Errorf("tier counts = %+v, want %+v", counts, want)
	}

	reasons, err := s.ReasonBreakdown()
	if err != nil {
		t.Fatalf("ReasonBreakdown failed: %v", err)
	}
	if reasons["no_page_views"] != 1 || reasons["robotic_timing"] != 1 || reasons["single_page_session"] != 1 {
		t.Errorf("unexpected reason breakdown: %v", reasons)
	}
}

func TestForceBotAndResetScore(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().Unix()

	seedSession(t, s, "manual", "1.1.1.1", "ua", now)
	seedPageView(t, s, "manual", "/a", now)

	if err := s.ForceBot("manual", 70, "manual_promote"); err != nil {
		t.Fatalf("ForceBot failed: %v", err)
	}

	sess, _ := s.GetSession("manual")
	if !sess.IsBot || sess.BotScore.Int64 != 70 {
		t.Errorf("promote did not take: %+v", sess)
	}

	if err := s.ResetScore("manual"); err != nil {
		t.Fatalf("ResetScore failed: %v", err)
	}
	sess, _ = s.GetSession("manual")
	if sess.IsBot || sess.BotScore.Int64 != 0 {
		t.Errorf("demote did not take: %+v", sess)
	}
}

package store

import (
	"fmt"
	"strings"
)

// Detector read paths. All session-level scans use keyset pagination on
// session_id: callers pass the last id of the previous batch (empty string
// for the first) and stop when a batch comes back short.

// OrphanSessionIDs returns sessions with zero page views, after the given id.
func (s *Store) OrphanSessionIDs(afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT s.session_id
		FROM sessions s
		LEFT JOIN page_views p ON p.session_id = s.session_id
		WHERE p.id IS NULL AND s.session_id > ?
		ORDER BY s.session_id
		LIMIT ?`, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query orphan sessions: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// SessionBatch returns sessions ordered by id, after the given id.
func (s *Store) SessionBatch(afterID string, limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id, ip_address, user_agent, created_at, is_bot, bot_score, bot_reason
		FROM sessions
		WHERE session_id > ?
		ORDER BY session_id
		LIMIT ?`, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session batch: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// HighVolumeSessions returns sessions whose request count within any single
// bucket (bucketSeconds wide) since the cutoff exceeds the threshold.
func (s *Store) HighVolumeSessions(since int64, bucketSeconds int64, threshold int, afterID string, limit int) ([]SessionVolume, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*) AS requests
		FROM page_views
		WHERE created_at >= ? AND session_id > ?
		GROUP BY session_id, created_at / ?
		HAVING requests > ?
		ORDER BY session_id
		LIMIT ?`, since, afterID, bucketSeconds, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query high volume sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionVolume
	for rows.Next() {
		var v SessionVolume
		if err := rows.Scan(&v.SessionID, &v.Requests); err != nil {
			return nil, fmt.Errorf("scan session volume: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session volumes: %w", err)
	}

	return out, nil
}

// DiverseURLSessions returns per-session request and distinct-URL counts for
// sessions with at least minRequests page views in one day since the cutoff.
// The diversity-ratio comparison is done by the caller.
func (s *Store) DiverseURLSessions(since int64, minRequests int, afterID string, limit int) ([]SessionDiversity, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*) AS requests, COUNT(DISTINCT url) AS urls
		FROM page_views
		WHERE created_at >= ? AND session_id > ?
		GROUP BY session_id, created_at / 86400
		HAVING requests >= ?
		ORDER BY session_id
		LIMIT ?`, since, afterID, minRequests, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query diverse url sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionDiversity
	for rows.Next() {
		var d SessionDiversity
		if err := rows.Scan(&d.SessionID, &d.Requests, &d.DistinctURLs); err != nil {
			return nil, fmt.Errorf("scan session diversity: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session diversities: %w", err)
	}

	return out, nil
}

// FanoutIPs returns IP addresses with more than maxSessions distinct sessions
// since the cutoff.
func (s *Store) FanoutIPs(since int64, maxSessions int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT ip_address
		FROM sessions
		WHERE created_at >= ? AND ip_address != ''
		GROUP BY ip_address
		HAVING COUNT(DISTINCT session_id) > ?
		ORDER BY ip_address`, since, maxSessions,
	)
	if err != nil {
		return nil, fmt.Errorf("query fanout ips: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// SessionIDsForIP returns every session id recorded for one IP since the cutoff.
func (s *Store) SessionIDsForIP(ip string, since int64) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT session_id
		FROM sessions
		WHERE ip_address = ? AND created_at >= ?
		ORDER BY session_id`, ip, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions for ip: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// SessionsWithMinPageViews returns sessions with at least n page views since
// the cutoff.
func (s *Store) SessionsWithMinPageViews(since int64, n int, afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT session_id
		FROM page_views
		WHERE created_at >= ? AND session_id > ?
		GROUP BY session_id
		HAVING COUNT(*) >= ?
		ORDER BY session_id
		LIMIT ?`, since, afterID, n, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions with min page views: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// PageViewTimes returns the page view timestamps of a session in visit order.
func (s *Store) PageViewTimes(sessionID string) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT created_at
		FROM page_views
		WHERE session_id = ?
		ORDER BY created_at, id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query page view times: %w", err)
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan page view time: %w", err)
		}
		times = append(times, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page view times: %w", err)
	}

	return times, nil
}

// PaginatedURLSessions returns sessions with more than threshold page views
// whose URL carries a pagination marker, since the cutoff.
func (s *Store) PaginatedURLSessions(since int64, threshold int, afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT session_id
		FROM page_views
		WHERE created_at >= ? AND session_id > ?
		  AND (url LIKE '%page=%' OR url LIKE '%/page/%' OR url LIKE '%&p=%')
		GROUP BY session_id
		HAVING COUNT(*) > ?
		ORDER BY session_id
		LIMIT ?`, since, afterID, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query paginated url sessions: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// PageViewURLs returns the URLs of a session in visit order.
func (s *Store) PageViewURLs(sessionID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT url
		FROM page_views
		WHERE session_id = ?
		ORDER BY created_at, id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query page view urls: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// SinglePageSessionIDs returns sessions with exactly one page view.
// Deliberately unwindowed: a lone page view stays evidence however old it is.
func (s *Store) SinglePageSessionIDs(afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT session_id
		FROM page_views
		WHERE session_id > ?
		GROUP BY session_id
		HAVING COUNT(*) = 1
		ORDER BY session_id
		LIMIT ?`, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query single page sessions: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// inPlaceholders builds a "(?, ?, ...)" fragment and the matching args for an
// IN clause over session ids.
func inPlaceholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

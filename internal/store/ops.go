package store

import (
	"fmt"
	"strings"
)

// Operator surface: lookups and manual overrides used by the review,
// promote, demote and stats commands.

// FindSessionByPrefix resolves a session-id prefix to exactly one session.
// Returns ErrSessionNotFound when nothing matches and ErrAmbiguousPrefix when
// more than one session does.
func (s *Store) FindSessionByPrefix(prefix string) (*Session, error) {
	if prefix == "" {
		return nil, fmt.Errorf("find session: %w", ErrSessionNotFound)
	}

	rows, err := s.db.Query(`
		SELECT session_id, ip_address, user_agent, created_at, is_bot, bot_score, bot_reason
		FROM sessions
		WHERE session_id LIKE ? ESCAPE '\'
		LIMIT 2`, escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("find session by prefix: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}

	switch len(sessions) {
	case 0:
		return nil, fmt.Errorf("find session %q: %w", prefix, ErrSessionNotFound)
	case 1:
		return &sessions[0], nil
	default:
		return nil, fmt.Errorf("find session %q: %w", prefix, ErrAmbiguousPrefix)
	}
}

// escapeLike escapes LIKE wildcards so a prefix is matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SessionsInScoreRange returns sessions with low <= bot_score < high, highest
// score first. Used by the review command for the medium-confidence band.
func (s *Store) SessionsInScoreRange(low, high, limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id, ip_address, user_agent, created_at, is_bot, bot_score, bot_reason
		FROM sessions
		WHERE bot_score >= ? AND bot_score < ?
		ORDER BY bot_score DESC, session_id
		LIMIT ?`, low, high, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions in score range: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// TierCountsByThreshold counts the session population per confidence band.
// Sessions with a NULL or zero score count as unscored.
func (s *Store) TierCountsByThreshold(mediumThreshold, highThreshold int) (TierCounts, error) {
	var c TierCounts

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN bot_score >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN bot_score >= ? AND bot_score < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN bot_score > 0 AND bot_score < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN bot_score IS NULL OR bot_score = 0 THEN 1 ELSE 0 END), 0)
		FROM sessions`,
		highThreshold, mediumThreshold, highThreshold, mediumThreshold,
	).Scan(&c.Total, &c.High, &c.Medium, &c.Low, &c.Unscored)
	if err != nil {
		return c, fmt.Errorf("count tiers: %w", err)
	}

	return c, nil
}

// ReasonBreakdown counts occurrences of each reason tag across all committed
// sessions. bot_reason is a comma-joined tag list.
func (s *Store) ReasonBreakdown() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT bot_reason FROM sessions
		WHERE bot_reason IS NOT NULL AND bot_reason != ''`,
	)
	if err != nil {
		return nil, fmt.Errorf("query reasons: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		if err := rows.Scan(&reason); err != nil {
			return nil, fmt.Errorf("scan reason: %w", err)
		}
		for _, tag := range strings.Split(reason, ",") {
			tag = strings.TrimSpace(tag)
			if tag != "" {
				counts[tag]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reasons: %w", err)
	}

	return counts, nil
}

// ForceBot sets a session to the given score, flags it and its page views.
// Used by the promote command; no detectors are involved.
func (s *Store) ForceBot(sessionID string, score int, reason string) error {
	if err := s.CommitScore(sessionID, score, reason, true); err != nil {
		return err
	}
	if _, err := s.MarkPageViewsBot(sessionID); err != nil {
		return err
	}
	return nil
}

// ResetScore zeroes a session's score and clears the bot flag on the session
// and its page views. Used by the demote command.
func (s *Store) ResetScore(sessionID string) error {
	result, err := s.db.Exec(`
		UPDATE sessions SET bot_score = 0, bot_reason = '', is_bot = 0
		WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return fmt.Errorf("reset score: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("reset score %s: %w", sessionID, ErrSessionNotFound)
	}

	if _, err := s.db.Exec(`UPDATE page_views SET is_bot = 0 WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear page view flags: %w", err)
	}

	return nil
}

// CountPageViews returns the number of page views recorded for a session.
func (s *Store) CountPageViews(sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM page_views WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count page views: %w", err)
	}
	return n, nil
}

// CountElementViews returns the number of element views recorded for a session.
func (s *Store) CountElementViews(sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM element_views WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count element views: %w", err)
	}
	return n, nil
}

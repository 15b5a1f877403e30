package store

import (
	"fmt"
)

// CommitScore writes the computed score, reason and flag for one session.
func (s *Store) CommitScore(sessionID string, score int, reason string, isBot bool) error {
	result, err := s.db.Exec(`
		UPDATE sessions SET bot_score = ?, bot_reason = ?, is_bot = ?
		WHERE session_id = ?`,
		score, reason, isBot, sessionID,
	)
	if err != nil {
		return fmt.Errorf("commit score: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("commit score %s: %w", sessionID, ErrSessionNotFound)
	}

	return nil
}

// MarkPageViewsBot propagates the bot flag to every page view of a session.
func (s *Store) MarkPageViewsBot(sessionID string) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE page_views SET is_bot = 1 WHERE session_id = ?`, sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark page views bot: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// BotSessionIDs returns sessions flagged is_bot, after the given id.
func (s *Store) BotSessionIDs(afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT session_id
		FROM sessions
		WHERE is_bot = 1 AND session_id > ?
		ORDER BY session_id
		LIMIT ?`, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query bot sessions: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// PruneSessions removes a batch of sessions and everything referencing them.
// Children go first (element views, then page views, then the session rows)
// and the whole batch is one transaction, so a failure partway cannot leave
// orphaned child rows behind.
func (s *Store) PruneSessions(ids []string) (PruneResult, error) {
	var res PruneResult
	if len(ids) == 0 {
		return res, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders, args := inPlaceholders(ids)

	result, err := tx.Exec(`DELETE FROM element_views WHERE session_id IN `+placeholders, args...)
	if err != nil {
		return res, fmt.Errorf("delete element views: %w", err)
	}
	res.ElementViews, _ = result.RowsAffected()

	result, err = tx.Exec(`DELETE FROM page_views WHERE session_id IN `+placeholders, args...)
	if err != nil {
		return res, fmt.Errorf("delete page views: %w", err)
	}
	res.PageViews, _ = result.RowsAffected()

	result, err = tx.Exec(`DELETE FROM sessions WHERE session_id IN `+placeholders, args...)
	if err != nil {
		return res, fmt.Errorf("delete sessions: %w", err)
	}
	res.Sessions, _ = result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return PruneResult{}, fmt.Errorf("commit transaction: %w", err)
	}

	return res, nil
}

package engine

import (
	"fmt"

	"botsweep/internal/classify"
	"botsweep/internal/store"
)

// Operator surface: manual overrides and reporting over the same score and
// tier data the engine maintains. No detectors run here.

// ManualPromoteReason is the tag recorded when an operator forces a session
// to the bot tier.
const ManualPromoteReason = "manual_promote"

// Review returns MEDIUM-tier sessions ordered by score for inspection.
func (e *Engine) Review(limit int) ([]store.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.SessionsInScoreRange(classify.MediumThreshold, classify.HighThreshold, limit)
}

// Promote force-sets the session matching the prefix to the HIGH threshold
// score and flags it and its page views. Returns the updated session.
func (e *Engine) Promote(prefix string) (*store.Session, error) {
	sess, err := e.store.FindSessionByPrefix(prefix)
	if err != nil {
		return nil, err
	}

	if err := e.store.ForceBot(sess.SessionID, classify.HighThreshold, ManualPromoteReason); err != nil {
		return nil, fmt.Errorf("promote %s: %w", sess.SessionID, err)
	}

	e.log.Info("session promoted", "session_id", sess.SessionID)
	return e.store.GetSession(sess.SessionID)
}

// Demote resets the session matching the prefix to score 0 and clears the
// bot flag on it and its page views.
func (e *Engine) Demote(prefix string) (*store.Session, error) {
	sess, err := e.store.FindSessionByPrefix(prefix)
	if err != nil {
		return nil, err
	}

	if err := e.store.ResetScore(sess.SessionID); err != nil {
		return nil, fmt.Errorf("demote %s: %w", sess.SessionID, err)
	}

	e.log.Info("session demoted", "session_id", sess.SessionID)
	return e.store.GetSession(sess.SessionID)
}

// Stats is the population report behind the stats command.
type Stats struct {
	Tiers   store.TierCounts
	Reasons map[string]int
}

// Stats reports per-tier population counts and the reason-tag breakdown.
func (e *Engine) Stats() (*Stats, error) {
	tiers, err := e.store.TierCountsByThreshold(classify.MediumThreshold, classify.HighThreshold)
	if err != nil {
		return nil, err
	}

	reasons, err := e.store.ReasonBreakdown()
	if err != nil {
		return nil, err
	}

	return &Stats{Tiers: tiers, Reasons: reasons}, nil
}

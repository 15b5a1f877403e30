package store

import (
	"database/sql"
	"errors"
)

// Operator errors surfaced to the CLI.
var (
	// ErrSessionNotFound is returned when no session matches a lookup.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAmbiguousPrefix is returned when a session-id prefix matches
	// more than one session.
	ErrAmbiguousPrefix = errors.New("ambiguous session prefix")
)

// Session is one visitor's browsing unit, the unit of classification.
// Rows are created by the tracking side; the engine only updates the
// bot_score/bot_reason/is_bot columns and eventually deletes the row.
type Session struct {
	SessionID string
	IPAddress string
	UserAgent string
	CreatedAt int64 // unix seconds
	IsBot     bool
	BotScore  sql.NullInt64
	BotReason sql.NullString
}

// PageView is a single page request belonging to a session.
type PageView struct {
	ID        int64
	SessionID string
	URL       string
	CreatedAt int64
	IsBot     bool
}

// ElementView is a finer-grained interaction (list/detail/click/download)
// belonging to a session.
type ElementView struct {
	ID          int64
	SessionID   string
	ElementUUID string
	ElementType string
	CreatedAt   int64
}

// SessionVolume is an aggregated per-session request count.
type SessionVolume struct {
	SessionID string
	Requests  int
}

// SessionDiversity is an aggregated per-session request/distinct-URL count.
type SessionDiversity struct {
	SessionID    string
	Requests     int
	DistinctURLs int
}

// TierCounts is the population breakdown reported by the stats command.
// Unscored counts sessions with a NULL or zero score.
type TierCounts struct {
	Total    int
	High     int
	Medium   int
	Low      int
	Unscored int
}

// PruneResult reports how many rows one prune batch removed.
type PruneResult struct {
	Sessions     int64
	PageViews    int64
	ElementViews int64
}

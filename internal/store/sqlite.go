package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the analytics store. The tracking side owns row creation;
// the engine owns the bot columns and deletion.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT PRIMARY KEY,
    ip_address  TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    is_bot      INTEGER NOT NULL DEFAULT 0,
    bot_score   INTEGER,
    bot_reason  TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
CREATE INDEX IF NOT EXISTS idx_sessions_ip ON sessions(ip_address);
CREATE INDEX IF NOT EXISTS idx_sessions_score ON sessions(bot_score);

CREATE TABLE IF NOT EXISTS page_views (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL REFERENCES sessions(session_id),
    url         TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    is_bot      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_page_views_session ON page_views(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_page_views_created ON page_views(created_at);

CREATE TABLE IF NOT EXISTS element_views (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL REFERENCES sessions(session_id),
    element_uuid  TEXT NOT NULL,
    element_type  TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_element_views_session ON element_views(session_id);
`

// Store is the SQLite analytics store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies the schema.
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertSession inserts a new session row.
func (s *Store) InsertSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, ip_address, user_agent, created_at, is_bot, bot_score, bot_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.IPAddress, sess.UserAgent, sess.CreatedAt, sess.IsBot, sess.BotScore, sess.BotReason,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// InsertPageView inserts a page view and returns its ID.
func (s *Store) InsertPageView(pv *PageView) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO page_views (session_id, url, created_at, is_bot)
		VALUES (?, ?, ?, ?)`,
		pv.SessionID, pv.URL, pv.CreatedAt, pv.IsBot,
	)
	if err != nil {
		return 0, fmt.Errorf("insert page view: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// InsertElementView inserts an element view and returns its ID.
func (s *Store) InsertElementView(ev *ElementView) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO element_views (session_id, element_uuid, element_type, created_at)
		VALUES (?, ?, ?, ?)`,
		ev.SessionID, ev.ElementUUID, ev.ElementType, ev.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert element view: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// GetSession retrieves a session by exact ID. Returns (nil, nil) when absent.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session

	err := s.db.QueryRow(`
		SELECT session_id, ip_address, user_agent, created_at, is_bot, bot_score, bot_reason
		FROM sessions WHERE session_id = ?`, id,
	).Scan(&sess.SessionID, &sess.IPAddress, &sess.UserAgent, &sess.CreatedAt, &sess.IsBot, &sess.BotScore, &sess.BotReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &sess, nil
}

// scanSessions is a helper to scan session rows into a slice.
func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session

	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.IPAddress, &sess.UserAgent, &sess.CreatedAt, &sess.IsBot, &sess.BotScore, &sess.BotReason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// scanIDs is a helper to scan a single id column into a slice.
func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session ids: %w", err)
	}

	return ids, nil
}

// Package history records VPN connection sessions in a local SQLite
// database so users can review past connections.
package history

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yllada/ovpnctl/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	config_name  TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	connected_at INTEGER,
	ended_at     INTEGER,
	remote_addr  TEXT NOT NULL DEFAULT '',
	local_addr   TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);
`

// Session outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeLost      = "lost"
)

// Session is one recorded connection attempt.
type Session struct {
	ID          string
	ConfigName  string
	StartedAt   time.Time
	ConnectedAt time.Time // zero if the tunnel never came up
	EndedAt     time.Time // zero while the session is open
	RemoteAddr  string
	LocalAddr   string
	Outcome     string
}

// Connected reports whether the tunnel came up during the session.
func (s *Session) Connected() bool {
	return !s.ConnectedAt.IsZero()
}

// Duration returns how long the tunnel was up, or zero if it never
// connected or has not ended.
func (s *Session) Duration() time.Duration {
	if s.ConnectedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.ConnectedAt)
}

// Recorder persists sessions to the history database.
type Recorder struct {
	db *sql.DB
}

// Open opens the history database in the default data directory.
func Open() (*Recorder, error) {
	dataDir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	return OpenAt(filepath.Join(dataDir, common.HistoryFileName))
}

// OpenAt opens or creates the history database at the given path.
func OpenAt(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.WrapError(err, "failed to open history database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(err, "failed to initialize history schema")
	}
	return &Recorder{db: db}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Begin records the start of a connection attempt and returns its session ID.
func (r *Recorder) Begin(configName string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(
		"INSERT INTO sessions (id, config_name, started_at) VALUES (?, ?, ?)",
		id, configName, time.Now().Unix(),
	)
	if err != nil {
		return "", common.WrapError(err, "failed to record session start")
	}
	return id, nil
}

// MarkConnected records that the tunnel came up, with the peer addresses.
func (r *Recorder) MarkConnected(sessionID, remoteAddr, localAddr string) error {
	_, err := r.db.Exec(
		"UPDATE sessions SET connected_at = ?, remote_addr = ?, local_addr = ? WHERE id = ?",
		time.Now().Unix(), remoteAddr, localAddr, sessionID,
	)
	if err != nil {
		return common.WrapError(err, "failed to record connection")
	}
	return nil
}

// End closes a session with the given outcome.
func (r *Recorder) End(sessionID, outcome string) error {
	_, err := r.db.Exec(
		"UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ?",
		time.Now().Unix(), outcome, sessionID,
	)
	if err != nil {
		return common.WrapError(err, "failed to record session end")
	}
	return nil
}

// Recent returns the most recent sessions, newest first.
func (r *Recorder) Recent(limit int) ([]Session, error) {
	rows, err := r.db.Query(
		`SELECT id, config_name, started_at, connected_at, ended_at, remote_addr, local_addr, outcome
		 FROM sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, common.WrapError(err, "failed to query history")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started int64
		var connected, ended sql.NullInt64
		if err := rows.Scan(&s.ID, &s.ConfigName, &started, &connected, &ended,
			&s.RemoteAddr, &s.LocalAddr, &s.Outcome); err != nil {
			return nil, common.WrapError(err, "failed to scan history row")
		}
		s.StartedAt = time.Unix(started, 0)
		if connected.Valid {
			s.ConnectedAt = time.Unix(connected.Int64, 0)
		}
		if ended.Valid {
			s.EndedAt = time.Unix(ended.Int64, 0)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

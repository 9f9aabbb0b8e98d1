package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-live/internal/config"
	"github.com/loqalabs/loqa-live/internal/pipeline"
	"github.com/loqalabs/loqa-live/internal/protocol"
	_ "modernc.org/sqlite"
)

// Session is one recorded translation session.
type Session struct {
	ID             string
	Device         string
	SourceLanguage string
	TargetLanguage string
	StartedAt      time.Time
	EndedAt        time.Time
	EndState       string
	Reason         string
}

// Utterance is one final transcript with its translation.
type Utterance struct {
	ID         int64
	SessionID  string
	Sequence   uint64
	Original   string
	Translated string
	CreatedAt  time.Time
}

// Store journals sessions and their final utterances in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. The ephemeral mode
// keeps nothing and every method becomes a no-op.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    device TEXT,
    source_language TEXT,
    target_language TEXT,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    end_state TEXT,
    reason TEXT
);
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    original TEXT NOT NULL,
    translated TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, sequence);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ObserveStatus records session starts and ends.
func (s *Store) ObserveStatus(ctx context.Context, st protocol.SessionStatus) error {
	if !s.enabled() {
		return nil
	}
	at := st.Timestamp
	if at.IsZero() {
		at = s.clock()
	}
	if st.State == protocol.SessionStarted {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions(session_id, device, source_language, target_language, started_at)
			 VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET device=excluded.device,
			   source_language=excluded.source_language, target_language=excluded.target_language`,
			st.SessionID, st.Device, st.SourceLanguage, st.TargetLanguage, at.UnixMilli())
		if err != nil {
			return fmt.Errorf("record session start: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_state = ?, reason = ? WHERE session_id = ?`,
		at.UnixMilli(), string(st.State), st.Reason, st.SessionID)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// Observe journals final results; interim results are not kept.
func (s *Store) Observe(ctx context.Context, r pipeline.Result) error {
	if !s.enabled() || !r.IsFinal {
		return nil
	}
	at := r.At
	if at.IsZero() {
		at = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(session_id, sequence, original, translated, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		r.SessionID, int64(r.Sequence), r.Original, r.Translated, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record utterance: %w", err)
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, device, source_language, target_language, started_at,
		        COALESCE(ended_at, 0), COALESCE(end_state, ''), COALESCE(reason, '')
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started, ended int64
		if err := rows.Scan(&sess.ID, &sess.Device, &sess.SourceLanguage, &sess.TargetLanguage,
			&started, &ended, &sess.EndState, &sess.Reason); err != nil {
			return nil, err
		}
		sess.StartedAt = time.UnixMilli(started).UTC()
		if ended > 0 {
			sess.EndedAt = time.UnixMilli(ended).UTC()
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListUtterances retrieves up to limit finals for a session in order.
func (s *Store) ListUtterances(ctx context.Context, sessionID string, limit int) ([]Utterance, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sequence, original, translated, created_at
		 FROM utterances WHERE session_id = ? ORDER BY sequence ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		var seq, created int64
		if err := rows.Scan(&u.ID, &u.SessionID, &seq, &u.Original, &u.Translated, &created); err != nil {
			return nil, err
		}
		u.Sequence = uint64(seq)
		u.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

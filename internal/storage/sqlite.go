package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mpataki/exo/internal/models"
	_ "modernc.org/sqlite"
)

// Record is one finished action as stored in the journal.
type Record struct {
	ID          int64
	SessionID   string
	Seq         int64
	Command     string
	Status      models.ActionStatus
	ExitCode    *int
	Output      []string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		output TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		UNIQUE(session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id);
	CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveAction stores a finished action. Saving the same session and
// sequence number twice replaces the earlier row.
func (s *Storage) SaveAction(sessionID string, action models.Action) (int64, error) {
	output := action.Output
	if output == nil {
		output = []string{}
	}
	data, err := json.Marshal(output)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT OR REPLACE INTO actions (session_id, seq, command, status, exit_code, output, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, action.ID, action.Command, action.Status,
		action.ExitCode, string(data), action.CreatedAt, action.CompletedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListActions returns the most recent records across all sessions.
func (s *Storage) ListActions(limit int) ([]*Record, error) {
	return s.query(
		`SELECT id, session_id, seq, command, status, exit_code, output, created_at, completed_at
		 FROM actions ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
}

// ListSession returns the records of one session in log order.
func (s *Storage) ListSession(sessionID string) ([]*Record, error) {
	return s.query(
		`SELECT id, session_id, seq, command, status, exit_code, output, created_at, completed_at
		 FROM actions WHERE session_id = ? ORDER BY seq`, sessionID,
	)
}

func (s *Storage) query(q string, args ...any) ([]*Record, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var exitCode sql.NullInt64
		var completedAt sql.NullTime
		var output string

		err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.Seq, &rec.Command, &rec.Status,
			&exitCode, &output, &rec.CreatedAt, &completedAt,
		)
		if err != nil {
			return nil, err
		}

		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		if err := json.Unmarshal([]byte(output), &rec.Output); err != nil {
			return nil, err
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}

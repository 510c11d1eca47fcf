package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a SQLite database so parked runs survive a
// restart.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open approval db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate approval db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS approvals (
		token TEXT PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		checkpoint TEXT NOT NULL,
		decision TEXT NOT NULL DEFAULT 'UNSET',
		comment TEXT,
		decided_by TEXT,
		created_at TIMESTAMP NOT NULL,
		decided_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_decision ON approvals(decision);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Park(ctx context.Context, cp Checkpoint) (string, error) {
	blob, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE run_id = ?`, cp.RunID).Scan(&exists)
	if err != nil {
		return "", err
	}
	if exists > 0 {
		return "", ErrAlreadyParked
	}

	token := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (token, run_id, checkpoint, decision, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		token, cp.RunID, string(blob), string(Unset), s.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert approval: %w", err)
	}
	return token, nil
}

func (s *SQLiteStore) RecordDecision(ctx context.Context, token string, in DecisionInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// The decision column guard makes the first writer win.
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET decision = ?, comment = ?, decided_by = ?, decided_at = ?
		 WHERE token = ? AND decision = ?`,
		string(in.Decision), in.Comment, in.DecidedBy, s.now().UTC(), token, string(Unset),
	)
	if err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyDecided
	}
	return s.Get(ctx, token)
}

func (s *SQLiteStore) Resume(ctx context.Context, token string) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE token = ?`, token))
	if err != nil {
		return nil, err
	}
	if rec.Decision == Unset {
		return nil, ErrDecisionPending
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM approvals WHERE token = ?`, token)
	if err != nil {
		return nil, fmt.Errorf("consume approval: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consume approval: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (*Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE token = ?`, token))
}

func (s *SQLiteStore) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approvals WHERE decision = ?`, string(Unset)).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectRecord = `SELECT token, run_id, checkpoint, decision, comment, decided_by, created_at, decided_at FROM approvals`

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec       Record
		blob      string
		decision  string
		comment   sql.NullString
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(&rec.Token, &rec.RunID, &blob, &decision, &comment, &decidedBy, &rec.CreatedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(blob), &rec.Checkpoint); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	rec.Decision = Decision(decision)
	rec.Comment = comment.String
	rec.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		rec.DecidedAt = &t
	}
	return &rec, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: mkdir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS evaluation_runs (
	id          TEXT PRIMARY KEY,
	ledger_path TEXT NOT NULL,
	risk_score  REAL NOT NULL,
	status      TEXT NOT NULL,
	summary     TEXT NOT NULL,
	decision    TEXT,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_evaluation_runs_status ON evaluation_runs(status);
CREATE INDEX IF NOT EXISTS idx_evaluation_runs_ledger ON evaluation_runs(ledger_path);
CREATE INDEX IF NOT EXISTS idx_evaluation_runs_created_at ON evaluation_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.EvaluationRun) error {
	prepareRun(run)
	summary, decision, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode run")
	}

	var decisionText sql.NullString
	if decision != nil {
		decisionText = sql.NullString{String: string(decision), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluation_runs (id, ledger_path, risk_score, status, summary, decision, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.LedgerPath, run.RiskScore, string(run.Status), string(summary), decisionText, run.Error, run.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.EvaluationRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ledger_path, risk_score, status, summary, decision, error, created_at
		 FROM evaluation_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.EvaluationRun, error) {
	query := `SELECT id, ledger_path, risk_score, status, summary, decision, error, created_at
		FROM evaluation_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.LedgerPath != "" {
		query += ` AND ledger_path = ?`
		args = append(args, filter.LedgerPath)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.EvaluationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) PruneRuns(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM evaluation_runs WHERE created_at < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.EvaluationRun, error) {
	var r model.EvaluationRun
	var summaryJSON string
	var decisionJSON sql.NullString

	err := row.Scan(&r.ID, &r.LedgerPath, &r.RiskScore, &r.Status, &summaryJSON, &decisionJSON, &r.Error, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	var decision []byte
	if decisionJSON.Valid {
		decision = []byte(decisionJSON.String)
	}
	if err := decodeRun(&r, []byte(summaryJSON), decision); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode run")
	}
	return &r, nil
}

// prepareRun fills the identity fields of a new run.
func prepareRun(run *model.EvaluationRun) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusComplete
	}
}

func encodeRun(run *model.EvaluationRun) (summary, decision []byte, err error) {
	summary, err = json.Marshal(run.Summary)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal summary")
	}
	if run.Decision != nil {
		decision, err = json.Marshal(run.Decision)
		if err != nil {
			return nil, nil, eris.Wrap(err, "marshal decision")
		}
	}
	return summary, decision, nil
}

func decodeRun(r *model.EvaluationRun, summary, decision []byte) error {
	if err := json.Unmarshal(summary, &r.Summary); err != nil {
		return eris.Wrap(err, "unmarshal summary")
	}
	if decision != nil {
		r.Decision = &model.EscalationDecision{}
		if err := json.Unmarshal(decision, r.Decision); err != nil {
			return eris.Wrap(err, "unmarshal decision")
		}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

// Package store persists evaluation runs so past decisions can be listed and
// inspected later.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/config"
	"github.com/sells-group/pik-sentinel/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     model.RunStatus `json:"status,omitempty"`
	LedgerPath string          `json:"ledger_path,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for evaluation runs.
type Store interface {
	// SaveRun inserts run, assigning ID and CreatedAt when empty.
	SaveRun(ctx context.Context, run *model.EvaluationRun) error
	GetRun(ctx context.Context, runID string) (*model.EvaluationRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.EvaluationRun, error)
	// PruneRuns deletes runs created before cutoff and reports how many.
	PruneRuns(ctx context.Context, cutoff time.Time) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// Open connects to the configured backend and runs its migration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

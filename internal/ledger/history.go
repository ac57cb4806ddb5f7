package ledger

import (
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// HistoryStore indexes payment-type history by loan, each loan's records
// kept in ascending timestamp order. Safe for concurrent use.
type HistoryStore struct {
	mu     sync.RWMutex
	byLoan map[string][]model.HistoricalRecord
}

// NewHistoryStore builds a store holding records.
func NewHistoryStore(records ...model.HistoricalRecord) *HistoryStore {
	h := &HistoryStore{}
	h.Replace(records)
	return h
}

// Replace discards the current index and rebuilds it from records.
func (h *HistoryStore) Replace(records []model.HistoricalRecord) {
	idx := make(map[string][]model.HistoricalRecord)
	for _, r := range records {
		idx[r.LoanID] = append(idx[r.LoanID], r)
	}
	for id := range idx {
		sortHistory(idx[id])
	}
	h.mu.Lock()
	h.byLoan = idx
	h.mu.Unlock()
}

// ForLoan returns a copy of the loan's history, oldest first.
func (h *HistoryStore) ForLoan(loanID string) []model.HistoricalRecord {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.byLoan[loanID])
}

// Len returns the number of loans with history.
func (h *HistoryStore) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byLoan)
}

func sortHistory(recs []model.HistoricalRecord) {
	slices.SortStableFunc(recs, func(a, b model.HistoricalRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// LoadHistory reads a history file (CSV, or JSON as an array or an object
// with a "history" array) into a new store. Invalid records are returned
// alongside and skipped.
func LoadHistory(ctx context.Context, path, format string) (*HistoryStore, []model.ValidationError, error) {
	f, err := ResolveFormat(path, format)
	if err != nil {
		return nil, nil, err
	}
	rows, err := readRecords(ctx, path, f, "history")
	if err != nil {
		return nil, nil, eris.Wrap(err, "history: load")
	}

	var (
		records []model.HistoricalRecord
		invalid []model.ValidationError
	)
	for _, row := range rows {
		rec, err := row.rec.history()
		if err != nil {
			invalid = append(invalid, row.validationError(err))
			continue
		}
		records = append(records, rec)
	}

	zap.L().Info("history: loaded",
		zap.String("path", path),
		zap.Int("records", len(records)),
		zap.Int("invalid", len(invalid)),
	)
	return NewHistoryStore(records...), invalid, nil
}

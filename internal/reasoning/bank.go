// Package reasoning is the append-only log of human policy overrides. The
// whole log is rewritten as one snapshot on every append.
package reasoning

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/snapshot"
)

// file is the persisted form of the bank.
type file struct {
	Version     string                     `json:"version"`
	LastUpdated string                     `json:"last_updated"`
	Entries     []model.ReasoningBankEntry `json:"entries"`
}

// Bank holds the in-memory log and the path of its snapshot. Readers see the
// last persisted state; writers are serialized by wmu.
type Bank struct {
	path string
	now  func() time.Time

	wmu     sync.Mutex
	mu      sync.RWMutex
	entries []model.ReasoningBankEntry
}

// Option configures a Bank.
type Option func(*Bank)

// WithClock overrides the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

// Open loads the bank at path, creating an empty snapshot when none exists.
// A corrupt snapshot is an error, never an empty bank.
func Open(path string, opts ...Option) (*Bank, error) {
	b := &Bank{path: path, now: time.Now}
	for _, o := range opts {
		o(b)
	}

	var f file
	err := snapshot.Read(path, &f)
	switch {
	case eris.Is(err, model.ErrNotFound):
		if err := b.persist(nil); err != nil {
			return nil, err
		}
		zap.L().Info("reasoning: created bank", zap.String("path", path))
		return b, nil
	case err != nil:
		return nil, eris.Wrap(err, "reasoning: load bank")
	}

	for i, e := range f.Entries {
		if err := e.Validate(); err != nil {
			return nil, eris.Wrapf(model.ErrPersistence, "reasoning: entry %d in %s: %v", i, path, err)
		}
	}
	b.entries = f.Entries
	zap.L().Debug("reasoning: loaded bank", zap.String("path", path), zap.Int("entries", len(b.entries)))
	return b, nil
}

// NewEntryID returns a fresh identifier for an entry.
func NewEntryID() string {
	return "RB-" + uuid.NewString()
}

// Append validates e, persists the extended log and only then exposes e to
// readers. When the write fails the in-memory log is unchanged.
func (b *Bank) Append(e model.ReasoningBankEntry) error {
	if e.EntryID == "" {
		e.EntryID = NewEntryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}
	if err := e.Validate(); err != nil {
		return eris.Wrap(err, "reasoning: append")
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()

	b.mu.RLock()
	next := make([]model.ReasoningBankEntry, len(b.entries), len(b.entries)+1)
	copy(next, b.entries)
	b.mu.RUnlock()
	next = append(next, e)

	if err := b.persist(next); err != nil {
		return err
	}

	b.mu.Lock()
	b.entries = next
	b.mu.Unlock()

	zap.L().Info("reasoning: appended entry",
		zap.String("entry_id", e.EntryID),
		zap.String("override_type", string(e.OverrideType)),
	)
	return nil
}

func (b *Bank) persist(entries []model.ReasoningBankEntry) error {
	if entries == nil {
		entries = []model.ReasoningBankEntry{}
	}
	err := snapshot.Write(b.path, file{
		Version:     snapshot.Version,
		LastUpdated: snapshot.Stamp(b.now()),
		Entries:     entries,
	})
	return eris.Wrap(err, "reasoning: persist bank")
}

// All returns a copy of every entry in append order.
func (b *Bank) All() []model.ReasoningBankEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.entries)
}

// Len reports the number of entries.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// QueryByType returns entries of exactly type t, in append order.
func (b *Bank) QueryByType(t model.OverrideType) []model.ReasoningBankEntry {
	return b.filter(func(e model.ReasoningBankEntry) bool { return e.OverrideType == t })
}

// QueryByContext returns entries whose loan context maps key to value.
func (b *Bank) QueryByContext(key, value string) []model.ReasoningBankEntry {
	return b.filter(func(e model.ReasoningBankEntry) bool {
		v, ok := e.LoanContext[key]
		return ok && v == value
	})
}

func (b *Bank) filter(keep func(model.ReasoningBankEntry) bool) []model.ReasoningBankEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []model.ReasoningBankEntry
	for _, e := range b.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns up to n entries, newest first. Entries sharing a timestamp
// keep their append order.
func (b *Bank) Recent(n int) []model.ReasoningBankEntry {
	if n <= 0 {
		return nil
	}
	out := b.All()
	slices.SortStableFunc(out, func(x, y model.ReasoningBankEntry) int {
		return y.Timestamp.Compare(x.Timestamp)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Latest returns the most recently appended entry of type t.
func (b *Bank) Latest(t model.OverrideType) (model.ReasoningBankEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].OverrideType == t {
			return b.entries[i], true
		}
	}
	return model.ReasoningBankEntry{}, false
}

// DetectPatterns groups entries by override type and reports every group
// with at least minOccurrences numeric members. Members whose old or new
// value is not a number are left out of the group entirely. Patterns are
// returned in order of each type's first appearance.
func (b *Bank) DetectPatterns(minOccurrences int) []model.Pattern {
	if minOccurrences < 1 {
		minOccurrences = 1
	}

	b.mu.RLock()
	var order []model.OverrideType
	groups := make(map[model.OverrideType][]model.ReasoningBankEntry)
	deltas := make(map[model.OverrideType]float64)
	for _, e := range b.entries {
		d, ok := model.NumericDelta(e.OldValue, e.NewValue)
		if !ok {
			continue
		}
		if _, seen := groups[e.OverrideType]; !seen {
			order = append(order, e.OverrideType)
		}
		groups[e.OverrideType] = append(groups[e.OverrideType], e)
		deltas[e.OverrideType] += d
	}
	b.mu.RUnlock()

	var patterns []model.Pattern
	for _, t := range order {
		members := groups[t]
		if len(members) < minOccurrences {
			continue
		}
		patterns = append(patterns, model.Pattern{
			OverrideType: t,
			Occurrences:  len(members),
			MeanDelta:    deltas[t] / float64(len(members)),
			Entries:      members,
		})
	}
	zap.L().Debug("reasoning: detected patterns", zap.Int("patterns", len(patterns)))
	return patterns
}

// DetectRuleConflicts is a coarse token-overlap heuristic, not a semantic
// check. An existing rule conflicts with candidate when one says "increase"
// and the other "decrease" and the two share more than three lowercase
// whitespace-separated tokens.
func (b *Bank) DetectRuleConflicts(candidate string) []model.ReasoningBankEntry {
	cand := strings.ToLower(candidate)
	candTokens := tokens(cand)

	conflicts := b.filter(func(e model.ReasoningBankEntry) bool {
		if e.ExtractedRule == "" {
			return false
		}
		existing := strings.ToLower(e.ExtractedRule)
		opposed := (strings.Contains(cand, "increase") && strings.Contains(existing, "decrease")) ||
			(strings.Contains(cand, "decrease") && strings.Contains(existing, "increase"))
		if !opposed {
			return false
		}
		common := 0
		for tok := range tokens(existing) {
			if _, ok := candTokens[tok]; ok {
				common++
			}
		}
		return common > 3
	})
	if len(conflicts) > 0 {
		zap.L().Warn("reasoning: potential rule conflicts", zap.Int("conflicts", len(conflicts)))
	}
	return conflicts
}

func tokens(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

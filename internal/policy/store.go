// Package policy holds the live decision thresholds and the gated workflow
// that changes them.
package policy

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pik-sentinel/internal/model"
	"github.com/sells-group/pik-sentinel/internal/snapshot"
)

type file struct {
	Version     string                 `json:"version"`
	LastUpdated string                 `json:"last_updated"`
	Config      model.PolicyConfig     `json:"config"`
	History     []model.PolicyOverride `json:"history"`
}

// Store is the persisted PolicyConfig plus its override history. Reads see
// the last persisted snapshot; writes are serialized.
type Store struct {
	path     string
	seedPath string
	now      func() time.Time

	wmu     sync.Mutex
	mu      sync.RWMutex
	cfg     model.PolicyConfig
	history []model.PolicyOverride
}

// Option configures a Store.
type Option func(*Store)

// WithSeed names a YAML policy used when no snapshot exists yet.
func WithSeed(path string) Option {
	return func(s *Store) { s.seedPath = path }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the policy snapshot at path. When none exists the seed (or the
// built-in defaults) is persisted as the first snapshot.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the persisted snapshot, discarding in-memory state.
func (s *Store) Reload() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var f file
	err := snapshot.Read(s.path, &f)
	if eris.Is(err, model.ErrNotFound) {
		cfg, err := s.initial()
		if err != nil {
			return err
		}
		if err := s.persist(cfg, nil); err != nil {
			return err
		}
		s.commit(cfg, nil)
		zap.L().Info("policy: created policy", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "policy: load")
	}

	hedges, dropped := model.NormalizeSectors(f.Config.HedgePercentages)
	if len(dropped) > 0 {
		zap.L().Warn("policy: dropped duplicate hedge sectors",
			zap.String("path", s.path),
			zap.Strings("keys", dropped),
		)
	}
	f.Config.HedgePercentages = hedges
	if f.Config.CustomRules == nil {
		f.Config.CustomRules = []string{}
	}
	s.commit(f.Config, f.History)
	zap.L().Debug("policy: loaded policy", zap.String("path", s.path), zap.Int("history", len(f.History)))
	return nil
}

func (s *Store) initial() (model.PolicyConfig, error) {
	if s.seedPath == "" {
		return model.DefaultPolicyConfig(), nil
	}
	cfg, err := LoadSeed(s.seedPath)
	if eris.Is(err, model.ErrNotFound) {
		return model.DefaultPolicyConfig(), nil
	}
	return cfg, err
}

func (s *Store) persist(cfg model.PolicyConfig, history []model.PolicyOverride) error {
	if history == nil {
		history = []model.PolicyOverride{}
	}
	err := snapshot.Write(s.path, file{
		Version:     snapshot.Version,
		LastUpdated: snapshot.Stamp(s.now()),
		Config:      cfg,
		History:     history,
	})
	return eris.Wrap(err, "policy: persist")
}

func (s *Store) commit(cfg model.PolicyConfig, history []model.PolicyOverride) {
	s.mu.Lock()
	s.cfg = cfg
	s.history = history
	s.mu.Unlock()
}

// Current returns a deep copy of the live policy.
func (s *Store) Current() model.PolicyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// History returns the applied overrides, oldest first.
func (s *Store) History() []model.PolicyOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Get reads one field of the live policy.
func (s *Store) Get(field string) (model.Value, error) {
	return Get(s.Current(), field)
}

// ApplyOverride sets a field immediately and records it in history. It is a
// privileged bypass of the diff workflow: no evidence is gathered, no
// reasoning-bank entry is written and no approval is required. Reserve it
// for emergency manual changes.
func (s *Store) ApplyOverride(o model.PolicyOverride) (model.PolicyOverride, error) {
	if o.AppliedBy == "" {
		return o, eris.Wrap(model.ErrValidation, "policy: override requires applied_by")
	}
	applied, err := s.apply(o)
	if err != nil {
		return o, err
	}
	zap.L().Warn("policy: applied override outside diff workflow",
		zap.String("override_id", applied.OverrideID),
		zap.String("field", applied.Field),
		zap.String("applied_by", applied.AppliedBy),
	)
	return applied, nil
}

// apply validates and persists one change. The in-memory policy changes only
// after the snapshot is written.
func (s *Store) apply(o model.PolicyOverride) (model.PolicyOverride, error) {
	acc, err := resolve(o.Field)
	if err != nil {
		return o, err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	cur := s.cfg.Clone()
	history := slices.Clone(s.history)
	s.mu.RUnlock()

	next := cur.Clone()
	if err := acc.set(&next, o.NewValue); err != nil {
		return o, err
	}

	o.Field = acc.name
	if o.OverrideID == "" {
		o.OverrideID = "PO-" + uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = s.now().UTC()
	}
	if o.OldValue.IsZero() {
		o.OldValue = acc.get(cur)
	}
	history = append(history, o)

	if err := s.persist(next, history); err != nil {
		return o, err
	}
	s.commit(next, history)
	zap.L().Info("policy: updated field",
		zap.String("field", o.Field),
		zap.Stringer("new_value", o.NewValue),
	)
	return o, nil
}

// LoadSeed reads a YAML policy. Omitted keys keep their defaults; a given
// hedge_percentages map replaces the default map rather than merging.
func LoadSeed(path string) (model.PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.PolicyConfig{}, eris.Wrapf(model.ErrNotFound, "policy: seed %s", path)
	}
	if err != nil {
		return model.PolicyConfig{}, eris.Wrapf(err, "policy: read seed %s", path)
	}

	cfg := model.DefaultPolicyConfig()
	cfg.HedgePercentages = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.PolicyConfig{}, eris.Wrapf(model.ErrValidation, "policy: parse seed %s: %v", path, err)
	}
	if cfg.HedgePercentages == nil {
		cfg.HedgePercentages = model.DefaultPolicyConfig().HedgePercentages
	}
	hedges, dropped := model.NormalizeSectors(cfg.HedgePercentages)
	if len(dropped) > 0 {
		return model.PolicyConfig{}, eris.Wrapf(model.ErrValidation,
			"policy: seed %s: hedge_percentages keys %q are blank or repeat a sector", path, dropped)
	}
	cfg.HedgePercentages = hedges
	if err := validateConfig(cfg); err != nil {
		return model.PolicyConfig{}, eris.Wrapf(err, "policy: seed %s", path)
	}
	if cfg.CustomRules == nil {
		cfg.CustomRules = []string{}
	}
	return cfg, nil
}

// WriteSeed writes cfg as YAML to path.
func WriteSeed(path string, cfg model.PolicyConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "policy: marshal seed")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(model.ErrPersistence, "policy: write seed %s: %v", path, err)
	}
	return nil
}

func validateConfig(cfg model.PolicyConfig) error {
	if _, err := Set(cfg, FieldRiskThreshold, model.Number(cfg.RiskThreshold)); err != nil {
		return err
	}
	if _, err := Set(cfg, FieldPIKExposureLimit, model.Number(cfg.PIKExposureLimit)); err != nil {
		return err
	}
	for sector, pct := range cfg.HedgePercentages {
		if _, err := Set(cfg, hedgePrefix+sector, model.Number(pct)); err != nil {
			return err
		}
	}
	return nil
}

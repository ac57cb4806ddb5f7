package flagging

import "github.com/sells-group/pik-sentinel/internal/model"

// SectorSet is a case-insensitive set of industry names.
type SectorSet struct {
	names map[string]struct{}
}

// NewSectorSet builds a set from sector names. Blank names are ignored.
func NewSectorSet(sectors []string) SectorSet {
	s := SectorSet{names: make(map[string]struct{}, len(sectors))}
	for _, name := range sectors {
		if k := model.SectorKey(name); k != "" {
			s.names[k] = struct{}{}
		}
	}
	return s
}

// Contains reports whether industry is in the set.
func (s SectorSet) Contains(industry string) bool {
	_, ok := s.names[model.SectorKey(industry)]
	return ok
}

// Len returns the number of distinct sectors.
func (s SectorSet) Len() int { return len(s.names) }

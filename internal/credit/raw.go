package credit

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Section keys accepted in raw statement documents.
var sectionKeys = map[string][]string{
	"income":   {"income_statement", "income"},
	"balance":  {"balance_sheet", "balance"},
	"cashflow": {"cash_flow", "cash_flow_statement", "cashflow"},
}

// FromRaw converts a decoded document into Statements. It fails only on a
// structural problem: a section that is not an object or a value that is
// not numeric. Absent sections are empty.
func FromRaw(raw map[string]any) (Statements, error) {
	var (
		out Statements
		err error
	)
	if out.Income, err = section(raw, sectionKeys["income"]); err != nil {
		return Statements{}, err
	}
	if out.Balance, err = section(raw, sectionKeys["balance"]); err != nil {
		return Statements{}, err
	}
	if out.CashFlow, err = section(raw, sectionKeys["cashflow"]); err != nil {
		return Statements{}, err
	}
	return out, nil
}

// ParseStatements decodes a YAML or JSON document (YAML is a superset) and
// converts it with FromRaw.
func ParseStatements(data []byte) (Statements, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Statements{}, eris.Wrap(model.ErrValidation, "credit: decode statements: "+err.Error())
	}
	return FromRaw(raw)
}

// ComputeRaw is Compute over an undecoded document. On a structural failure
// it returns an empty result and the error.
func (e *Engine) ComputeRaw(raw map[string]any) (Ratios, error) {
	s, err := FromRaw(raw)
	if err != nil {
		return Ratios{}, err
	}
	return e.Compute(s), nil
}

func section(raw map[string]any, keys []string) (Statement, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, eris.Wrapf(model.ErrValidation, "credit: %s must be an object", k)
		}
		st := make(Statement, len(m))
		for field, fv := range m {
			f, err := toFloat(fv)
			if err != nil {
				return nil, eris.Wrapf(model.ErrValidation, "credit: %s.%s: %s", k, field, err.Error())
			}
			st[field] = f
		}
		return st, nil
	}
	return Statement{}, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, eris.Errorf("%q is not numeric", t)
		}
		return f, nil
	case nil:
		return 0, nil
	}
	return 0, eris.Errorf("unexpected %T", v)
}

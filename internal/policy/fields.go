package policy

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Policy field names addressable by overrides and diffs. Hedge percentages
// are addressed per sector as "hedge_percentages.<sector>".
const (
	FieldRiskThreshold    = "risk_threshold"
	FieldPIKExposureLimit = "pik_exposure_limit"
	FieldAutoExecute      = "auto_execute_enabled"
	FieldCustomRules      = "custom_rules"
	hedgePrefix           = "hedge_percentages."
)

// Fields lists the fixed field names, for help text.
var Fields = []string{FieldRiskThreshold, FieldPIKExposureLimit, FieldAutoExecute, hedgePrefix + "<sector>", FieldCustomRules}

// accessor reads and writes one policy field as a Value.
type accessor struct {
	name         string
	overrideType model.OverrideType
	get          func(model.PolicyConfig) model.Value
	set          func(*model.PolicyConfig, model.Value) error
}

// resolve maps a field name onto its accessor. Unknown names wrap
// model.ErrUnknownPolicyField.
func resolve(field string) (accessor, error) {
	name := strings.TrimSpace(field)
	switch name {
	case FieldRiskThreshold:
		return accessor{
			name:         name,
			overrideType: model.OverrideRiskThreshold,
			get:          func(p model.PolicyConfig) model.Value { return model.Number(p.RiskThreshold) },
			set: func(p *model.PolicyConfig, v model.Value) error {
				f, err := percentage(name, v)
				if err != nil {
					return err
				}
				p.RiskThreshold = f
				return nil
			},
		}, nil
	case FieldPIKExposureLimit:
		return accessor{
			name:         name,
			overrideType: model.OverrideThreshold,
			get:          func(p model.PolicyConfig) model.Value { return model.Number(p.PIKExposureLimit) },
			set: func(p *model.PolicyConfig, v model.Value) error {
				f, ok := finite(v)
				if !ok || f < 0 {
					return invalid(name, v, "a finite non-negative number")
				}
				p.PIKExposureLimit = f
				return nil
			},
		}, nil
	case FieldAutoExecute:
		return accessor{
			name:         name,
			overrideType: model.OverrideCustomRule,
			get:          func(p model.PolicyConfig) model.Value { return model.Bool(p.AutoExecuteEnabled) },
			set: func(p *model.PolicyConfig, v model.Value) error {
				b, ok := v.AsBool()
				if !ok {
					return invalid(name, v, "true or false")
				}
				p.AutoExecuteEnabled = b
				return nil
			},
		}, nil
	case FieldCustomRules:
		return accessor{
			name:         name,
			overrideType: model.OverrideCustomRule,
			get: func(p model.PolicyConfig) model.Value {
				return model.Text(strings.Join(p.CustomRules, "; "))
			},
			set: func(p *model.PolicyConfig, v model.Value) error {
				s, ok := v.AsText()
				if !ok {
					return invalid(name, v, "text")
				}
				p.CustomRules = splitRules(s)
				return nil
			},
		}, nil
	}

	if sector, ok := strings.CutPrefix(name, hedgePrefix); ok {
		sector = model.SectorKey(sector)
		if sector == "" {
			return accessor{}, eris.Wrapf(model.ErrUnknownPolicyField, "policy: field %q names no sector", field)
		}
		key := hedgePrefix + sector
		return accessor{
			name:         key,
			overrideType: model.OverrideHedgePercentage,
			get: func(p model.PolicyConfig) model.Value {
				if v, ok := p.HedgePercentages[sector]; ok {
					return model.Number(v)
				}
				return model.Value{}
			},
			set: func(p *model.PolicyConfig, v model.Value) error {
				f, err := percentage(key, v)
				if err != nil {
					return err
				}
				if p.HedgePercentages == nil {
					p.HedgePercentages = map[string]float64{}
				}
				p.HedgePercentages[sector] = f
				return nil
			},
		}, nil
	}
	return accessor{}, eris.Wrapf(model.ErrUnknownPolicyField, "policy: field %q", field)
}

// OverrideTypeFor returns the reasoning-bank override type recorded for
// changes to field.
func OverrideTypeFor(field string) (model.OverrideType, error) {
	acc, err := resolve(field)
	if err != nil {
		return "", err
	}
	return acc.overrideType, nil
}

// Get reads field from p.
func Get(p model.PolicyConfig, field string) (model.Value, error) {
	acc, err := resolve(field)
	if err != nil {
		return model.Value{}, err
	}
	return acc.get(p), nil
}

// Set returns a copy of p with field set to v. p is not modified.
func Set(p model.PolicyConfig, field string, v model.Value) (model.PolicyConfig, error) {
	acc, err := resolve(field)
	if err != nil {
		return p, err
	}
	next := p.Clone()
	if err := acc.set(&next, v); err != nil {
		return p, err
	}
	return next, nil
}

func percentage(field string, v model.Value) (float64, error) {
	f, ok := finite(v)
	if !ok || f < 0 || f > 100 {
		return 0, invalid(field, v, "a number within [0,100]")
	}
	return f, nil
}

// finite returns v as a number, rejecting NaN and infinities.
func finite(v model.Value) (float64, bool) {
	f, ok := v.AsNumber()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func invalid(field string, v model.Value, want string) error {
	return eris.Wrapf(model.ErrInvalidPolicyValue, "policy: %s must be %s, got %q", field, want, v.String())
}

// splitRules accepts rules separated by ";" or newlines.
func splitRules(s string) []string {
	out := []string{}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

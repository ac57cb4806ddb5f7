// Package credit computes financial ratios and a weighted six-metric credit
// score from a company's statements.
package credit

import (
	"math"
)

// Statement is one financial statement as field name to amount.
type Statement map[string]float64

func (s Statement) get(key string) float64 { return s[key] }

func (s Statement) lookup(key string) (float64, bool) {
	v, ok := s[key]
	return v, ok
}

// Statements bundles the three inputs of the engine.
type Statements struct {
	Income   Statement `json:"income_statement" yaml:"income_statement"`
	Balance  Statement `json:"balance_sheet" yaml:"balance_sheet"`
	CashFlow Statement `json:"cash_flow" yaml:"cash_flow"`
}

// Config tunes the engine.
type Config struct {
	// PrincipalEstimateFraction of total liabilities stands in for annual
	// principal payments when the income statement omits them.
	PrincipalEstimateFraction float64
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{PrincipalEstimateFraction: 0.10}
}

// Zone labels of the Altman Z'-score.
const (
	ZoneSafe     = "Safe"
	ZoneGrey     = "Grey"
	ZoneDistress = "Distress"
)

// Sentinel for an undefined but favorable coverage (no debt to cover).
const infiniteCoverage = 999

// Metric weights of the overall credit score.
const (
	weightDSCR   = 0.25
	weightDE     = 0.20
	weightCR     = 0.15
	weightICR    = 0.15
	weightMargin = 0.10
	weightZ      = 0.15
)

// Ratios is the engine output.
type Ratios struct {
	DSCR                  float64 `json:"dscr"`
	DSCRScore             int     `json:"dscr_score"`
	DebtToEquity          float64 `json:"debt_to_equity"`
	DebtToEquityScore     int     `json:"de_score"`
	CurrentRatio          float64 `json:"current_ratio"`
	CurrentRatioScore     int     `json:"cr_score"`
	InterestCoverage      float64 `json:"interest_coverage_ratio"`
	InterestCoverageScore int     `json:"icr_score"`
	NetProfitMargin       float64 `json:"net_profit_margin"`
	NetProfitMarginScore  int     `json:"npm_score"`
	AltmanZ               float64 `json:"altman_z_score"`
	AltmanZone            string  `json:"z_score_interpretation"`
	AltmanZScore          int     `json:"z_score_score"`
	OverallCreditScore    float64 `json:"overall_credit_score"`

	OperatingMargin        float64 `json:"operating_margin"`
	ReturnOnAssets         float64 `json:"return_on_assets"`
	ReturnOnEquity         float64 `json:"return_on_equity"`
	QuickRatio             float64 `json:"quick_ratio"`
	DebtToAssets           float64 `json:"debt_to_assets"`
	OperatingCashFlowRatio float64 `json:"operating_cash_flow_ratio"`
	CashFlowToDebt         float64 `json:"cash_flow_to_debt"`
}

// Engine is stateless apart from its config and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New returns an Engine. A negative fraction falls back to the default.
func New(cfg Config) *Engine {
	if cfg.PrincipalEstimateFraction < 0 {
		cfg.PrincipalEstimateFraction = DefaultConfig().PrincipalEstimateFraction
	}
	return &Engine{cfg: cfg}
}

// Compute never fails: missing fields count as zero and every division is
// guarded.
func (e *Engine) Compute(s Statements) Ratios {
	inc, bal, cf := s.Income, s.Balance, s.CashFlow

	revenue := inc.get("total_revenue")
	netIncome := inc.get("net_income")
	operatingIncome := inc.get("operating_income")
	ebitda, ok := inc.lookup("ebitda")
	if !ok {
		ebitda = operatingIncome + inc.get("depreciation")
	}
	interest := math.Abs(inc.get("interest_expense"))

	currentAssets := bal.get("total_current_assets")
	currentLiabilities := bal.get("total_current_liabilities")
	totalAssets := bal.get("total_assets")
	totalLiabilities := bal.get("total_liabilities")
	equity := bal.get("total_equity")
	retained := bal.get("retained_earnings")
	workingCapital := currentAssets - currentLiabilities

	operatingCashFlow := cf.get("net_cash_from_operating")

	principal, ok := inc.lookup("principal_payments")
	if !ok {
		principal = totalLiabilities * e.cfg.PrincipalEstimateFraction
	}
	debtService := principal + interest

	var r Ratios

	r.DSCR = div(ebitda, debtService, 0)
	r.DSCRScore = bandAtLeast(r.DSCR, 1.50, 1.25, 1.00, 0.80)

	r.DebtToEquity = div(totalLiabilities, equity, infiniteCoverage)
	r.DebtToEquityScore = bandBelow(r.DebtToEquity, 1.0, 1.5, 2.5, 4.0)

	r.CurrentRatio = div(currentAssets, currentLiabilities, 0)
	r.CurrentRatioScore = bandAtLeast(r.CurrentRatio, 2.0, 1.5, 1.2, 1.0)

	r.InterestCoverage = div(ebitda, interest, infiniteCoverage)
	r.InterestCoverageScore = bandAtLeast(r.InterestCoverage, 5.0, 3.0, 2.0, 1.5)

	r.NetProfitMargin = div(netIncome, revenue, 0) * 100
	r.NetProfitMarginScore = bandAtLeast(r.NetProfitMargin, 15, 10, 5, 0)

	x1 := div(workingCapital, totalAssets, 0)
	x2 := div(retained, totalAssets, 0)
	x3 := div(ebitda, totalAssets, 0)
	x4 := div(equity, totalLiabilities, 0)
	x5 := div(revenue, totalAssets, 0)
	r.AltmanZ = 0.717*x1 + 0.847*x2 + 3.107*x3 + 0.420*x4 + 0.998*x5
	switch {
	case r.AltmanZ > 2.9:
		r.AltmanZone, r.AltmanZScore = ZoneSafe, 100
	case r.AltmanZ > 1.23:
		r.AltmanZone, r.AltmanZScore = ZoneGrey, 60
	default:
		r.AltmanZone, r.AltmanZScore = ZoneDistress, 20
	}

	r.OverallCreditScore = round(
		float64(r.DSCRScore)*weightDSCR+
			float64(r.DebtToEquityScore)*weightDE+
			float64(r.CurrentRatioScore)*weightCR+
			float64(r.InterestCoverageScore)*weightICR+
			float64(r.NetProfitMarginScore)*weightMargin+
			float64(r.AltmanZScore)*weightZ, 1)

	r.DSCR = round(r.DSCR, 2)
	r.DebtToEquity = round(r.DebtToEquity, 2)
	r.CurrentRatio = round(r.CurrentRatio, 2)
	r.InterestCoverage = round(r.InterestCoverage, 2)
	r.NetProfitMargin = round(r.NetProfitMargin, 1)
	r.AltmanZ = round(r.AltmanZ, 2)

	r.OperatingMargin = round(ratio(operatingIncome, revenue)*100, 1)
	r.ReturnOnAssets = round(ratio(netIncome, totalAssets)*100, 1)
	r.ReturnOnEquity = round(ratio(netIncome, equity)*100, 1)
	r.QuickRatio = round(ratio(currentAssets-bal.get("inventory"), currentLiabilities), 2)
	r.DebtToAssets = round(ratio(totalLiabilities, totalAssets), 2)
	r.OperatingCashFlowRatio = round(ratio(operatingCashFlow, currentLiabilities), 2)
	r.CashFlowToDebt = round(ratio(operatingCashFlow, totalLiabilities), 2)

	return r
}

// div returns num/den, or fallback when den is not positive.
func div(num, den, fallback float64) float64 {
	if den <= 0 {
		return fallback
	}
	return num / den
}

// ratio returns num/den, or 0 when den is zero. Unlike div a negative
// denominator still divides, so negative equity yields a negative ROE.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// bandAtLeast scores v against descending cut-offs for 100, 80, 50 and 20.
func bandAtLeast(v, c100, c80, c50, c20 float64) int {
	switch {
	case v >= c100:
		return 100
	case v >= c80:
		return 80
	case v >= c50:
		return 50
	case v >= c20:
		return 20
	}
	return 0
}

// bandBelow scores v against ascending upper bounds for 100, 80, 50 and 20.
func bandBelow(v, c100, c80, c50, c20 float64) int {
	switch {
	case v < c100:
		return 100
	case v < c80:
		return 80
	case v < c50:
		return 50
	case v < c20:
		return 20
	}
	return 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

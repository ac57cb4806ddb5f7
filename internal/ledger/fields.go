package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// record is one raw row keyed by normalized column name. CSV rows carry
// strings; JSON rows carry json.Number, string, bool, []any or nil.
type record map[string]any

// normKey folds camelCase, snake_case and spaced headers to one form so
// "loanId", "loan_id" and "Loan ID" all address the same field.
func normKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(k)
}

func newRecord(raw map[string]any) record {
	r := make(record, len(raw))
	for k, v := range raw {
		r[normKey(k)] = v
	}
	return r
}

func (r record) present(keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func (r record) str(keys ...string) string {
	v, ok := r.present(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// num reads a numeric field. Missing fields are an error; currency
// formatting ("$1,250,000") is tolerated in tabular input.
func (r record) num(label string, keys ...string) (float64, error) {
	v, ok := r.present(keys...)
	if !ok {
		return 0, eris.Errorf("%s is required", label)
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, eris.Errorf("%s: %q is not a number", label, t.String())
		}
		return f, nil
	case float64:
		return t, nil
	case string:
		clean := strings.NewReplacer("$", "", ",", "", " ", "").Replace(t)
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0, eris.Errorf("%s: %q is not a number", label, t)
		}
		return f, nil
	default:
		return 0, eris.Errorf("%s: unexpected %T", label, v)
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// parseDate coerces the date spellings ledgers actually contain. Values
// without a zone are taken as UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized date %q", s)
}

func (r record) date(label string, keys ...string) (time.Time, error) {
	v, ok := r.present(keys...)
	if !ok {
		return time.Time{}, eris.Errorf("%s is required", label)
	}
	s, isStr := v.(string)
	if !isStr {
		return time.Time{}, eris.Errorf("%s must be a date string", label)
	}
	t, err := parseDate(s)
	if err != nil {
		return time.Time{}, eris.Wrap(err, label)
	}
	return t, nil
}

// covenants normalizes the covenant field: absent is empty, a list is kept,
// a delimited string is split on ';' or ','.
func (r record) covenants() ([]string, error) {
	v, ok := r.present("covenants")
	if !ok {
		return []string{}, nil
	}
	out := []string{}
	switch t := v.(type) {
	case string:
		for _, part := range strings.FieldsFunc(t, func(c rune) bool { return c == ';' || c == ',' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range t {
			s, isStr := item.(string)
			if !isStr {
				return nil, eris.Errorf("covenants: entries must be strings, got %T", item)
			}
			if p := strings.TrimSpace(s); p != "" {
				out = append(out, p)
			}
		}
	default:
		return nil, eris.Errorf("covenants: unexpected %T", v)
	}
	return out, nil
}

func (r record) loan() (model.LoanRecord, error) {
	var (
		loan model.LoanRecord
		errs []string
		err  error
	)
	loan.LoanID = r.str("loanid", "id")
	loan.Borrower = r.str("borrower")
	loan.Industry = r.str("industry", "sector")

	if pt := r.str("interesttype", "paymenttype"); pt != "" {
		if loan.PaymentType, err = model.ParsePaymentType(pt); err != nil {
			errs = append(errs, fmt.Sprintf("interestType: unknown payment type %q", pt))
		}
	}
	if loan.PrincipalAmount, err = r.num("principalAmount", "principalamount"); err != nil {
		errs = append(errs, err.Error())
	}
	if loan.OutstandingBalance, err = r.num("outstandingBalance", "outstandingbalance"); err != nil {
		errs = append(errs, err.Error())
	}
	if loan.MaturityDate, err = r.date("maturityDate", "maturitydate"); err != nil {
		errs = append(errs, err.Error())
	}
	if loan.Covenants, err = r.covenants(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return model.LoanRecord{}, eris.Wrap(model.ErrValidation, strings.Join(errs, "; "))
	}
	if err := loan.Validate(); err != nil {
		return model.LoanRecord{}, err
	}
	return loan, nil
}

func (r record) history() (model.HistoricalRecord, error) {
	var (
		h    model.HistoricalRecord
		errs []string
		err  error
	)
	if h.LoanID = r.str("loanid", "id"); h.LoanID == "" {
		errs = append(errs, "loanId is required")
	}
	if h.Timestamp, err = r.date("timestamp", "timestamp", "date", "asof"); err != nil {
		errs = append(errs, err.Error())
	}
	pt := r.str("interesttype", "paymenttype")
	if h.PaymentType, err = model.ParsePaymentType(pt); err != nil {
		errs = append(errs, fmt.Sprintf("interestType: unknown payment type %q", pt))
	}
	if _, ok := r.present("outstandingbalance"); ok {
		if h.OutstandingBalance, err = r.num("outstandingBalance", "outstandingbalance"); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return model.HistoricalRecord{}, eris.Wrap(model.ErrValidation, strings.Join(errs, "; "))
	}
	return h, nil
}

// validationMessage drops the sentinel suffix eris appends so the collected
// message reads as the problem list alone.
func validationMessage(err error) string {
	msg := err.Error()
	return strings.TrimSuffix(msg, ": "+model.ErrValidation.Error())
}

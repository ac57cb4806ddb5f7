package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PaymentType is how a loan's interest is settled.
type PaymentType string

const (
	PaymentCash   PaymentType = "Cash"
	PaymentInKind PaymentType = "PIK"
	PaymentHybrid PaymentType = "Hybrid"
)

// ParsePaymentType accepts the ledger spellings of a payment type,
// case-insensitively. "PaymentInKind" and "payment-in-kind" map to PIK.
func ParsePaymentType(s string) (PaymentType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "cash":
		return PaymentCash, nil
	case "pik", "paymentinkind":
		return PaymentInKind, nil
	case "hybrid":
		return PaymentHybrid, nil
	default:
		return "", eris.Wrapf(ErrValidation, "unknown payment type %q", s)
	}
}

// Valid reports whether t is one of the three known payment types.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentCash, PaymentInKind, PaymentHybrid:
		return true
	}
	return false
}

// UnmarshalJSON accepts any spelling ParsePaymentType accepts.
func (t *PaymentType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(ErrValidation, "payment type must be a string")
	}
	pt, err := ParsePaymentType(s)
	if err != nil {
		return err
	}
	*t = pt
	return nil
}

// LoanRecord is one validated row of a loan ledger. It is not modified after
// the loader builds it.
type LoanRecord struct {
	LoanID             string      `json:"loanId"`
	Borrower           string      `json:"borrower"`
	Industry           string      `json:"industry"`
	PaymentType        PaymentType `json:"interestType"`
	PrincipalAmount    float64     `json:"principalAmount"`
	OutstandingBalance float64     `json:"outstandingBalance"`
	MaturityDate       time.Time   `json:"maturityDate"`
	Covenants          []string    `json:"covenants"`
}

// Validate checks the record invariants.
func (l LoanRecord) Validate() error {
	var problems []string
	if strings.TrimSpace(l.LoanID) == "" {
		problems = append(problems, "loanId is required")
	}
	if strings.TrimSpace(l.Borrower) == "" {
		problems = append(problems, "borrower is required")
	}
	if strings.TrimSpace(l.Industry) == "" {
		problems = append(problems, "industry is required")
	}
	if !l.PaymentType.Valid() {
		problems = append(problems, "interestType must be one of Cash, PIK, Hybrid")
	}
	if l.OutstandingBalance < 0 {
		problems = append(problems, "outstandingBalance must be >= 0")
	}
	if l.PrincipalAmount < 0 {
		problems = append(problems, "principalAmount must be >= 0")
	}
	if l.MaturityDate.IsZero() {
		problems = append(problems, "maturityDate is required")
	}
	if len(problems) > 0 {
		return eris.Wrap(ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// HistoricalRecord is a past observation of a loan's payment type.
type HistoricalRecord struct {
	LoanID             string      `json:"loanId"`
	Timestamp          time.Time   `json:"timestamp"`
	PaymentType        PaymentType `json:"interestType"`
	OutstandingBalance float64     `json:"outstandingBalance"`
}

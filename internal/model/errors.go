package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Error taxonomy shared by the loader, the stores and the policy workflow.
// Wrap these with eris and test with eris.Is.
var (
	ErrNotFound           = eris.New("not found")
	ErrUnsupportedFormat  = eris.New("unsupported format")
	ErrValidation         = eris.New("validation failed")
	ErrOracleFailure      = eris.New("oracle failure")
	ErrPersistence        = eris.New("persistence failure")
	ErrUnknownPolicyField = eris.New("unknown policy field")
	ErrInvalidPolicyValue = eris.New("invalid policy value")
	ErrDiffNotPending     = eris.New("policy diff is not pending")
)

// ValidationError describes one ledger or history record that failed
// validation. Row is the 1-based file line for tabular input (header is row 1);
// Index is the 0-based array position for structured input.
type ValidationError struct {
	Row     int            `json:"row,omitempty"`
	Index   int            `json:"index"`
	Message string         `json:"error"`
	Data    map[string]any `json:"data,omitempty"`
}

func (v ValidationError) Error() string {
	if v.Row > 0 {
		return fmt.Sprintf("row %d: %s", v.Row, v.Message)
	}
	return fmt.Sprintf("record %d: %s", v.Index, v.Message)
}

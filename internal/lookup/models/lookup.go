package models

import (
	"strings"
	"time"

	crossrefmodels "nser/internal/crossref/models"
	dErrors "nser/pkg/domain-errors"
)

// Source names what the operator presented.
type Source string

const (
	SourceToken      Source = "token"
	SourceIdentifier Source = "identifier"
)

// Request asks whether a player is excluded. Exactly one of TokenValue or
// Identifier is set.
type Request struct {
	TokenValue string                     `json:"token_value,omitempty"`
	Identifier *crossrefmodels.Identifier `json:"identifier,omitempty"`
}

// Source reports which input the request carries.
func (r Request) Source() Source {
	if r.Identifier != nil {
		return SourceIdentifier
	}
	return SourceToken
}

func (r *Request) Validate() error {
	r.TokenValue = strings.TrimSpace(r.TokenValue)
	hasToken := r.TokenValue != ""
	hasIdentifier := r.Identifier != nil
	if hasToken == hasIdentifier {
		return dErrors.New(dErrors.CodeValidation, "exactly one of token_value or identifier is required")
	}
	if !hasIdentifier {
		return nil
	}
	if !r.Identifier.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown identifier type "+string(r.Identifier.Type))
	}
	if (r.Identifier.Value == "") == (r.Identifier.Hash == "") {
		return dErrors.New(dErrors.CodeValidation, "identifier needs exactly one of value or hash")
	}
	return nil
}

// Result is the operator-facing answer. A player the register does not
// know is a normal negative result, not an error.
type Result struct {
	IsExcluded      bool       `json:"is_excluded"`
	ReferenceNumber string     `json:"reference_number,omitempty"`
	Period          string     `json:"period,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	IsPermanent     bool       `json:"is_permanent"`
	DaysRemaining   int        `json:"days_remaining"`

	// Valid is false when the presented token is unknown, compromised or
	// superseded. The exclusion still follows the player to the live token.
	Valid         bool   `json:"valid"`
	TokenStatus   string `json:"token_status,omitempty"`
	IsCompromised bool   `json:"is_compromised"`
}

// Outcome labels the result for metrics.
func (r *Result) Outcome() string {
	switch {
	case r.IsExcluded:
		return "excluded"
	case r.TokenStatus == "":
		return "unknown"
	default:
		return "not_excluded"
	}
}

package models

import (
	"fmt"
	"sort"

	id "nser/pkg/domain"
)

// Identifier is one piece of evidence supplied to duplicate detection,
// either as a raw value or as a register hash.
type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value,omitempty"`
	Hash  string         `json:"hash,omitempty"`
}

// TokenMatch is one token that shares identifiers with the evidence.
type TokenMatch struct {
	TokenID    id.TokenID       `json:"token_id"`
	Matched    []IdentifierType `json:"matched"`
	Confidence float64          `json:"confidence"`
}

// DuplicateReport is evidence for an administrative decision. It never
// implies an enforcement action.
type DuplicateReport struct {
	Tokens     []TokenMatch `json:"tokens"`
	Confidence float64      `json:"confidence"`
	Reasons    []string     `json:"reasons"`
}

// IsDuplicate reports whether the evidence points at more than one token.
func (r *DuplicateReport) IsDuplicate() bool {
	return len(r.Tokens) > 1
}

// BuildReport groups matching references by token. Confidence grows with
// the number of independent identifiers that matched.
func BuildReport(refs []*CrossReference) *DuplicateReport {
	byToken := make(map[id.TokenID][]*CrossReference)
	var order []id.TokenID
	var all []float64
	for _, ref := range refs {
		if _, ok := byToken[ref.TokenID]; !ok {
			order = append(order, ref.TokenID)
		}
		byToken[ref.TokenID] = append(byToken[ref.TokenID], ref)
		all = append(all, ref.Weight())
	}

	report := &DuplicateReport{Tokens: []TokenMatch{}, Reasons: []string{}}
	for _, tokenID := range order {
		matched := byToken[tokenID]
		weights := make([]float64, 0, len(matched))
		types := make([]IdentifierType, 0, len(matched))
		for _, ref := range matched {
			weights = append(weights, ref.Weight())
			types = append(types, ref.IdentifierType)
			verified := "unverified"
			if ref.Verified {
				verified = "verified"
			}
			report.Reasons = append(report.Reasons, fmt.Sprintf("%s matches token %s (%s)", ref.IdentifierType, tokenID, verified))
		}
		report.Tokens = append(report.Tokens, TokenMatch{
			TokenID:    tokenID,
			Matched:    types,
			Confidence: CombineConfidence(weights),
		})
	}
	sort.SliceStable(report.Tokens, func(i, j int) bool {
		return report.Tokens[i].Confidence > report.Tokens[j].Confidence
	})
	report.Confidence = CombineConfidence(all)
	return report
}

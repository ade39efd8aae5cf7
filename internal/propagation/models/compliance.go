package models

import (
	"fmt"
	"time"

	id "nser/pkg/domain"
)

// AggregateStatus is a record's propagation status across all operators.
// It is always derived from the delivery rows and never stored.
type AggregateStatus string

const (
	AggregatePending    AggregateStatus = "pending"
	AggregateInProgress AggregateStatus = "in_progress"
	AggregateCompleted  AggregateStatus = "completed"
	AggregatePartial    AggregateStatus = "partial"
	AggregateFailed     AggregateStatus = "failed"
)

// DeriveStatus computes the aggregate from the current version's rows.
func DeriveStatus(deliveries []*Delivery) AggregateStatus {
	if len(deliveries) == 0 {
		return AggregatePending
	}
	acked, failed := 0, 0
	for _, d := range deliveries {
		switch d.Status {
		case DeliveryAcknowledged:
			acked++
		case DeliveryFailed:
			failed++
		}
	}
	switch {
	case acked == len(deliveries):
		return AggregateCompleted
	case acked > 0:
		return AggregatePartial
	case failed == len(deliveries):
		return AggregateFailed
	default:
		return AggregateInProgress
	}
}

// ComplianceSummary is the dashboard view of a record's propagation.
type ComplianceSummary struct {
	ExclusionID           id.ExclusionID  `json:"exclusion_id"`
	StateVersion          int             `json:"state_version"`
	Status                AggregateStatus `json:"status"`
	OperatorsTotal        int             `json:"operators_total"`
	OperatorsNotified     int             `json:"operators_notified"`
	OperatorsAcknowledged int             `json:"operators_acknowledged"`
	OperatorsFailed       int             `json:"operators_failed"`
	Deliveries            []*Delivery     `json:"deliveries,omitempty"`
}

// Summarize builds the summary for stateVersion. Rows still carrying an
// older version count as pending for the current one.
func Summarize(exclusionID id.ExclusionID, stateVersion int, deliveries []*Delivery) *ComplianceSummary {
	current := make([]*Delivery, 0, len(deliveries))
	for _, d := range deliveries {
		if d.StateVersion == stateVersion {
			current = append(current, d)
			continue
		}
		placeholder := *d
		placeholder.Status = DeliveryPending
		placeholder.IsCompliant = false
		placeholder.LastAttemptAt = nil
		current = append(current, &placeholder)
	}

	s := &ComplianceSummary{
		ExclusionID:    exclusionID,
		StateVersion:   stateVersion,
		Status:         DeriveStatus(current),
		OperatorsTotal: len(current),
		Deliveries:     current,
	}
	for _, d := range current {
		if d.LastAttemptAt != nil || d.Status != DeliveryPending {
			s.OperatorsNotified++
		}
		switch d.Status {
		case DeliveryAcknowledged:
			s.OperatorsAcknowledged++
		case DeliveryFailed:
			s.OperatorsFailed++
		}
	}
	return s
}

// Notice is the payload delivered to operators for one exclusion state.
// (ExclusionID, StateVersion) identifies it for de-duplication.
type Notice struct {
	ExclusionID  id.ExclusionID `json:"exclusionId"`
	Reference    string         `json:"reference"`
	TokenID      id.TokenID     `json:"-"`
	TokenValue   string         `json:"tokenValue"`
	Status       string         `json:"status"`
	EffectiveAt  time.Time      `json:"effectiveAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	IsPermanent  bool           `json:"isPermanent"`
	StateVersion int            `json:"stateVersion"`
}

func (n Notice) IdempotencyKey() string {
	return IdempotencyKey(n.ExclusionID, n.StateVersion)
}

func IdempotencyKey(exclusionID id.ExclusionID, stateVersion int) string {
	return fmt.Sprintf("%s:%d", exclusionID, stateVersion)
}

// Acknowledgement is an operator's confirmation of one notice.
type Acknowledgement struct {
	ExclusionID  id.ExclusionID
	OperatorID   id.OperatorID
	StateVersion int
}

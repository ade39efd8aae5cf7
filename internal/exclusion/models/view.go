package models

import (
	"time"

	propmodels "nser/internal/propagation/models"
)

// Exclusion is a record as read, with the fields that are derived rather
// than stored: the enforcement flag and the propagation aggregate.
type Exclusion struct {
	*Record
	IsActive              bool                       `json:"is_active"`
	IsPermanent           bool                       `json:"is_permanent"`
	DaysRemaining         int                        `json:"days_remaining"`
	PropagationStatus     propmodels.AggregateStatus `json:"propagation_status"`
	OperatorsNotified     int                        `json:"operators_notified"`
	OperatorsAcknowledged int                        `json:"operators_acknowledged"`
}

// NewExclusion derives the read view. summary may be nil when propagation
// state is unavailable; the aggregate then reads pending.
func NewExclusion(r *Record, now time.Time, summary *propmodels.ComplianceSummary) *Exclusion {
	e := &Exclusion{
		Record:            r,
		IsActive:          r.IsActiveAt(now),
		IsPermanent:       r.Period.IsPermanent(),
		DaysRemaining:     r.DaysRemaining(now),
		PropagationStatus: propmodels.AggregatePending,
	}
	if summary != nil {
		e.PropagationStatus = summary.Status
		e.OperatorsNotified = summary.OperatorsNotified
		e.OperatorsAcknowledged = summary.OperatorsAcknowledged
	}
	return e
}

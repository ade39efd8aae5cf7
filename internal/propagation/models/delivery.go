package models

import (
	"math"
	"time"

	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
)

// DeliveryStatus is the state of one operator's obligation to learn about
// one exclusion state.
type DeliveryStatus string

const (
	// DeliveryPending means an attempt is due.
	DeliveryPending      DeliveryStatus = "pending"
	// DeliveryNotified means an attempt is in flight.
	DeliveryNotified     DeliveryStatus = "notified"
	DeliveryAcknowledged DeliveryStatus = "acknowledged"
	// DeliveryTimeout means the last attempt got no acknowledgement and a
	// retry is scheduled at NextRetryAt.
	DeliveryTimeout      DeliveryStatus = "timeout"
	// DeliveryFailed is terminal until an administrator resets it.
	DeliveryFailed       DeliveryStatus = "failed"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryNotified, DeliveryAcknowledged, DeliveryTimeout, DeliveryFailed:
		return true
	}
	return false
}

// Delivery is the per (exclusion, operator) mapping.
//
// Invariants:
//   - at most one row per (ExclusionID, OperatorID)
//   - within a StateVersion the status only moves forward; ResetForRetry is
//     the only way back from failed
//   - a newer StateVersion restarts the row as a fresh obligation
type Delivery struct {
	ExclusionID    id.ExclusionID `json:"exclusion_id"`
	OperatorID     id.OperatorID  `json:"operator_id"`
	StateVersion   int            `json:"state_version"`
	Status         DeliveryStatus `json:"status"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	IsCompliant    bool           `json:"is_compliant"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewDelivery creates a pending row that is due immediately.
func NewDelivery(exclusionID id.ExclusionID, operatorID id.OperatorID, stateVersion, maxRetries int, now time.Time) *Delivery {
	due := now
	return &Delivery{
		ExclusionID:  exclusionID,
		OperatorID:   operatorID,
		StateVersion: stateVersion,
		Status:       DeliveryPending,
		MaxRetries:   maxRetries,
		NextRetryAt:  &due,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Restart begins a new delivery cycle for a newer state version.
func (d *Delivery) Restart(stateVersion, maxRetries int, now time.Time) {
	due := now
	d.StateVersion = stateVersion
	d.Status = DeliveryPending
	d.RetryCount = 0
	d.MaxRetries = maxRetries
	d.NextRetryAt = &due
	d.LastError = ""
	d.IsCompliant = false
	d.AcknowledgedAt = nil
	d.UpdatedAt = now
}

// IsAttemptable reports whether an attempt for stateVersion may start.
func (d *Delivery) IsAttemptable(stateVersion int) bool {
	return d.StateVersion == stateVersion && (d.Status == DeliveryPending || d.Status == DeliveryTimeout)
}

func (d *Delivery) CanBeginAttempt(stateVersion int) error {
	if !d.IsAttemptable(stateVersion) {
		return dErrors.New(dErrors.CodeInvariantViolation, "delivery is not awaiting an attempt")
	}
	return nil
}

func (d *Delivery) BeginAttempt(now time.Time) {
	d.Status = DeliveryNotified
	d.LastAttemptAt = &now
	d.NextRetryAt = nil
	d.UpdatedAt = now
}

// CanAcknowledge separates a duplicate acknowledgement (already done) from
// one for a superseded version.
func (d *Delivery) CanAcknowledge(stateVersion int) error {
	if d.StateVersion != stateVersion {
		return dErrors.New(dErrors.CodeConflict, "acknowledgement is for a superseded state version")
	}
	if d.Status == DeliveryAcknowledged {
		return dErrors.New(dErrors.CodeAlreadyTerminal, "delivery already acknowledged")
	}
	return nil
}

// Acknowledge records the operator's confirmation. A late acknowledgement of
// a delivery that already exhausted its retries still counts.
func (d *Delivery) Acknowledge(now time.Time) {
	d.Status = DeliveryAcknowledged
	d.IsCompliant = true
	d.AcknowledgedAt = &now
	d.NextRetryAt = nil
	d.LastError = ""
	d.UpdatedAt = now
}

// RecordFailure counts a failed attempt and either schedules the next one
// or marks the row failed. retryable=false fails immediately.
func (d *Delivery) RecordFailure(now time.Time, errMsg string, retryable bool, backoffCap time.Duration) {
	d.RetryCount++
	d.LastError = errMsg
	d.UpdatedAt = now
	if !retryable || d.RetryCount >= d.MaxRetries {
		d.Status = DeliveryFailed
		d.NextRetryAt = nil
		return
	}
	next := now.Add(Backoff(d.RetryCount, backoffCap))
	d.Status = DeliveryTimeout
	d.NextRetryAt = &next
}

func (d *Delivery) CanReset() error {
	if d.Status != DeliveryFailed {
		return dErrors.New(dErrors.CodeInvariantViolation, "only failed deliveries can be reset, status is "+string(d.Status))
	}
	return nil
}

// ResetForRetry is the manual failed → pending override.
func (d *Delivery) ResetForRetry(now time.Time) {
	due := now
	d.Status = DeliveryPending
	d.RetryCount = 0
	d.NextRetryAt = &due
	d.UpdatedAt = now
}

// Backoff returns min(2^n seconds, cap).
func Backoff(n int, backoffCap time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	capSeconds := backoffCap.Seconds()
	if n >= 62 {
		return backoffCap
	}
	delay := math.Pow(2, float64(n))
	if delay > capSeconds {
		return backoffCap
	}
	return time.Duration(delay) * time.Second
}

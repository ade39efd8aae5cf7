package models

import (
	"time"

	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
)

// Status is an exclusion record's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
	StatusSuspended  Status = "suspended"
	StatusRevoked    Status = "revoked"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExpired, StatusTerminated, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// IsOpen reports whether the record still occupies its token's primary slot.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusActive
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusTerminated || s == StatusRevoked
}

// Record is one self-exclusion.
//
// Invariants:
//   - ExpiresAt is strictly after EffectiveAt
//   - StateVersion increases by one on every transition
//   - at most one open (pending or active) record exists per token
//   - records are never deleted
type Record struct {
	ID            id.ExclusionID `json:"id"`
	Reference     string         `json:"reference"`
	TokenID       id.TokenID     `json:"token_id"`
	Period        Period         `json:"period"`
	CustomDays    int            `json:"custom_days,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Status        Status         `json:"status"`
	StatusReason  string         `json:"status_reason,omitempty"`
	ChangedBy     string         `json:"changed_by,omitempty"`
	EffectiveAt   time.Time      `json:"effective_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	ActualEndAt   *time.Time     `json:"actual_end_at,omitempty"`
	AutoRenewable bool           `json:"auto_renewable"`
	RenewalCount  int            `json:"renewal_count"`
	StateVersion  int            `json:"state_version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewRecord builds a pending record with a provisional window starting at
// now. Activation recomputes the window.
func NewRecord(recordID id.ExclusionID, reference string, tokenID id.TokenID, period Period, customDays int, reason string, now time.Time) (*Record, error) {
	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "exclusion id required")
	}
	if reference == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "reference required")
	}
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token id required")
	}
	days, err := period.Days(customDays)
	if err != nil {
		return nil, err
	}
	if period != PeriodCustom {
		customDays = 0
	}
	now = now.UTC()
	return &Record{
		ID:            recordID,
		Reference:     reference,
		TokenID:       tokenID,
		Period:        period,
		CustomDays:    customDays,
		Reason:        reason,
		Status:        StatusPending,
		EffectiveAt:   now,
		ExpiresAt:     now.AddDate(0, 0, days),
		AutoRenewable: period.IsPermanent(),
		StateVersion:  1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsActiveAt is the derived enforcement flag: active status and now inside
// the window.
func (r *Record) IsActiveAt(now time.Time) bool {
	return r.Status == StatusActive && !now.Before(r.EffectiveAt) && now.Before(r.ExpiresAt)
}

// IsDue reports whether an active record's window has closed and it must be
// renewed or expired.
func (r *Record) IsDue(now time.Time) bool {
	return r.Status == StatusActive && !now.Before(r.ExpiresAt)
}

// DaysRemaining rounds up to whole days; zero when not active.
func (r *Record) DaysRemaining(now time.Time) int {
	if !r.IsActiveAt(now) {
		return 0
	}
	remaining := r.ExpiresAt.Sub(now)
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}

func (r *Record) windowDays() int {
	days, _ := r.Period.Days(r.CustomDays)
	return days
}

func (r *Record) CanActivate() error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "only pending exclusions can be activated, status is "+string(r.Status))
	}
	return nil
}

// Activate starts the window at now.
func (r *Record) Activate(now time.Time, actor string) {
	now = now.UTC()
	r.EffectiveAt = now
	r.ExpiresAt = now.AddDate(0, 0, r.windowDays())
	r.transition(StatusActive, now, actor, "")
}

func (r *Record) CanRenew(now time.Time) error {
	if r.Status != StatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "only active exclusions can be renewed, status is "+string(r.Status))
	}
	if !r.AutoRenewable {
		return dErrors.New(dErrors.CodeInvariantViolation, "exclusion is not auto-renewable")
	}
	if now.Before(r.ExpiresAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "exclusion window has not closed yet")
	}
	return nil
}

// Renew rolls the window forward until it covers now. A sweeper that fell
// behind by several windows still produces one transition.
func (r *Record) Renew(now time.Time, actor string) {
	days := r.windowDays()
	for !now.Before(r.ExpiresAt) {
		r.EffectiveAt = r.ExpiresAt
		r.ExpiresAt = r.ExpiresAt.AddDate(0, 0, days)
		r.RenewalCount++
	}
	r.transition(StatusActive, now, actor, "auto-renewed")
}

func (r *Record) CanExpire(now time.Time) error {
	if !r.IsDue(now) {
		return dErrors.New(dErrors.CodeInvariantViolation, "exclusion is not due to expire")
	}
	if r.AutoRenewable {
		return dErrors.New(dErrors.CodeInvariantViolation, "auto-renewable exclusions renew instead of expiring")
	}
	return nil
}

// Expire ends the record at the close of its window.
func (r *Record) Expire(now time.Time, actor string) {
	end := r.ExpiresAt
	r.ActualEndAt = &end
	r.transition(StatusExpired, now, actor, "window closed")
}

func (r *Record) CanTerminate() error {
	if r.Status != StatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "only active exclusions can be terminated, status is "+string(r.Status))
	}
	return nil
}

// Terminate is the administrative early end.
func (r *Record) Terminate(now time.Time, approver, reason string) {
	end := now.UTC()
	r.ActualEndAt = &end
	r.transition(StatusTerminated, now, approver, reason)
}

func (r *Record) CanSuspend() error {
	if !r.Status.IsOpen() {
		return dErrors.New(dErrors.CodeInvariantViolation, "only pending or active exclusions can be suspended, status is "+string(r.Status))
	}
	return nil
}

func (r *Record) Suspend(now time.Time, actor, reason string) {
	r.transition(StatusSuspended, now, actor, reason)
}

func (r *Record) CanRevoke() error {
	if !r.Status.IsOpen() && r.Status != StatusSuspended {
		return dErrors.New(dErrors.CodeInvariantViolation, "exclusion cannot be revoked from status "+string(r.Status))
	}
	return nil
}

func (r *Record) Revoke(now time.Time, actor, reason string) {
	end := now.UTC()
	r.ActualEndAt = &end
	r.transition(StatusRevoked, now, actor, reason)
}

// RelinkToken points the record at a rotated token. The status is kept but
// the version moves so operators receive the new token value.
func (r *Record) RelinkToken(tokenID id.TokenID, now time.Time, actor string) {
	r.TokenID = tokenID
	r.transition(r.Status, now, actor, "token rotated")
}

func (r *Record) transition(to Status, now time.Time, actor, reason string) {
	r.Status = to
	r.StatusReason = reason
	r.ChangedBy = actor
	r.UpdatedAt = now.UTC()
	r.StateVersion++
}

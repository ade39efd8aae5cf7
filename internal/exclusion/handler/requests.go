package handler

import (
	"strings"

	"nser/internal/exclusion/models"
	"nser/internal/exclusion/service"
	dErrors "nser/pkg/domain-errors"
)

type RegisterRequest struct {
	OwnerRef   string `json:"owner_ref"`
	Period     string `json:"period"`
	CustomDays int    `json:"custom_days,omitempty"`
	Reason     string `json:"reason,omitempty"`
	// RequireApproval leaves the record pending until it is activated.
	RequireApproval bool `json:"require_approval,omitempty"`
}

func (r *RegisterRequest) Validate() error {
	r.OwnerRef = strings.TrimSpace(r.OwnerRef)
	if r.OwnerRef == "" {
		return dErrors.New(dErrors.CodeValidation, "owner_ref is required")
	}
	r.Period = strings.TrimSpace(r.Period)
	if !models.Period(r.Period).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "period must be one of 6_months, 1_year, 2_years, 5_years, permanent, custom")
	}
	if models.Period(r.Period) != models.PeriodCustom && r.CustomDays != 0 {
		return dErrors.New(dErrors.CodeValidation, "custom_days is only accepted with the custom period")
	}
	return nil
}

func (r *RegisterRequest) Command() service.RegisterCommand {
	return service.RegisterCommand{
		OwnerRef:   r.OwnerRef,
		Period:     models.Period(r.Period),
		CustomDays: r.CustomDays,
		Reason:     r.Reason,
		Activate:   !r.RequireApproval,
	}
}

// TransitionRequest carries the reason for an administrative transition.
type TransitionRequest struct {
	Reason string `json:"reason"`
}

func (r *TransitionRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

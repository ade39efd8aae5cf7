package handler

import (
	"strings"

	dErrors "nser/pkg/domain-errors"
)

type IssueRequest struct {
	OwnerRef string `json:"owner_ref"`
}

func (r *IssueRequest) Validate() error {
	r.OwnerRef = strings.TrimSpace(r.OwnerRef)
	if r.OwnerRef == "" {
		return dErrors.New(dErrors.CodeValidation, "owner_ref is required")
	}
	return nil
}

type RotateRequest struct {
	Reason string `json:"reason"`
}

type CompromiseRequest struct {
	Reason     string `json:"reason"`
	AutoRotate *bool  `json:"auto_rotate"`
}

func (r *CompromiseRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// ShouldRotate defaults to true: a compromised owner normally needs a
// replacement immediately.
func (r *CompromiseRequest) ShouldRotate() bool {
	return r.AutoRotate == nil || *r.AutoRotate
}

type ValidateRequest struct {
	Token string `json:"token"`
}

func (r *ValidateRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	return nil
}

package handler

import (
	"strings"

	"nser/internal/operator/models"
	"nser/internal/operator/service"
	dErrors "nser/pkg/domain-errors"
)

type RegisterRequest struct {
	Name          string            `json:"name"`
	LicenseNumber string            `json:"license_number"`
	Endpoint      string            `json:"endpoint"`
	ClientID      string            `json:"client_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (r *RegisterRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.LicenseNumber = strings.TrimSpace(r.LicenseNumber)
	r.ClientID = strings.ToLower(strings.TrimSpace(r.ClientID))
	switch {
	case r.Name == "":
		return dErrors.New(dErrors.CodeValidation, "name is required")
	case r.LicenseNumber == "":
		return dErrors.New(dErrors.CodeValidation, "license_number is required")
	case r.ClientID == "":
		return dErrors.New(dErrors.CodeValidation, "client_id is required")
	}
	if err := models.ValidateEndpoint(r.Endpoint); err != nil {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return nil
}

func (r *RegisterRequest) Command() service.RegisterCommand {
	return service.RegisterCommand{
		Name:          r.Name,
		LicenseNumber: r.LicenseNumber,
		Endpoint:      r.Endpoint,
		ClientID:      r.ClientID,
		Metadata:      r.Metadata,
	}
}

type LicenseRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r *LicenseRequest) Validate() error {
	if !models.LicenseStatus(r.Status).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "status must be one of active, suspended, revoked")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// TokenRequest is the client-credentials grant.
type TokenRequest struct {
	GrantType string `json:"grant_type"`
	ClientID  string `json:"client_id"`
	APIKey    string `json:"api_key"`
}

func (r *TokenRequest) Validate() error {
	if r.GrantType != "client_credentials" {
		return dErrors.New(dErrors.CodeValidation, "grant_type must be client_credentials")
	}
	if strings.TrimSpace(r.ClientID) == "" || r.APIKey == "" {
		return dErrors.New(dErrors.CodeValidation, "client_id and api_key are required")
	}
	return nil
}

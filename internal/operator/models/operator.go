// Package models holds the operator directory aggregate.
package models

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
)

// LicenseStatus gates whether the register propagates to an operator.
type LicenseStatus string

const (
	LicenseActive    LicenseStatus = "active"
	LicenseSuspended LicenseStatus = "suspended"
	LicenseRevoked   LicenseStatus = "revoked"
)

func (s LicenseStatus) IsValid() bool {
	switch s {
	case LicenseActive, LicenseSuspended, LicenseRevoked:
		return true
	}
	return false
}

var clientIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,63}$`)

// Operator is a licensed gambling platform that receives exclusion notices
// and may query the register.
//
// Invariants:
//   - Name and LicenseNumber are non-empty
//   - Endpoint is an absolute http(s) URL
//   - ClientID is a lowercase slug, unique across the directory
//   - APIKeyHash is a bcrypt hash; the key itself is shown once at registration
//   - DeliverySecret signs outbound notices and never leaves the register in
//     API responses
//   - a revoked license is final
type Operator struct {
	ID             id.OperatorID     `json:"id"`
	Name           string            `json:"name"`
	LicenseNumber  string            `json:"license_number"`
	LicenseStatus  LicenseStatus     `json:"license_status"`
	Endpoint       string            `json:"endpoint"`
	ClientID       string            `json:"client_id"`
	APIKeyHash     string            `json:"-"`
	DeliverySecret string            `json:"-"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewOperator validates and builds an operator with an active license.
func NewOperator(operatorID id.OperatorID, name, licenseNumber, endpoint, clientID, apiKeyHash, deliverySecret string, metadata map[string]string, now time.Time) (*Operator, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "operator name cannot be empty")
	}
	licenseNumber = strings.TrimSpace(licenseNumber)
	if licenseNumber == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "license number cannot be empty")
	}
	if err := ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if !clientIDPattern.MatchString(clientID) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client id must be a lowercase slug of 3 to 64 characters")
	}
	if apiKeyHash == "" || deliverySecret == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "operator credentials are required")
	}
	return &Operator{
		ID:             operatorID,
		Name:           name,
		LicenseNumber:  licenseNumber,
		LicenseStatus:  LicenseActive,
		Endpoint:       endpoint,
		ClientID:       clientID,
		APIKeyHash:     apiKeyHash,
		DeliverySecret: deliverySecret,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ValidateEndpoint accepts absolute http and https URLs only.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return dErrors.New(dErrors.CodeInvariantViolation, "endpoint must be an absolute http(s) URL")
	}
	return nil
}

// IsLicenseActive reports whether notices should be delivered to the operator.
func (o *Operator) IsLicenseActive() bool {
	return o.LicenseStatus == LicenseActive
}

func (o *Operator) CanChangeLicense(to LicenseStatus) error {
	if !to.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown license status")
	}
	if o.LicenseStatus == LicenseRevoked {
		return dErrors.New(dErrors.CodeInvariantViolation, "license is revoked")
	}
	if o.LicenseStatus == to {
		return dErrors.New(dErrors.CodeInvariantViolation, "license is already "+string(to))
	}
	return nil
}

func (o *Operator) ChangeLicense(to LicenseStatus, now time.Time) {
	o.LicenseStatus = to
	o.UpdatedAt = now
}

func (o *Operator) UpdateEndpoint(endpoint string, now time.Time) {
	o.Endpoint = endpoint
	o.UpdatedAt = now
}

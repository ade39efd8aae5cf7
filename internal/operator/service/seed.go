package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nser/pkg/platform/sentinel"
)

// SeedFile is the YAML operator directory used to bootstrap development and
// test environments:
//
//	operators:
//	  - name: Acme Bet
//	    license_number: LIC-0001
//	    client_id: acme-bet
//	    endpoint: https://acme.example/register/notices
//	    api_key: dev-key
//	    delivery_secret: dev-secret
type SeedFile struct {
	Operators []SeedOperator `yaml:"operators"`
}

type SeedOperator struct {
	Name           string            `yaml:"name"`
	LicenseNumber  string            `yaml:"license_number"`
	ClientID       string            `yaml:"client_id"`
	Endpoint       string            `yaml:"endpoint"`
	APIKey         string            `yaml:"api_key"`
	DeliverySecret string            `yaml:"delivery_secret"`
	Metadata       map[string]string `yaml:"metadata"`
}

// LoadSeedFile parses a seed file from disk.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operator seed: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse operator seed: %w", err)
	}
	for i, op := range f.Operators {
		if op.APIKey == "" || op.DeliverySecret == "" {
			return nil, fmt.Errorf("operator seed entry %d (%s): api_key and delivery_secret are required", i, op.ClientID)
		}
	}
	return &f, nil
}

// Seed registers every operator not already in the directory, matched by
// client id. It returns how many were created.
func (s *Service) Seed(ctx context.Context, f *SeedFile) (int, error) {
	created := 0
	for _, entry := range f.Operators {
		_, err := s.store.FindByClientID(ctx, strings.ToLower(strings.TrimSpace(entry.ClientID)))
		if err == nil {
			continue
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return created, fmt.Errorf("seed %s: %w", entry.ClientID, err)
		}
		_, err = s.create(ctx, RegisterCommand{
			Name:          entry.Name,
			LicenseNumber: entry.LicenseNumber,
			Endpoint:      entry.Endpoint,
			ClientID:      entry.ClientID,
			Metadata:      entry.Metadata,
		}, entry.APIKey, entry.DeliverySecret)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", entry.ClientID, err)
		}
		created++
	}
	return created, nil
}

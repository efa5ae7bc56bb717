// internal/pkg/jwt/loader.go
package jwt

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	SigningKey     string // base64
	SigningKeyPath string
	Issuer         string
	Audience       string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
}

type Manager struct {
	Generator *Generator
	Verifier  *Verifier
}

// ErrNoSigningKey is returned by LoadAndBuild when neither a key nor a key path is configured.
var ErrNoSigningKey = errors.New("no signing key configured")

func LoadAndBuild(cfg Config) (*Manager, error) {
	var (
		key *SigningKey
		err error
	)

	switch {
	case cfg.SigningKey != "":
		key, err = LoadSigningKeyFromBase64(cfg.SigningKey)
	case cfg.SigningKeyPath != "":
		key, err = LoadSigningKeyFromFile(cfg.SigningKeyPath)
	default:
		return nil, ErrNoSigningKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	return NewManager(key, cfg), nil
}

// NewManager builds a generator/verifier pair sharing one key.
func NewManager(key *SigningKey, cfg Config) *Manager {
	return &Manager{
		Generator: NewGenerator(key, cfg.Issuer, cfg.Audience, cfg.AccessTTL, cfg.RefreshTTL),
		Verifier:  NewVerifier(key, cfg.Issuer, cfg.Audience),
	}
}

// WithClock sets the time source on both halves.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.Generator.WithClock(now)
	m.Verifier.WithClock(now)
	return m
}

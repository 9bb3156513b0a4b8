package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/pkg/id"
)

// CredentialStore is the subset of the credential repository the service needs.
type CredentialStore interface {
	Get(ctx context.Context, credentialID string) (*domain.Credential, error)
	Put(ctx context.Context, c *domain.Credential) error
}

// Sealer encrypts seeds at rest.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

type Service interface {
	// Secret returns the plain base32 seed. Every failure is a configuration
	// error: the seat exists but its credential cannot produce codes.
	Secret(ctx context.Context, credentialID string) (string, error)
	// Register seals and stores a seed, returning the new credential id.
	Register(ctx context.Context, label, secret string) (string, error)
}

type service struct {
	store  CredentialStore
	sealer Sealer
}

func NewService(store CredentialStore, sealer Sealer) Service {
	return &service{store: store, sealer: sealer}
}

func (s *service) Secret(ctx context.Context, credentialID string) (string, error) {
	if credentialID == "" {
		return "", fmt.Errorf("seat has no credential: %w", domain.ErrConfiguration)
	}
	c, err := s.store.Get(ctx, credentialID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("credential %s missing: %w", credentialID, domain.ErrConfiguration)
	}
	if err != nil {
		return "", err
	}
	plain, err := s.sealer.Open(c.Secret)
	if err != nil {
		return "", fmt.Errorf("credential %s: %v: %w", credentialID, err, domain.ErrConfiguration)
	}
	return plain, nil
}

func (s *service) Register(ctx context.Context, label, secret string) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if secret == "" {
		return "", fmt.Errorf("secret is required: %w", domain.ErrBadRequest)
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return "", err
	}
	c := &domain.Credential{CredentialID: id.New(), Label: label, Secret: sealed}
	if err := s.store.Put(ctx, c); err != nil {
		return "", err
	}
	return c.CredentialID, nil
}

// Package oidc adapts identity-provider token verification to
// middleware.Verifier.
package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/aziende/editorbridge/internal/config"
	"github.com/aziende/editorbridge/pkg/logger"
	"github.com/aziende/editorbridge/pkg/middleware"
)

// ErrNotConfigured is returned when neither a realm nor the insecure
// verifier is configured.
var ErrNotConfigured = errors.New("no identity provider configured")

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a new OIDC verifier for the given issuer and client ID
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// FromConfig picks the verifier for the deployment: the realm's OIDC
// verifier when Keycloak is configured, else the insecure verifier when
// explicitly allowed.
func FromConfig(ctx context.Context, cfg config.KeycloakConfig) (middleware.Verifier, error) {
	if issuer := cfg.IssuerURL(); issuer != "" {
		return NewVerifier(ctx, issuer, cfg.ClientID)
	}
	if cfg.AllowInsecure {
		logger.Warnf("ALLOW_INSECURE_TOKEN=true: bearer tokens are NOT verified")
		return NewInsecureVerifier(), nil
	}
	return nil, ErrNotConfigured
}

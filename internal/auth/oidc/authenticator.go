// Package oidc implements OpenID Connect single sign-on for staff accounts.
// It handles issuer discovery, the authorization-code exchange and id_token
// verification. Any standards-compliant identity provider works; provider
// selection happens purely through configuration.
package oidc

import (
	"context"
	"errors"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/chronobill/chronobill/internal/config"
)

// Authenticator drives the authorization-code flow against one identity
// provider: it builds the redirect URL, swaps the returned code for tokens
// and verifies the id_token signature against the provider's published keys.
type Authenticator struct {
	verifier *gooidc.IDTokenVerifier
	oauth    oauth2.Config
}

// NewAuthenticator runs OIDC discovery against the configured issuer. The
// context bounds the discovery request, so callers that care about startup
// time should pass one with a deadline.
func NewAuthenticator(ctx context.Context, cfg *config.OIDCConfig) (*Authenticator, error) {
	switch {
	case !cfg.Enabled:
		return nil, errors.New("OIDC is not enabled")
	case cfg.IssuerURL == "":
		return nil, errors.New("OIDC issuer URL is required")
	case cfg.ClientID == "":
		return nil, errors.New("OIDC client ID is required")
	case cfg.ClientSecret == "":
		return nil, errors.New("OIDC client secret is required")
	}

	provider, err := gooidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC issuer %s: %w", cfg.IssuerURL, err)
	}

	return &Authenticator{
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
	}, nil
}

// AuthCodeURL returns the provider URL to send the browser to. state is the
// CSRF token the callback must echo back.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// Authenticate swaps the authorization code from the callback for tokens and
// returns the verified id_token. Signature, issuer, audience and expiry are
// all checked before any claim is trusted.
func (a *Authenticator) Authenticate(ctx context.Context, code string) (*gooidc.IDToken, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("token response carried no id_token")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id_token: %w", err)
	}
	return idToken, nil
}

// Identity is the subset of id_token claims the user store needs.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// ExtractIdentity pulls the profile claims out of a verified id_token.
// Subject and email are required; a missing name falls back to the email
// address.
func (a *Authenticator) ExtractIdentity(idToken *gooidc.IDToken) (Identity, error) {
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("parsing id_token claims: %w", err)
	}

	if idToken.Subject == "" {
		return Identity{}, errors.New("id_token has no sub claim")
	}
	if claims.Email == "" {
		return Identity{}, errors.New("id_token has no email claim")
	}
	if claims.Name == "" {
		claims.Name = claims.Email
	}
	return Identity{Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// Groups reads the named group/role claim from a verified id_token.
// Providers differ on the claim name ("groups", "roles", "memberOf") and
// some encode a single group as a bare string, so both shapes are accepted.
// An absent or unusable claim yields nil rather than an error: group
// membership only gates the admin role upgrade.
func (a *Authenticator) Groups(idToken *gooidc.IDToken, claimName string) []string {
	if claimName == "" {
		return nil
	}
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil
	}

	switch v := raw[claimName].(type) {
	case []any:
		groups := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				groups = append(groups, s)
			}
		}
		return groups
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

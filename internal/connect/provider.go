package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ProviderConfig is injected once at startup.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	IssuerURL    string
	Scopes       []string
}

// TokenSet is the result of a successful code exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Identity is the verified subset of ID token claims.
type Identity struct {
	Email      string
	Name       string
	PictureURL string
}

// Provider is the identity provider side of the authorization handshake.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*TokenSet, error)
	VerifyIdentity(ctx context.Context, idToken string) (*Identity, error)
}

var ErrUnverifiedEmail = errors.New("identity email is not verified")

// GoogleProvider implements Provider with OIDC discovery against the configured issuer.
type GoogleProvider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogleProvider performs discovery; ctx only bounds that request.
func NewGoogleProvider(ctx context.Context, cfg ProviderConfig) (*GoogleProvider, error) {
	p, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.IssuerURL, err)
	}
	return newGoogleProvider(cfg, p.Endpoint(), p.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

func newGoogleProvider(cfg ProviderConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		verifier: verifier,
	}
}

// OAuth2Config exposes the client configuration so stored tokens can be refreshed later.
func (g *GoogleProvider) OAuth2Config() *oauth2.Config {
	return g.oauth
}

// AuthCodeURL asks for offline access and forces the consent screen so a refresh token is always returned.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.New("token response has no id_token")
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}, nil
}

// VerifyIdentity checks issuer, audience, expiry and signature, then requires a verified email.
func (g *GoogleProvider) VerifyIdentity(ctx context.Context, raw string) (*Identity, error) {
	idToken, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return nil, ErrUnverifiedEmail
	}
	return &Identity{Email: claims.Email, Name: claims.Name, PictureURL: claims.Picture}, nil
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/shared"
	"golang.org/x/oauth2"
)

// ErrCodeRejected is returned when the provider refuses an authorization code
// or answers the exchange without a refresh token.
var ErrCodeRejected = fmt.Errorf("%w: authorization code rejected", shared.ErrAuthFailed)

// TokenConfig describes the provider's OAuth client registration.
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// TokenManager performs the code exchange and refresh grants.
type TokenManager struct {
	config *oauth2.Config
	client *http.Client
}

// NewTokenManager creates a manager whose token requests go through client,
// so they share the provider client's retry and pacing policy.
func NewTokenManager(cfg TokenConfig, client *http.Client) *TokenManager {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenManager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: client,
	}
}

// Scopes returns the requested scopes in their wire form.
func (m *TokenManager) Scopes() string {
	return strings.Join(m.config.Scopes, " ")
}

// BuildAuthorizeURL returns the provider consent URL for a handshake.
func (m *TokenManager) BuildAuthorizeURL(state, challenge string) string {
	return m.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (m *TokenManager) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

// ExchangeCode trades an authorization code and its PKCE verifier for tokens.
func (m *TokenManager) ExchangeCode(ctx context.Context, code, verifier string) (*models.TokenSet, error) {
	if code == "" {
		return nil, shared.ErrMissingCode
	}

	tok, err := m.config.Exchange(m.ctx(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyTokenError(err, ErrCodeRejected)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token response has no refresh token", ErrCodeRejected)
	}
	return tokenSet(tok), nil
}

// RefreshAccessToken obtains a fresh access token. The returned RefreshToken
// differs from the input only when the provider rotated it.
func (m *TokenManager) RefreshAccessToken(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", shared.ErrReconnectRequired)
	}

	src := m.config.TokenSource(m.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err, shared.ErrReconnectRequired)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tokenSet(tok), nil
}

func tokenSet(tok *oauth2.Token) *models.TokenSet {
	ts := &models.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if ts.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// classifyTokenError separates credential rejections from failures worth
// retrying later. rejected is the kind used for a refused grant.
func classifyTokenError(err, rejected error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}

		switch {
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("%w: token endpoint returned %d: %w", shared.ErrTransient, status, err)
		case re.ErrorCode != "" || status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: %s", rejected, tokenErrorCode(re))
		}
	}
	return fmt.Errorf("%w: token request: %w", shared.ErrTransient, err)
}

func tokenErrorCode(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	if re.Response != nil {
		return re.Response.Status
	}
	return "unknown"
}

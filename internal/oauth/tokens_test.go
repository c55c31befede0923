package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/desertthunder/playsync/internal/shared"
	tu "github.com/desertthunder/playsync/internal/testing"
)

func newStubManager(stub *tu.SpotifyStub) *TokenManager {
	return NewTokenManager(TokenConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://127.0.0.1:3000/api/auth/spotify/callback",
		Scopes:       []string{"user-read-recently-played", "user-top-read"},
		AuthURL:      stub.AuthURL(),
		TokenURL:     stub.TokenURL(),
	}, &http.Client{})
}

func TestTokenManager(t *testing.T) {
	ctx := context.Background()

	t.Run("authorize URL", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)
		m := newStubManager(stub)

		raw := m.BuildAuthorizeURL("state-123", "challenge-abc")
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("failed to parse URL: %v", err)
		}

		q := u.Query()
		want := map[string]string{
			"client_id":             "client-id",
			"response_type":         "code",
			"redirect_uri":          "http://127.0.0.1:3000/api/auth/spotify/callback",
			"scope":                 "user-read-recently-played user-top-read",
			"state":                 "state-123",
			"code_challenge":        "challenge-abc",
			"code_challenge_method": "S256",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		if m.Scopes() != "user-read-recently-played user-top-read" {
			t.Errorf("Scopes() = %q", m.Scopes())
		}
	})

	t.Run("exchange sends verifier", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)
		m := newStubManager(stub)

		ts, err := m.ExchangeCode(ctx, "abc", "verifier-xyz")
		if err != nil {
			t.Fatalf("ExchangeCode() error = %v", err)
		}
		if ts.RefreshToken != "refresh-for-abc" {
			t.Errorf("RefreshToken = %q", ts.RefreshToken)
		}
		if ts.AccessToken == "" || ts.ExpiresIn <= 0 {
			t.Errorf("unexpected token set: %+v", ts)
		}
		if ts.Scope != "user-read-recently-played user-top-read" {
			t.Errorf("Scope = %q", ts.Scope)
		}

		forms := stub.TokenForms()
		if len(forms) != 1 {
			t.Fatalf("expected 1 token request, got %d", len(forms))
		}
		if forms[0].Get("code_verifier") != "verifier-xyz" {
			t.Errorf("code_verifier = %q", forms[0].Get("code_verifier"))
		}
		if forms[0].Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", forms[0].Get("grant_type"))
		}
	})

	t.Run("exchange without refresh token", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)
		stub.ExchangeNoRefresh = true

		_, err := newStubManager(stub).ExchangeCode(ctx, "abc", "verifier")
		if !errors.Is(err, ErrCodeRejected) {
			t.Errorf("expected ErrCodeRejected, got %v", err)
		}
	})

	t.Run("exchange rejected", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)
		stub.ExchangeError = "invalid_grant"

		_, err := newStubManager(stub).ExchangeCode(ctx, "abc", "verifier")
		if !errors.Is(err, ErrCodeRejected) || !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrCodeRejected, got %v", err)
		}
	})

	t.Run("refresh keeps token when not rotated", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)

		ts, err := newStubManager(stub).RefreshAccessToken(ctx, "refresh-1")
		if err != nil {
			t.Fatalf("RefreshAccessToken() error = %v", err)
		}
		if ts.RefreshToken != "refresh-1" {
			t.Errorf("RefreshToken = %q, want refresh-1", ts.RefreshToken)
		}

		forms := stub.TokenForms()
		if forms[0].Get("refresh_token") != "refresh-1" {
			t.Errorf("refresh_token sent = %q", forms[0].Get("refresh_token"))
		}
	})

	t.Run("refresh rotation", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)
		stub.RotatedRefresh = "refresh-2"

		ts, err := newStubManager(stub).RefreshAccessToken(ctx, "refresh-1")
		if err != nil {
			t.Fatalf("RefreshAccessToken() error = %v", err)
		}
		if ts.RefreshToken != "refresh-2" {
			t.Errorf("RefreshToken = %q, want refresh-2", ts.RefreshToken)
		}
	})

	t.Run("refresh failures", func(t *testing.T) {
		tests := []struct {
			name   string
			code   string
			status int
			want   error
		}{
			{"invalid grant", "invalid_grant", http.StatusBadRequest, shared.ErrReconnectRequired},
			{"revoked client", "invalid_client", http.StatusUnauthorized, shared.ErrReconnectRequired},
			{"provider outage", "server_error", http.StatusServiceUnavailable, shared.ErrTransient},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				stub := tu.NewSpotifyStub(t)
				stub.RefreshError = tt.code
				stub.RefreshStatus = tt.status

				_, err := newStubManager(stub).RefreshAccessToken(ctx, "refresh-1")
				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}
	})

	t.Run("refresh without stored token", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)

		_, err := newStubManager(stub).RefreshAccessToken(ctx, "")
		if !errors.Is(err, shared.ErrReconnectRequired) {
			t.Errorf("expected ErrReconnectRequired, got %v", err)
		}
		if len(stub.TokenForms()) != 0 {
			t.Error("no request should be sent without a refresh token")
		}
	})

	t.Run("unreachable token endpoint", func(t *testing.T) {
		stub := tu.NewSpotifyStub(t)
		m := newStubManager(stub)
		stub.Server.Close()

		_, err := m.RefreshAccessToken(ctx, "refresh-1")
		if !errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected ErrTransient, got %v", err)
		}
	})
}

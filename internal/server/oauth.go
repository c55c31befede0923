package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/oauth"
	"github.com/desertthunder/playsync/internal/shared"
)

// Connector is the authorization side of an integration, implemented by
// [oauth.Coordinator].
type Connector interface {
	Provider() string
	Connect(ctx context.Context, userID, returnURL string) (string, error)
	Callback(ctx context.Context, p oauth.CallbackParams) (*oauth.CallbackResult, error)
	Disconnect(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (*oauth.Status, error)
}

// OAuthHandler serves the browser side of the authorization handshake.
type OAuthHandler struct {
	connector Connector
	resolver  Resolver
	frontend  *url.URL
	logger    *log.Logger
}

// NewOAuthHandler creates a handler that redirects back to frontendURL once
// the provider returns. frontendURL must be absolute.
func NewOAuthHandler(connector Connector, resolver Resolver, frontendURL string, logger *log.Logger) (*OAuthHandler, error) {
	u, err := url.Parse(frontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: frontend url %q must be absolute", shared.ErrInvalidConfig, frontendURL)
	}
	return &OAuthHandler{
		connector: connector,
		resolver:  resolver,
		frontend:  u,
		logger:    logger,
	}, nil
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []Route {
	return []Route{
		{
			Method:  http.MethodGet,
			Path:    "/oauth/{provider}/connect",
			Handler: RequireUser(h.resolver, true)(h.provider(h.connect)),
		},
		{
			Method:  http.MethodGet,
			Path:    "/oauth/{provider}/callback",
			Handler: h.provider(h.callback),
		},
	}
}

// provider rejects paths naming a provider this handler does not serve.
func (h *OAuthHandler) provider(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("provider") != h.connector.Provider() {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		next(w, r)
	})
}

func (h *OAuthHandler) connect(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())

	returnURL := r.URL.Query().Get("returnUrl")
	if returnURL != "" && !h.sameOrigin(returnURL) {
		h.logger.Warn("ignoring foreign return url", "user_id", userID)
		returnURL = ""
	}

	target, err := h.connector.Connect(r.Context(), userID, returnURL)
	if err != nil {
		h.logger.Error("connect failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.connector.Callback(r.Context(), oauth.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	switch {
	case errors.Is(err, shared.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	case errors.Is(err, shared.ErrMissingCode):
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	case err != nil:
		h.logger.Error("callback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.Redirect(w, r, h.redirectTarget(res), http.StatusFound)
}

// redirectTarget builds the frontend URL reporting the handshake outcome.
func (h *OAuthHandler) redirectTarget(res *oauth.CallbackResult) string {
	base := *h.frontend
	base.Path = strings.TrimSuffix(base.Path, "/") + "/settings"
	base.RawPath, base.RawQuery = "", ""
	target := &base
	if res.ReturnURL != "" && h.sameOrigin(res.ReturnURL) {
		if u, err := url.Parse(res.ReturnURL); err == nil {
			target = u
		}
	}

	provider := h.connector.Provider()
	q := target.Query()
	if res.Connected {
		q.Set(provider+"_connected", "true")
	} else {
		q.Set(provider+"_error", res.Reason)
	}
	target.RawQuery = q.Encode()
	return target.String()
}

func (h *OAuthHandler) sameOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == h.frontend.Scheme && u.Host == h.frontend.Host
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/shared"
)

// ConnectionState is a user's position in the connection lifecycle.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StatePending        ConnectionState = "pending"
	StateConnected      ConnectionState = "connected"
	StateNeedsReconnect ConnectionState = "needs_reconnect"
)

// Callback failure reasons, forwarded to the frontend as "<provider>_error".
const (
	ReasonAccessDenied        = "access_denied"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonServerError         = "server_error"
)

// Exchanger is the token side of the handshake, implemented by [TokenManager].
type Exchanger interface {
	BuildAuthorizeURL(state, challenge string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*models.TokenSet, error)
	Scopes() string
}

// Sealer encrypts credentials before they are stored.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// IntegrationStore persists integration records.
type IntegrationStore interface {
	GetByUser(ctx context.Context, userID, provider string) (*models.Integration, error)
	Upsert(ctx context.Context, i *models.Integration) (*models.Integration, error)
	Deactivate(ctx context.Context, userID, provider string) (bool, error)
}

// CoordinatorOpts wires a [Coordinator].
type CoordinatorOpts struct {
	Provider     string
	Tokens       Exchanger
	States       StateStore
	Vault        Sealer
	Integrations IntegrationStore
	TTL          time.Duration
	Logger       *log.Logger
}

// Coordinator drives connect, callback, disconnect and status for one provider.
type Coordinator struct {
	provider     string
	tokens       Exchanger
	states       StateStore
	vault        Sealer
	integrations IntegrationStore
	ttl          time.Duration
	logger       *log.Logger
	now          func() time.Time
}

// NewCoordinator creates a [Coordinator]. A zero TTL selects [DefaultStateTTL].
func NewCoordinator(opts CoordinatorOpts) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultStateTTL
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Coordinator{
		provider:     opts.Provider,
		tokens:       opts.Tokens,
		states:       opts.States,
		vault:        opts.Vault,
		integrations: opts.Integrations,
		ttl:          opts.TTL,
		logger:       shared.WithLogger(opts.Logger, "provider", opts.Provider),
		now:          time.Now,
	}
}

// Provider returns the provider key this coordinator serves.
func (c *Coordinator) Provider() string {
	return c.provider
}

// Connect starts a handshake for userID and returns the provider consent URL.
func (c *Coordinator) Connect(ctx context.Context, userID, returnURL string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	if n, err := c.states.Purge(ctx); err != nil {
		c.logger.Warn("state purge failed", "error", err)
	} else if n > 0 {
		c.logger.Debug("purged expired states", "count", n)
	}

	st := AuthorizationState{
		State:        GenerateState(),
		CodeVerifier: GenerateVerifier(),
		UserID:       userID,
		ReturnURL:    returnURL,
		ExpiresAt:    c.now().Add(c.ttl),
	}
	if err := c.states.Save(ctx, st); err != nil {
		return "", err
	}

	c.logger.Info("connect_started", "user_id", userID)
	return c.tokens.BuildAuthorizeURL(st.State, DeriveChallenge(st.CodeVerifier)), nil
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// CallbackResult tells the caller where to send the user. Reason is set
// whenever Connected is false.
type CallbackResult struct {
	Connected bool
	UserID    string
	ReturnURL string
	Reason    string
}

func (r *CallbackResult) fill(st *AuthorizationState) *CallbackResult {
	if st != nil {
		r.UserID = st.UserID
		r.ReturnURL = st.ReturnURL
	}
	return r
}

// Callback completes a handshake. Malformed requests (missing or unknown
// state, missing code) return an error; every other outcome is reported in
// the result.
func (c *Coordinator) Callback(ctx context.Context, p CallbackParams) (*CallbackResult, error) {
	if p.Error != "" {
		var st *AuthorizationState
		if p.State != "" {
			st, _ = c.states.Consume(ctx, p.State)
		}
		res := (&CallbackResult{Reason: ReasonAccessDenied}).fill(st)
		c.logger.Info("connect_failed", "user_id", res.UserID, "reason", ReasonAccessDenied, "provider_error", p.Error)
		return res, nil
	}

	if p.State == "" {
		return nil, fmt.Errorf("%w: missing state", shared.ErrInvalidState)
	}

	st, err := c.states.Consume(ctx, p.State)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidState) {
			c.logger.Warn("connect_failed", "reason", "invalid_state")
			return nil, err
		}
		c.logger.Error("connect_failed", "reason", ReasonServerError, "error", err)
		return &CallbackResult{Reason: ReasonServerError}, nil
	}

	if p.Code == "" {
		return nil, shared.ErrMissingCode
	}

	tokens, err := c.tokens.ExchangeCode(ctx, p.Code, st.CodeVerifier)
	if err != nil {
		c.logger.Warn("connect_failed", "user_id", st.UserID, "reason", ReasonTokenExchangeFailed, "error", err)
		return (&CallbackResult{Reason: ReasonTokenExchangeFailed}).fill(st), nil
	}

	encrypted, err := c.vault.Encrypt(tokens.RefreshToken)
	if err != nil {
		c.logger.Error("connect_failed", "user_id", st.UserID, "reason", ReasonServerError, "error", err)
		return (&CallbackResult{Reason: ReasonServerError}).fill(st), nil
	}

	scopes := tokens.Scope
	if scopes == "" {
		scopes = c.tokens.Scopes()
	}

	if _, err := c.integrations.Upsert(ctx, models.NewIntegration(st.UserID, c.provider, encrypted, scopes)); err != nil {
		c.logger.Error("connect_failed", "user_id", st.UserID, "reason", ReasonServerError, "error", err)
		return (&CallbackResult{Reason: ReasonServerError}).fill(st), nil
	}

	c.logger.Info("connect_succeeded", "user_id", st.UserID)
	return (&CallbackResult{Connected: true}).fill(st), nil
}

// Disconnect deactivates the user's integration and discards its credential.
// Disconnecting an unknown or already disconnected user succeeds.
func (c *Coordinator) Disconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	changed, err := c.integrations.Deactivate(ctx, userID, c.provider)
	if err != nil {
		return err
	}
	c.logger.Info("disconnect", "user_id", userID, "changed", changed)
	return nil
}

// Status is the externally visible connection summary.
type Status struct {
	Connected    bool
	State        ConnectionState
	LastSyncedAt *time.Time
	Scopes       string
}

// ScopeList splits Scopes into individual scope names.
func (s *Status) ScopeList() []string {
	return strings.Fields(s.Scopes)
}

// Status reports the user's connection state. An integration whose
// credential was rejected stays Connected but reports [StateNeedsReconnect].
func (c *Coordinator) Status(ctx context.Context, userID string) (*Status, error) {
	rec, err := c.integrations.GetByUser(ctx, userID, c.provider)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	if rec != nil && rec.Connected() {
		st := &Status{
			Connected:    true,
			State:        StateConnected,
			LastSyncedAt: rec.LastSyncedAt(),
			Scopes:       rec.Scopes(),
		}
		if rec.NeedsReconnect() {
			st.State = StateNeedsReconnect
		}
		return st, nil
	}

	st := &Status{State: StateDisconnected}
	if rec != nil {
		st.LastSyncedAt = rec.LastSyncedAt()
	}
	if pending, err := c.states.Pending(ctx, userID); err != nil {
		c.logger.Warn("pending state lookup failed", "user_id", userID, "error", err)
	} else if pending {
		st.State = StatePending
	}
	return st, nil
}

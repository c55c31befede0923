package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/services"
	"github.com/desertthunder/playsync/internal/shared"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPageSize      = 50
	DefaultSyncTimeout   = 2 * time.Minute
	DefaultTopTracks     = 20
	MaxTopTracks         = 50
	msgNotConnected      = "not connected"
	msgReconnect         = "token refresh failed, please reconnect"
	msgRefreshRetry      = "token refresh failed, please try again or reconnect"
	msgFetchFailed       = "failed to fetch recently played tracks"
	msgSaveFailed        = "failed to save tracks"
	msgCredentialCorrupt = "stored credential is unreadable, please reconnect"
	msgCancelled         = "sync cancelled"
)

// SyncResult is the outcome of one sync pass.
type SyncResult struct {
	Success      bool       `json:"success"`
	TracksAdded  int        `json:"tracksAdded"`
	Fetched      int        `json:"fetched"`
	Message      string     `json:"message"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// TokenRefresher exchanges a refresh token for an access token.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*models.TokenSet, error)
}

// Cipher seals and opens stored credentials.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// IntegrationStore is the integration persistence used by the engine.
type IntegrationStore interface {
	GetByUser(ctx context.Context, userID, provider string) (*models.Integration, error)
	List(ctx context.Context, criteria map[string]any) ([]*models.Integration, error)
	MarkSynced(ctx context.Context, userID, provider string, at time.Time) error
	MarkNeedsReconnect(ctx context.Context, userID, provider string) error
	UpdateRefreshToken(ctx context.Context, userID, provider, encrypted string) error
}

// PlayStore is the play persistence used by the engine.
type PlayStore interface {
	InsertBatch(ctx context.Context, plays []*models.PlayRecord) (int, error)
	ExistingKeys(ctx context.Context, userID string, trackIDs []string) (map[string]struct{}, error)
	Recent(ctx context.Context, userID string, limit int) ([]*models.PlayRecord, error)
	Since(ctx context.Context, userID string, since time.Time) ([]*models.PlayRecord, error)
}

// EngineOpts wires an [Engine].
type EngineOpts struct {
	Provider     services.Provider
	Tokens       TokenRefresher
	Vault        Cipher
	Integrations IntegrationStore
	Plays        PlayStore
	PageSize     int
	SyncTimeout  time.Duration
	Logger       *log.Logger
}

// Engine syncs and queries play history for a single provider.
type Engine struct {
	provider     services.Provider
	tokens       TokenRefresher
	vault        Cipher
	integrations IntegrationStore
	plays        PlayStore
	pageSize     int
	syncTimeout  time.Duration
	logger       *log.Logger
	group        singleflight.Group
	now          func() time.Time
}

// NewEngine creates an [Engine]. A non-positive PageSize selects
// [DefaultPageSize] and a non-positive SyncTimeout [DefaultSyncTimeout].
func NewEngine(opts EngineOpts) *Engine {
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Engine{
		provider:     opts.Provider,
		tokens:       opts.Tokens,
		vault:        opts.Vault,
		integrations: opts.Integrations,
		plays:        opts.Plays,
		pageSize:     opts.PageSize,
		syncTimeout:  opts.SyncTimeout,
		logger:       shared.WithLogger(opts.Logger, "provider", opts.Provider.Name()),
		now:          time.Now,
	}
}

// Provider returns the provider key the engine syncs from.
func (e *Engine) Provider() string {
	return e.provider.Name()
}

type syncOutcome struct {
	result *SyncResult
	err    error
}

// Sync fetches the user's recent plays and stores the ones not seen before.
//
// The result is always non-nil; on failure Success is false, Message is
// suitable for display and the error carries the failure kind. Concurrent
// calls for the same user share one pass and its result. The shared pass is
// detached from every caller's cancellation and bounded by the engine's sync
// timeout; a caller whose ctx ends stops waiting without affecting the others.
func (e *Engine) Sync(ctx context.Context, userID string, progress chan<- ProgressUpdate) (*SyncResult, error) {
	if userID == "" {
		return &SyncResult{Message: "user id is required"}, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	sink := &progressSink{ch: progress}
	defer sink.detach()

	ch := e.group.DoChan(userID, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.syncTimeout)
		defer cancel()
		res, err := e.sync(pctx, userID, sink)
		return syncOutcome{result: res, err: err}, nil
	})

	select {
	case r := <-ch:
		if r.Shared {
			e.logger.Debug("shared in-flight sync", "user_id", userID)
		}
		out := r.Val.(syncOutcome)
		return out.result, out.err
	case <-ctx.Done():
		e.logger.Debug("stopped waiting for sync", "user_id", userID, "error", ctx.Err())
		return &SyncResult{Message: msgCancelled}, fmt.Errorf("%w: %w", shared.ErrTransient, ctx.Err())
	}
}

// accessToken loads the user's integration and trades its refresh token for
// an access token. On failure it returns a display message with the error.
func (e *Engine) accessToken(ctx context.Context, userID string, sink *progressSink) (string, string, error) {
	sink.send(loadIntegrationUpdate(e.provider.Name()))
	rec, err := e.integrations.GetByUser(ctx, userID, e.provider.Name())
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "", msgNotConnected, shared.ErrNotConnected
	case err != nil:
		return "", msgSaveFailed, err
	case !rec.Connected():
		return "", msgNotConnected, shared.ErrNotConnected
	}

	refreshToken, err := e.vault.Decrypt(rec.EncryptedRefreshToken())
	if err != nil {
		return "", msgCredentialCorrupt, fmt.Errorf("%w: %w", shared.ErrReconnectRequired, err)
	}

	sink.send(refreshTokenUpdate())
	tokens, err := e.tokens.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, shared.ErrReconnectRequired) {
			return "", msgReconnect, err
		}
		return "", msgRefreshRetry, err
	}

	if tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken {
		if err := e.storeRotatedToken(ctx, userID, tokens.RefreshToken); err != nil {
			e.logger.Error("failed to store rotated refresh token", "user_id", userID, "error", err)
		}
	}
	return tokens.AccessToken, "", nil
}

// flagReconnect records that the stored credential no longer works. The
// integration stays active with its token until the user reconnects or
// disconnects.
func (e *Engine) flagReconnect(ctx context.Context, userID string, err error) {
	if !errors.Is(err, shared.ErrReconnectRequired) {
		return
	}
	if ferr := e.integrations.MarkNeedsReconnect(ctx, userID, e.provider.Name()); ferr != nil {
		e.logger.Warn("failed to flag integration for reconnect", "user_id", userID, "error", ferr)
	}
}

func (e *Engine) sync(ctx context.Context, userID string, sink *progressSink) (*SyncResult, error) {
	started := e.now()
	logger := e.logger.With("user_id", userID)
	logger.Info("sync_started")

	fail := func(msg string, err error) (*SyncResult, error) {
		logger.Warn("sync_failed", "reason", msg, "error", err)
		e.flagReconnect(ctx, userID, err)
		return &SyncResult{Message: msg}, err
	}

	accessToken, msg, err := e.accessToken(ctx, userID, sink)
	if err != nil {
		return fail(msg, err)
	}

	sink.send(fetchHistoryUpdate(e.pageSize))
	items, err := e.provider.RecentlyPlayed(ctx, accessToken, e.pageSize)
	if err != nil {
		if errors.Is(err, shared.ErrReconnectRequired) {
			return fail(msgReconnect, err)
		}
		return fail(msgFetchFailed, err)
	}

	sink.send(deduplicateUpdate(len(items)))
	staged, err := e.stage(ctx, userID, items)
	if err != nil {
		return fail(msgSaveFailed, err)
	}

	added := 0
	if len(staged) > 0 {
		sink.send(savePlaysUpdate(len(staged)))
		if added, err = e.plays.InsertBatch(ctx, staged); err != nil {
			return fail(msgSaveFailed, err)
		}
	}

	syncedAt := e.now().UTC()
	if err := e.integrations.MarkSynced(ctx, userID, e.provider.Name(), syncedAt); err != nil {
		return fail(msgSaveFailed, err)
	}

	logger.Info("sync_succeeded", "fetched", len(items), "added", added, "duration", e.now().Sub(started))
	return &SyncResult{
		Success:      true,
		TracksAdded:  added,
		Fetched:      len(items),
		Message:      fmt.Sprintf("Synced %d new tracks", added),
		LastSyncedAt: &syncedAt,
	}, nil
}

func (e *Engine) storeRotatedToken(ctx context.Context, userID, refreshToken string) error {
	encrypted, err := e.vault.Encrypt(refreshToken)
	if err != nil {
		return err
	}
	return e.integrations.UpdateRefreshToken(ctx, userID, e.provider.Name(), encrypted)
}

// stage returns the records for items that are neither stored already nor
// repeated earlier in the same page.
func (e *Engine) stage(ctx context.Context, userID string, items []models.PlayedItem) ([]*models.PlayRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(items))
	seenID := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seenID[it.TrackID]; !ok {
			seenID[it.TrackID] = struct{}{}
			ids = append(ids, it.TrackID)
		}
	}

	existing, err := e.plays.ExistingKeys(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	staged := make([]*models.PlayRecord, 0, len(items))
	for _, it := range items {
		key := it.DedupKey()
		if _, ok := existing[key]; ok {
			continue
		}

		rec := models.NewPlayRecord(userID, e.provider.Name(), it)
		if err := rec.Validate(); err != nil {
			e.logger.Debug("skipping play", "user_id", userID, "track_id", it.TrackID, "error", err)
			continue
		}
		existing[key] = struct{}{}
		staged = append(staged, rec)
	}
	return staged, nil
}

// GetUserTopTracks returns the user's stored plays, most recent first. A
// non-positive limit selects [DefaultTopTracks]; larger values are capped at
// [MaxTopTracks].
func (e *Engine) GetUserTopTracks(ctx context.Context, userID string, limit int) ([]*models.PlayRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	return e.plays.Recent(ctx, userID, ClampTopTracks(limit))
}

// ProviderTopTracks returns the provider's own ranking of the user's most
// played tracks over timeRange. Items carry no play time and are not stored.
func (e *Engine) ProviderTopTracks(ctx context.Context, userID, timeRange string, limit int) ([]models.PlayedItem, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	accessToken, _, err := e.accessToken(ctx, userID, nil)
	if err != nil {
		e.flagReconnect(ctx, userID, err)
		return nil, err
	}

	items, err := e.provider.TopTracks(ctx, accessToken, timeRange, ClampTopTracks(limit))
	if err != nil {
		e.flagReconnect(ctx, userID, err)
		return nil, err
	}
	return items, nil
}

// NowPlaying returns the user's current playback, or nil when idle.
func (e *Engine) NowPlaying(ctx context.Context, userID string) (*services.NowPlaying, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	accessToken, _, err := e.accessToken(ctx, userID, nil)
	if err != nil {
		e.flagReconnect(ctx, userID, err)
		return nil, err
	}

	np, err := e.provider.CurrentlyPlaying(ctx, accessToken)
	if err != nil {
		e.flagReconnect(ctx, userID, err)
		return nil, err
	}
	return np, nil
}

// ClampTopTracks normalizes a requested top-tracks limit.
func ClampTopTracks(limit int) int {
	switch {
	case limit <= 0:
		return DefaultTopTracks
	case limit > MaxTopTracks:
		return MaxTopTracks
	default:
		return limit
	}
}

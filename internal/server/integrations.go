package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/services"
	"github.com/desertthunder/playsync/internal/shared"
	"github.com/desertthunder/playsync/internal/tasks"
)

// Syncer is the history side of an integration, implemented by [tasks.Engine].
type Syncer interface {
	Sync(ctx context.Context, userID string, progress chan<- tasks.ProgressUpdate) (*tasks.SyncResult, error)
	GetUserTopTracks(ctx context.Context, userID string, limit int) ([]*models.PlayRecord, error)
	Summary(ctx context.Context, userID string, now time.Time) (*tasks.Summary, error)
	ProviderTopTracks(ctx context.Context, userID, timeRange string, limit int) ([]models.PlayedItem, error)
	NowPlaying(ctx context.Context, userID string) (*services.NowPlaying, error)
}

// IntegrationsHandler serves the authenticated integration endpoints.
type IntegrationsHandler struct {
	connector Connector
	syncer    Syncer
	resolver  Resolver
	logger    *log.Logger
	now       func() time.Time
}

// NewIntegrationsHandler creates an [IntegrationsHandler].
func NewIntegrationsHandler(connector Connector, syncer Syncer, resolver Resolver, logger *log.Logger) *IntegrationsHandler {
	return &IntegrationsHandler{
		connector: connector,
		syncer:    syncer,
		resolver:  resolver,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *IntegrationsHandler) Routes() []Route {
	auth := RequireUser(h.resolver, false)
	route := func(method, path string, fn http.HandlerFunc) Route {
		return Route{Method: method, Path: "/integrations/{provider}" + path, Handler: auth(h.provider(fn))}
	}
	return []Route{
		route(http.MethodGet, "/status", h.status),
		route(http.MethodPost, "/sync", h.sync),
		route(http.MethodPost, "/disconnect", h.disconnect),
		route(http.MethodGet, "/top-tracks", h.topTracks),
		route(http.MethodGet, "/summary", h.summary),
		route(http.MethodGet, "/now-playing", h.nowPlaying),
	}
}

func (h *IntegrationsHandler) provider(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("provider") != h.connector.Provider() {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		next(w, r)
	})
}

type statusResponse struct {
	Connected    bool       `json:"connected"`
	State        string     `json:"state"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	Scopes       string     `json:"scopes"`
}

func (h *IntegrationsHandler) status(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())

	st, err := h.connector.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("status failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Connected:    st.Connected,
		State:        string(st.State),
		LastSyncedAt: st.LastSyncedAt,
		Scopes:       st.Scopes,
	})
}

type syncResponse struct {
	Success      bool       `json:"success"`
	TracksAdded  int        `json:"tracksAdded"`
	Message      string     `json:"message"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// syncStatus maps a sync failure kind to its HTTP status.
func syncStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotConnected), errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrReconnectRequired):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrTransient), errors.Is(err, shared.ErrRateLimited):
		return http.StatusServiceUnavailable
	case errors.Is(err, shared.ErrAPIRequest):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *IntegrationsHandler) sync(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())

	res, err := h.syncer.Sync(r.Context(), userID, nil)
	if err != nil {
		status := syncStatus(err)
		msg := "sync failed"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("sync failed", "user_id", userID, "error", err)
			msg = "sync failed"
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Success:      res.Success,
		TracksAdded:  res.TracksAdded,
		Message:      res.Message,
		LastSyncedAt: res.LastSyncedAt,
	})
}

func (h *IntegrationsHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())

	if err := h.connector.Disconnect(r.Context(), userID); err != nil {
		h.logger.Error("disconnect failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": h.connector.Provider() + " disconnected"})
}

// TrackResponse is the wire form of a stored play.
type TrackResponse struct {
	TrackID     string     `json:"trackId"`
	TrackName   string     `json:"trackName"`
	ArtistName  string     `json:"artistName"`
	AlbumName   string     `json:"albumName"`
	AlbumArtURL string     `json:"albumArtUrl"`
	URI         string     `json:"uri"`
	PlayedAt    *time.Time `json:"playedAt"`
}

func trackFromItem(it models.PlayedItem) TrackResponse {
	return TrackResponse{
		TrackID:     it.TrackID,
		TrackName:   it.TrackName,
		ArtistName:  it.ArtistName,
		AlbumName:   it.AlbumName,
		AlbumArtURL: it.AlbumArtURL,
		URI:         it.URI,
		PlayedAt:    it.PlayedAt,
	}
}

// providerError answers a failed live provider query.
func (h *IntegrationsHandler) providerError(w http.ResponseWriter, op, userID string, err error) {
	status := syncStatus(err)
	msg := "failed to get " + op
	switch {
	case errors.Is(err, shared.ErrNotConnected):
		msg = "not connected"
	case errors.Is(err, shared.ErrInvalidInput):
		msg = err.Error()
	case errors.Is(err, shared.ErrReconnectRequired):
		msg = "provider rejected the credential, please reconnect"
	case status == http.StatusInternalServerError:
		h.logger.Error(op+" failed", "user_id", userID, "error", err)
	}
	writeError(w, status, msg)
}

// topTracks serves stored plays, or with source=provider the provider's own
// ranking for the timeRange query parameter.
func (h *IntegrationsHandler) topTracks(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	switch q.Get("source") {
	case "", "history":
	case "provider":
		items, err := h.syncer.ProviderTopTracks(r.Context(), userID, q.Get("timeRange"), limit)
		if err != nil {
			h.providerError(w, "top tracks", userID, err)
			return
		}
		tracks := make([]TrackResponse, 0, len(items))
		for _, it := range items {
			tracks = append(tracks, trackFromItem(it))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
		return
	default:
		writeError(w, http.StatusBadRequest, "source must be history or provider")
		return
	}

	plays, err := h.syncer.GetUserTopTracks(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("top tracks failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get top tracks")
		return
	}

	tracks := make([]TrackResponse, 0, len(plays))
	for _, p := range plays {
		tracks = append(tracks, trackFromItem(p.Item()))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

type nowPlayingResponse struct {
	IsPlaying  bool           `json:"isPlaying"`
	ProgressMS int            `json:"progressMs"`
	Track      *TrackResponse `json:"track"`
}

func (h *IntegrationsHandler) nowPlaying(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())

	np, err := h.syncer.NowPlaying(r.Context(), userID)
	if err != nil {
		h.providerError(w, "now playing", userID, err)
		return
	}
	if np == nil {
		writeJSON(w, http.StatusOK, nowPlayingResponse{})
		return
	}

	track := trackFromItem(np.Item)
	writeJSON(w, http.StatusOK, nowPlayingResponse{
		IsPlaying:  np.IsPlaying,
		ProgressMS: np.Progress,
		Track:      &track,
	})
}

func (h *IntegrationsHandler) summary(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())

	sum, err := h.syncer.Summary(r.Context(), userID, h.now())
	if err != nil {
		h.logger.Error("summary failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get summary")
		return
	}

	writeJSON(w, http.StatusOK, sum)
}

// Spotify Web API implementation of [Provider]
//
// Responses are decoded by github.com/zmb3/spotify/v2; this file maps them
// onto [models.PlayedItem] and classifies failures.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/shared"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

const (
	SpotifyProvider = "spotify"

	SpotifyAuthURL  = "https://accounts.spotify.com/authorize"
	SpotifyTokenURL = "https://accounts.spotify.com/api/token"
	SpotifyAPIURL   = "https://api.spotify.com/v1"

	maxPageSize = 50
)

// Time ranges accepted by [SpotifyClient.TopTracks].
const (
	ShortTerm  = string(spotify.ShortTermRange)
	MediumTerm = string(spotify.MediumTermRange)
	LongTerm   = string(spotify.LongTermRange)
)

// SpotifyClient implements [Provider] for the Spotify Web API.
type SpotifyClient struct {
	httpClient *http.Client
	apiURL     string
	logger     *log.Logger
}

// NewSpotifyClient creates a client that sends every request through
// httpClient, normally built by [NewHTTPClient]. An empty apiURL selects the
// public API.
func NewSpotifyClient(httpClient *http.Client, apiURL string, logger *log.Logger) *SpotifyClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(ClientOpts{Policy: DefaultRetryPolicy()})
	}
	if apiURL == "" {
		apiURL = SpotifyAPIURL
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SpotifyClient{
		httpClient: httpClient,
		apiURL:     strings.TrimSuffix(apiURL, "/") + "/",
		logger:     shared.WithLogger(logger, "provider", SpotifyProvider),
	}
}

func (c *SpotifyClient) Name() string {
	return SpotifyProvider
}

// HTTPClient exposes the retrying client so the token endpoint shares its policy.
func (c *SpotifyClient) HTTPClient() *http.Client {
	return c.httpClient
}

// session is a per-call API client bound to one access token.
type session struct {
	api    *spotify.Client
	status *statusRecorder
}

func (c *SpotifyClient) session(accessToken string) *session {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rec := &statusRecorder{base: base}
	hc := &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   rec,
		},
	}
	return &session{api: spotify.New(hc, spotify.WithBaseURL(c.apiURL)), status: rec}
}

// RecentlyPlayed returns up to limit recent plays, newest first.
func (c *SpotifyClient) RecentlyPlayed(ctx context.Context, accessToken string, limit int) ([]models.PlayedItem, error) {
	s := c.session(accessToken)
	items, err := s.api.PlayerRecentlyPlayedOpt(ctx, &spotify.RecentlyPlayedOptions{Limit: spotify.Numeric(clampLimit(limit))})
	if err != nil {
		return nil, c.classify(ctx, "recently played", s.status.last(), err)
	}

	played := make([]models.PlayedItem, 0, len(items))
	for _, item := range items {
		if item.Track.ID == "" {
			continue
		}
		var at *time.Time
		if !item.PlayedAt.IsZero() {
			t := item.PlayedAt.UTC()
			at = &t
		}
		played = append(played, toPlayedItem(item.Track, item.Track.Album, at))
	}
	return played, nil
}

// TopTracks returns the user's top tracks for a time range (short_term,
// medium_term or long_term). Items carry no play time.
func (c *SpotifyClient) TopTracks(ctx context.Context, accessToken, timeRange string, limit int) ([]models.PlayedItem, error) {
	switch timeRange {
	case "":
		timeRange = MediumTerm
	case ShortTerm, MediumTerm, LongTerm:
	default:
		return nil, fmt.Errorf("%w: unknown time range %q", shared.ErrInvalidInput, timeRange)
	}

	s := c.session(accessToken)
	page, err := s.api.CurrentUsersTopTracks(ctx, spotify.Limit(clampLimit(limit)), spotify.Timerange(spotify.Range(timeRange)))
	if err != nil {
		return nil, c.classify(ctx, "top tracks", s.status.last(), err)
	}

	tracks := make([]models.PlayedItem, 0, len(page.Tracks))
	for _, t := range page.Tracks {
		tracks = append(tracks, toPlayedItem(t.SimpleTrack, t.Album, nil))
	}
	return tracks, nil
}

// CurrentlyPlaying returns nil when nothing is playing.
func (c *SpotifyClient) CurrentlyPlaying(ctx context.Context, accessToken string) (*NowPlaying, error) {
	s := c.session(accessToken)
	cp, err := s.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return nil, c.classify(ctx, "currently playing", s.status.last(), err)
	}
	if cp == nil || cp.Item == nil {
		return nil, nil
	}

	return &NowPlaying{
		Item:      toPlayedItem(cp.Item.SimpleTrack, cp.Item.Album, nil),
		IsPlaying: cp.Playing,
		Progress:  int(cp.Progress),
	}, nil
}

func toPlayedItem(t spotify.SimpleTrack, album spotify.SimpleAlbum, playedAt *time.Time) models.PlayedItem {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	item := models.PlayedItem{
		TrackID:    string(t.ID),
		TrackName:  t.Name,
		ArtistName: strings.Join(artists, ", "),
		AlbumName:  album.Name,
		URI:        string(t.URI),
		PlayedAt:   playedAt,
	}
	if len(album.Images) > 0 {
		item.AlbumArtURL = album.Images[0].URL
	}
	return item
}

// classify maps a failed call onto the shared error kinds.
func (c *SpotifyClient) classify(ctx context.Context, op string, status int, err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		status = apiErr.Status
	}

	var kind error
	switch {
	case ctx.Err() != nil:
		kind = shared.ErrTransient
		err = ctx.Err()
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = shared.ErrReconnectRequired
	case status == http.StatusTooManyRequests:
		kind = shared.ErrRateLimited
	case status >= 500:
		kind = shared.ErrTransient
	case status == 0:
		kind = shared.ErrTransient
	default:
		kind = shared.ErrAPIRequest
	}

	c.logger.Warn("provider request failed", "op", op, "status", status, "error", err)
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return maxPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// statusRecorder remembers the last response status seen by a session.
type statusRecorder struct {
	base http.RoundTripper

	mu     sync.Mutex
	status int
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req)
	if err == nil {
		r.mu.Lock()
		r.status = resp.StatusCode
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

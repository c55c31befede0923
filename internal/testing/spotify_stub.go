package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// StubPlay is one recently-played entry served by [SpotifyStub].
type StubPlay struct {
	TrackID  string
	Name     string
	Artists  []string
	Album    string
	ImageURL string
	PlayedAt time.Time
}

// SpotifyStub emulates the Spotify accounts and Web API endpoints used by
// playsync. Fields configure behavior and may be changed between calls.
type SpotifyStub struct {
	Server *httptest.Server

	mu sync.Mutex

	// Token endpoint behavior
	ExchangeError     string // OAuth error code returned for authorization_code grants
	ExchangeNoRefresh bool   // omit refresh_token from the exchange response
	RefreshError      string // OAuth error code returned for refresh_token grants
	RefreshStatus     int    // status used with RefreshError, default 400
	RotatedRefresh    string // refresh_token returned on refresh grants

	// Web API behavior
	Plays          []StubPlay
	TopTracks      []StubPlay
	NowPlaying     *StubPlay
	APIStatus      int    // forced status for API endpoints when non-zero
	RateLimitFirst int    // 429 responses before the recently-played endpoint succeeds
	RetryAfter     string // Retry-After header sent with 429

	tokenForms   []url.Values
	historyCalls []time.Time
	accessTokens []string
}

// NewSpotifyStub starts a stub server that is closed when the test ends.
func NewSpotifyStub(t *testing.T) *SpotifyStub {
	t.Helper()

	s := &SpotifyStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", s.token)
	mux.HandleFunc("GET /v1/me/player/recently-played", s.recentlyPlayed)
	mux.HandleFunc("GET /v1/me/top/tracks", s.topTracks)
	mux.HandleFunc("GET /v1/me/player/currently-playing", s.currentlyPlaying)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

func (s *SpotifyStub) AuthURL() string  { return s.Server.URL + "/authorize" }
func (s *SpotifyStub) TokenURL() string { return s.Server.URL + "/api/token" }
func (s *SpotifyStub) APIURL() string   { return s.Server.URL + "/v1" }

// TokenForms returns every form posted to the token endpoint.
func (s *SpotifyStub) TokenForms() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.tokenForms...)
}

// HistoryCalls returns the arrival time of each recently-played request.
func (s *SpotifyStub) HistoryCalls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.historyCalls...)
}

// AccessTokens returns the bearer tokens presented to the Web API.
func (s *SpotifyStub) AccessTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accessTokens...)
}

// Set runs fn with the stub locked so behavior can change mid-test.
func (s *SpotifyStub) Set(fn func(s *SpotifyStub)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *SpotifyStub) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	s.tokenForms = append(s.tokenForms, r.PostForm)
	n := len(s.tokenForms)
	exchangeErr, noRefresh := s.ExchangeError, s.ExchangeNoRefresh
	refreshErr, refreshStatus, rotated := s.RefreshError, s.RefreshStatus, s.RotatedRefresh
	s.mu.Unlock()

	if _, _, ok := r.BasicAuth(); !ok && r.PostForm.Get("client_id") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if exchangeErr != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": exchangeErr})
			return
		}
		if r.PostForm.Get("code_verifier") == "" || r.PostForm.Get("code") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		resp := map[string]any{
			"access_token": fmt.Sprintf("access-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "user-read-recently-played user-top-read",
		}
		if !noRefresh {
			resp["refresh_token"] = "refresh-for-" + r.PostForm.Get("code")
		}
		writeJSON(w, http.StatusOK, resp)

	case "refresh_token":
		if refreshErr != "" {
			status := refreshStatus
			if status == 0 {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, map[string]string{"error": refreshErr})
			return
		}
		resp := map[string]any{
			"access_token": fmt.Sprintf("access-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if rotated != "" {
			resp["refresh_token"] = rotated
		}
		writeJSON(w, http.StatusOK, resp)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

// authorize records the bearer token and applies the forced API status.
func (s *SpotifyStub) authorize(w http.ResponseWriter, r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, apiError(http.StatusUnauthorized, "No token provided"))
		return false
	}

	s.mu.Lock()
	s.accessTokens = append(s.accessTokens, token)
	status := s.APIStatus
	s.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, apiError(status, http.StatusText(status)))
		return false
	}
	return true
}

func apiError(status int, msg string) map[string]any {
	return map[string]any{"error": map[string]any{"status": status, "message": msg}}
}

func trackJSON(p StubPlay) map[string]any {
	artists := make([]map[string]string, 0, len(p.Artists))
	for _, a := range p.Artists {
		artists = append(artists, map[string]string{"name": a})
	}
	images := []map[string]any{}
	if p.ImageURL != "" {
		images = append(images, map[string]any{"url": p.ImageURL, "height": 640, "width": 640})
	}
	return map[string]any{
		"id":      p.TrackID,
		"name":    p.Name,
		"uri":     "spotify:track:" + p.TrackID,
		"artists": artists,
		"album":   map[string]any{"name": p.Album, "images": images},
	}
}

func limitParam(r *http.Request, n int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v < n {
		return v
	}
	return n
}

func (s *SpotifyStub) recentlyPlayed(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.historyCalls = append(s.historyCalls, time.Now())
	calls := len(s.historyCalls)
	limited, retryAfter := s.RateLimitFirst, s.RetryAfter
	plays := append([]StubPlay(nil), s.Plays...)
	s.mu.Unlock()

	if calls <= limited {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		writeJSON(w, http.StatusTooManyRequests, apiError(http.StatusTooManyRequests, "API rate limit exceeded"))
		return
	}
	if !s.authorize(w, r) {
		return
	}

	items := []map[string]any{}
	for _, p := range plays[:limitParam(r, len(plays))] {
		items = append(items, map[string]any{
			"track":     trackJSON(p),
			"played_at": p.PlayedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": len(items)})
}

func (s *SpotifyStub) topTracks(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	s.mu.Lock()
	tracks := append([]StubPlay(nil), s.TopTracks...)
	s.mu.Unlock()

	items := []map[string]any{}
	for _, p := range tracks[:limitParam(r, len(tracks))] {
		items = append(items, trackJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items), "limit": len(items)})
}

func (s *SpotifyStub) currentlyPlaying(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	s.mu.Lock()
	now := s.NowPlaying
	s.mu.Unlock()

	if now == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_playing":  true,
		"progress_ms": 42000,
		"timestamp":   now.PlayedAt.UnixMilli(),
		"item":        trackJSON(*now),
	})
}

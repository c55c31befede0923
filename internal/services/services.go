package services

import (
	"context"

	"github.com/desertthunder/playsync/internal/models"
)

// Provider reads listening data from a streaming service on behalf of a user
// holding a short-lived access token.
type Provider interface {
	// Name returns the provider key used in routes and storage (e.g. "spotify").
	Name() string

	// RecentlyPlayed returns up to limit of the user's most recent plays.
	RecentlyPlayed(ctx context.Context, accessToken string, limit int) ([]models.PlayedItem, error)

	// TopTracks returns the provider's own ranking of the user's top tracks.
	TopTracks(ctx context.Context, accessToken, timeRange string, limit int) ([]models.PlayedItem, error)

	// CurrentlyPlaying returns the track playing now, or nil when idle.
	CurrentlyPlaying(ctx context.Context, accessToken string) (*NowPlaying, error)
}

// NowPlaying is the provider's current playback state.
type NowPlaying struct {
	Item      models.PlayedItem
	IsPlaying bool
	Progress  int // milliseconds into the track
}

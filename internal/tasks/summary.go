package tasks

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/playsync/internal/shared"
)

const (
	summaryTopArtists = 5
	summaryTopTracks  = 10
)

// ArtistCount is an artist credit and how often it was played.
type ArtistCount struct {
	Artist    string `json:"artist"`
	PlayCount int    `json:"playCount"`
}

// TrackCount is a track and how often it was played.
type TrackCount struct {
	TrackID     string `json:"trackId"`
	TrackName   string `json:"trackName"`
	ArtistName  string `json:"artistName"`
	AlbumArtURL string `json:"albumArtUrl"`
	PlayCount   int    `json:"playCount"`
}

// Summary aggregates a user's plays over a calendar month.
type Summary struct {
	Period     string        `json:"period"` // YYYY-MM
	Since      time.Time     `json:"since"`
	TotalPlays int           `json:"totalPlays"`
	TopArtists []ArtistCount `json:"topArtists"`
	TopTracks  []TrackCount  `json:"topTracks"`
}

// MonthStart returns midnight UTC on the first day of now's month.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Summary reports the user's top 5 artists and top 10 tracks for the month
// containing now. Ties are ordered by name.
func (e *Engine) Summary(ctx context.Context, userID string, now time.Time) (*Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}

	since := MonthStart(now)
	plays, err := e.plays.Since(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	artists := make(map[string]int)
	tracks := make(map[string]*TrackCount)
	for _, p := range plays {
		artists[p.ArtistName()]++

		tc, ok := tracks[p.TrackID()]
		if !ok {
			tc = &TrackCount{
				TrackID:     p.TrackID(),
				TrackName:   p.TrackName(),
				ArtistName:  p.ArtistName(),
				AlbumArtURL: p.AlbumArtURL(),
			}
			tracks[p.TrackID()] = tc
		}
		tc.PlayCount++
	}

	topArtists := make([]ArtistCount, 0, len(artists))
	for name, n := range artists {
		topArtists = append(topArtists, ArtistCount{Artist: name, PlayCount: n})
	}
	slices.SortFunc(topArtists, func(a, b ArtistCount) int {
		return cmp.Or(cmp.Compare(b.PlayCount, a.PlayCount), cmp.Compare(a.Artist, b.Artist))
	})

	topTracks := make([]TrackCount, 0, len(tracks))
	for _, tc := range tracks {
		topTracks = append(topTracks, *tc)
	}
	slices.SortFunc(topTracks, func(a, b TrackCount) int {
		return cmp.Or(
			cmp.Compare(b.PlayCount, a.PlayCount),
			cmp.Compare(a.TrackName, b.TrackName),
			cmp.Compare(a.TrackID, b.TrackID),
		)
	})

	return &Summary{
		Period:     since.Format("2006-01"),
		Since:      since,
		TotalPlays: len(plays),
		TopArtists: topArtists[:min(len(topArtists), summaryTopArtists)],
		TopTracks:  topTracks[:min(len(topTracks), summaryTopTracks)],
	}, nil
}

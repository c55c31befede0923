package tasks

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/models"
)

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2024, 3, 31, 23, 59, 0, 0, time.FixedZone("EST", -5*3600)))
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("MonthStart() = %v, want %v", got, want)
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	integrations, plays, v := setupStores(t)
	engine := NewEngine(EngineOpts{
		Provider:     &blockingProvider{},
		Tokens:       staticTokens{},
		Vault:        v,
		Integrations: integrations,
		Plays:        plays,
		Logger:       log.New(io.Discard),
	})

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var batch []*models.PlayRecord
	add := func(userID, trackID, artist string, count int) {
		for range count {
			at = at.Add(time.Minute)
			played := at
			batch = append(batch, models.NewPlayRecord(userID, "spotify", models.PlayedItem{
				TrackID:     trackID,
				TrackName:   "Song " + trackID,
				ArtistName:  artist,
				AlbumArtURL: "https://img/" + trackID,
				PlayedAt:    &played,
			}))
		}
	}

	add("user-1", "t1", "Alpha", 4)
	add("user-1", "t2", "Beta", 3)
	add("user-1", "t3", "Alpha", 2)
	for i, artist := range []string{"C", "D", "E", "F", "G"} {
		add("user-1", "x"+artist, artist, 1+i%2)
	}
	for i := range 8 {
		add("user-1", "y"+string(rune('a'+i)), "Tail", 1)
	}
	add("user-2", "t1", "Alpha", 10)

	old := time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC)
	batch = append(batch, models.NewPlayRecord("user-1", "spotify", models.PlayedItem{
		TrackID: "t2", TrackName: "Song t2", ArtistName: "Beta", PlayedAt: &old,
	}))

	if _, err := plays.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	sum, err := engine.Summary(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	if sum.Period != "2024-03" {
		t.Errorf("Period = %q", sum.Period)
	}
	// 4+3+2 + (1+2+1+2+1) + 8
	if sum.TotalPlays != 24 {
		t.Errorf("TotalPlays = %d, want 24", sum.TotalPlays)
	}

	if len(sum.TopArtists) != 5 {
		t.Fatalf("expected 5 artists, got %d", len(sum.TopArtists))
	}
	wantArtists := []ArtistCount{{"Tail", 8}, {"Alpha", 6}, {"Beta", 3}, {"D", 2}, {"F", 2}}
	for i, want := range wantArtists {
		if sum.TopArtists[i] != want {
			t.Errorf("artist %d = %+v, want %+v", i, sum.TopArtists[i], want)
		}
	}

	if len(sum.TopTracks) != 10 {
		t.Fatalf("expected 10 tracks, got %d", len(sum.TopTracks))
	}
	first := sum.TopTracks[0]
	if first.TrackID != "t1" || first.PlayCount != 4 || first.AlbumArtURL != "https://img/t1" {
		t.Errorf("unexpected top track: %+v", first)
	}
	if sum.TopTracks[1].TrackID != "t2" || sum.TopTracks[1].PlayCount != 3 {
		t.Errorf("previous month plays leaked into counts: %+v", sum.TopTracks[1])
	}

	t.Run("no plays", func(t *testing.T) {
		sum, err := engine.Summary(ctx, "user-3", now)
		if err != nil {
			t.Fatalf("Summary() error = %v", err)
		}
		if sum.TotalPlays != 0 || len(sum.TopArtists) != 0 || len(sum.TopTracks) != 0 {
			t.Errorf("expected empty summary, got %+v", sum)
		}
	})
}

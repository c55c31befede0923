package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(shared.MemoryDatabase)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func playAt(trackID string, at time.Time) *models.PlayRecord {
	return models.NewPlayRecord("user-1", "spotify", models.PlayedItem{
		TrackID:    trackID,
		TrackName:  "Track " + trackID,
		ArtistName: "Artist A, Artist B",
		AlbumName:  "Album",
		URI:        "spotify:track:" + trackID,
		PlayedAt:   &at,
	})
}

func TestIntegrationRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		i := models.NewIntegration("user-1", "spotify", "enc", "user-top-read")

		if err := repo.Create(ctx, i); err != nil {
			t.Fatalf("failed to create integration: %v", err)
		}
		if i.ID() == "" {
			t.Fatal("integration ID should be set after creation")
		}

		got, err := repo.Get(ctx, i.ID())
		if err != nil {
			t.Fatalf("failed to get integration: %v", err)
		}
		if got.EncryptedRefreshToken() != "enc" || !got.IsActive() {
			t.Errorf("unexpected integration: token=%q active=%v", got.EncryptedRefreshToken(), got.IsActive())
		}
		if got.LastSyncedAt() != nil {
			t.Errorf("expected no last sync, got %v", got.LastSyncedAt())
		}
	})

	t.Run("Create duplicate user and provider", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		if err := repo.Create(ctx, models.NewIntegration("user-1", "spotify", "a", "")); err != nil {
			t.Fatalf("first create failed: %v", err)
		}

		err := repo.Create(ctx, models.NewIntegration("user-1", "spotify", "b", ""))
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("GetByUser not found", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		_, err := repo.GetByUser(ctx, "nobody", "spotify")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Upsert creates then replaces in place", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))

		first, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "token-1", "scope-a"))
		if err != nil {
			t.Fatalf("first upsert failed: %v", err)
		}

		if _, err := repo.Deactivate(ctx, "user-1", "spotify"); err != nil {
			t.Fatalf("deactivate failed: %v", err)
		}

		second, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "token-2", "scope-b"))
		if err != nil {
			t.Fatalf("second upsert failed: %v", err)
		}

		if second.ID() != first.ID() {
			t.Errorf("expected same row, got ids %s and %s", first.ID(), second.ID())
		}
		if second.EncryptedRefreshToken() != "token-2" || second.Scopes() != "scope-b" || !second.IsActive() {
			t.Errorf("reconnect did not replace credential: %+v", second)
		}

		all, _ := repo.List(ctx, map[string]any{"user_id": "user-1"})
		if len(all) != 1 {
			t.Errorf("expected one integration per user/provider, got %d", len(all))
		}
	})

	t.Run("Deactivate clears token and is idempotent", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		if _, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "token", "")); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		changed, err := repo.Deactivate(ctx, "user-1", "spotify")
		if err != nil || !changed {
			t.Fatalf("Deactivate() = %v, %v", changed, err)
		}

		got, _ := repo.GetByUser(ctx, "user-1", "spotify")
		if got.IsActive() || got.EncryptedRefreshToken() != "" || got.Connected() {
			t.Errorf("expected inactive integration without token, got active=%v token=%q", got.IsActive(), got.EncryptedRefreshToken())
		}

		changed, err = repo.Deactivate(ctx, "user-1", "spotify")
		if err != nil || changed {
			t.Errorf("second Deactivate() = %v, %v; want false, nil", changed, err)
		}

		changed, err = repo.Deactivate(ctx, "nobody", "spotify")
		if err != nil || changed {
			t.Errorf("Deactivate() on missing row = %v, %v; want false, nil", changed, err)
		}
	})

	t.Run("MarkSynced and UpdateRefreshToken", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		if _, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "old", "")); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		if err := repo.MarkSynced(ctx, "user-1", "spotify", at); err != nil {
			t.Fatalf("MarkSynced() error = %v", err)
		}
		if err := repo.UpdateRefreshToken(ctx, "user-1", "spotify", "new"); err != nil {
			t.Fatalf("UpdateRefreshToken() error = %v", err)
		}

		got, _ := repo.GetByUser(ctx, "user-1", "spotify")
		if got.LastSyncedAt() == nil || !got.LastSyncedAt().Equal(at) {
			t.Errorf("expected last sync %v, got %v", at, got.LastSyncedAt())
		}
		if got.EncryptedRefreshToken() != "new" {
			t.Errorf("expected rotated token, got %q", got.EncryptedRefreshToken())
		}

		if err := repo.MarkSynced(ctx, "nobody", "spotify", at); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MarkNeedsReconnect is cleared by sync and reconnect", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		if _, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "old", "")); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		if err := repo.MarkNeedsReconnect(ctx, "user-1", "spotify"); err != nil {
			t.Fatalf("MarkNeedsReconnect() error = %v", err)
		}
		got, _ := repo.GetByUser(ctx, "user-1", "spotify")
		if !got.NeedsReconnect() || !got.IsActive() || got.EncryptedRefreshToken() != "old" {
			t.Errorf("flag should be set with the record otherwise intact: %+v", got)
		}

		if err := repo.MarkSynced(ctx, "user-1", "spotify", time.Now()); err != nil {
			t.Fatalf("MarkSynced() error = %v", err)
		}
		if got, _ := repo.GetByUser(ctx, "user-1", "spotify"); got.NeedsReconnect() {
			t.Error("a successful sync should clear the flag")
		}

		repo.MarkNeedsReconnect(ctx, "user-1", "spotify")
		if _, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "fresh", "")); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		if got, _ := repo.GetByUser(ctx, "user-1", "spotify"); got.NeedsReconnect() {
			t.Error("reconnecting should clear the flag")
		}

		repo.Deactivate(ctx, "user-1", "spotify")
		if err := repo.MarkNeedsReconnect(ctx, "user-1", "spotify"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("inactive integration: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateRefreshToken skips inactive integrations", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		if _, err := repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "old", "")); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		repo.Deactivate(ctx, "user-1", "spotify")

		if err := repo.UpdateRefreshToken(ctx, "user-1", "spotify", "new"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update and Delete", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		i := models.NewIntegration("user-1", "spotify", "enc", "")
		if err := repo.Create(ctx, i); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		i.SetScopes("user-read-recently-played")
		if err := repo.Update(ctx, i); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		got, _ := repo.Get(ctx, i.ID())
		if got.Scopes() != "user-read-recently-played" {
			t.Errorf("expected updated scopes, got %q", got.Scopes())
		}

		if err := repo.Delete(ctx, i.ID()); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if err := repo.Delete(ctx, i.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("List filters by active", func(t *testing.T) {
		repo := NewIntegrationRepository(setupTestDB(t))
		repo.Upsert(ctx, models.NewIntegration("user-1", "spotify", "a", ""))
		repo.Upsert(ctx, models.NewIntegration("user-2", "spotify", "b", ""))
		repo.Deactivate(ctx, "user-2", "spotify")

		active, err := repo.List(ctx, map[string]any{"provider": "spotify", "active": true})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(active) != 1 || active[0].UserID() != "user-1" {
			t.Errorf("expected only user-1 active, got %d rows", len(active))
		}
	})
}

func TestPlayRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("Create rejects duplicate dedup key", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		if err := repo.Create(ctx, playAt("t1", base)); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		err := repo.Create(ctx, playAt("t1", base))
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}

		if err := repo.Create(ctx, playAt("t1", base.Add(time.Minute))); err != nil {
			t.Errorf("same track at another time should be stored: %v", err)
		}
	})

	t.Run("Get round trips optional fields", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		p := models.NewPlayRecord("user-1", "spotify", models.PlayedItem{TrackID: "t1", TrackName: "Song"})
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		got, err := repo.Get(ctx, p.ID())
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.PlayedAt() != nil || got.AlbumArtURL() != "" || got.URI() != "" {
			t.Errorf("expected empty optional fields, got %+v", got.Item())
		}

		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InsertBatch ignores stored plays", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		first := []*models.PlayRecord{playAt("t1", base), playAt("t2", base.Add(time.Minute))}

		n, err := repo.InsertBatch(ctx, first)
		if err != nil || n != 2 {
			t.Fatalf("InsertBatch() = %d, %v; want 2", n, err)
		}

		second := []*models.PlayRecord{playAt("t1", base), playAt("t3", base.Add(2*time.Minute))}
		n, err = repo.InsertBatch(ctx, second)
		if err != nil || n != 1 {
			t.Fatalf("InsertBatch() = %d, %v; want 1", n, err)
		}

		count, _ := repo.Count(ctx, "user-1")
		if count != 3 {
			t.Errorf("expected 3 stored plays, got %d", count)
		}
	})

	t.Run("InsertBatch rolls back on invalid record", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		bad := models.NewPlayRecord("user-1", "spotify", models.PlayedItem{TrackID: "t2"})

		if _, err := repo.InsertBatch(ctx, []*models.PlayRecord{playAt("t1", base), bad}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}

		count, _ := repo.Count(ctx, "user-1")
		if count != 0 {
			t.Errorf("expected rollback, got %d plays", count)
		}
	})

	t.Run("Exists and ExistingKeys", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		stored := playAt("t1", base)
		repo.Create(ctx, stored)

		at := base
		ok, err := repo.Exists(ctx, "user-1", "t1", &at)
		if err != nil || !ok {
			t.Errorf("Exists() = %v, %v; want true", ok, err)
		}

		other := base.Add(time.Second)
		if ok, _ := repo.Exists(ctx, "user-1", "t1", &other); ok {
			t.Error("expected no play at a different time")
		}
		if ok, _ := repo.Exists(ctx, "user-2", "t1", &at); ok {
			t.Error("plays must be scoped to the user")
		}

		keys, err := repo.ExistingKeys(ctx, "user-1", []string{"t1", "t9"})
		if err != nil {
			t.Fatalf("ExistingKeys() error = %v", err)
		}
		if _, ok := keys[stored.DedupKey()]; !ok || len(keys) != 1 {
			t.Errorf("expected only %s, got %v", stored.DedupKey(), keys)
		}
	})

	t.Run("Recent orders most recent first", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		repo.InsertBatch(ctx, []*models.PlayRecord{
			playAt("old", base),
			playAt("newest", base.Add(2*time.Hour)),
			playAt("middle", base.Add(time.Hour)),
		})

		plays, err := repo.Recent(ctx, "user-1", 2)
		if err != nil {
			t.Fatalf("Recent() error = %v", err)
		}
		if len(plays) != 2 || plays[0].TrackID() != "newest" || plays[1].TrackID() != "middle" {
			t.Errorf("unexpected order: %v", trackIDs(plays))
		}
	})

	t.Run("Since filters by played_at", func(t *testing.T) {
		repo := NewPlayRepository(setupTestDB(t))
		repo.InsertBatch(ctx, []*models.PlayRecord{
			playAt("february", base.AddDate(0, -1, 0)),
			playAt("march", base),
		})

		plays, err := repo.Since(ctx, "user-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("Since() error = %v", err)
		}
		if len(plays) != 1 || plays[0].TrackID() != "march" {
			t.Errorf("unexpected plays: %v", trackIDs(plays))
		}
	})
}

func trackIDs(plays []*models.PlayRecord) []string {
	ids := make([]string, len(plays))
	for i, p := range plays {
		ids[i] = p.TrackID()
	}
	return ids
}

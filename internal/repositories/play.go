package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/shared"
)

const playColumns = `id, user_id, provider, external_track_id, track_name, artist_name, album_name, album_art_url, external_uri, played_at, created_at`

// lookupChunk keeps IN (...) lists under SQLite's bound parameter limit.
const lookupChunk = 500

// PlayRepository persists append-only [models.PlayRecord] history.
type PlayRepository struct {
	db *sql.DB
}

// NewPlayRepository creates a new [PlayRepository] with the given database connection
func NewPlayRepository(db *sql.DB) *PlayRepository {
	return &PlayRepository{db: db}
}

func scanPlay(s scanner) (*models.PlayRecord, error) {
	var (
		id, userID, provider, trackID, trackName, artistName, albumName string
		albumArtURL, uri, playedAt                                      sql.NullString
		createdAt                                                       time.Time
	)

	err := s.Scan(&id, &userID, &provider, &trackID, &trackName, &artistName, &albumName, &albumArtURL, &uri, &playedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	item := models.PlayedItem{
		TrackID:     trackID,
		TrackName:   trackName,
		ArtistName:  artistName,
		AlbumName:   albumName,
		AlbumArtURL: albumArtURL.String,
		URI:         uri.String,
	}
	if playedAt.Valid {
		t, err := models.ParsePlayedAt(playedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid played_at %q: %w", playedAt.String, err)
		}
		item.PlayedAt = &t
	}

	p := models.NewPlayRecord(userID, provider, item)
	p.SetID(id)
	p.SetCreatedAt(createdAt)
	return p, nil
}

func playedAtArg(p *models.PlayRecord) sql.NullString {
	if p.PlayedAt() == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: models.FormatPlayedAt(*p.PlayedAt()), Valid: true}
}

func playArgs(p *models.PlayRecord) []any {
	return []any{
		p.ID(), p.UserID(), p.Provider(), p.TrackID(), p.TrackName(), p.ArtistName(), p.AlbumName(),
		nullString(p.AlbumArtURL()), nullString(p.URI()), playedAtArg(p), p.CreatedAt(),
	}
}

// Create inserts a single play. A play already stored under the same
// (user, track, played_at) key returns [ErrDuplicate].
func (r *PlayRepository) Create(ctx context.Context, p *models.PlayRecord) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if p.ID() == "" {
		p.SetID(shared.GenerateID())
	}

	query := `INSERT INTO plays (` + playColumns + `) VALUES (` + placeholders(11) + `)`
	if _, err := r.db.ExecContext(ctx, query, playArgs(p)...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: play %s", ErrDuplicate, p.DedupKey())
		}
		return persistenceError("insert play", err)
	}
	return nil
}

// Get retrieves a play by ID.
func (r *PlayRepository) Get(ctx context.Context, id string) (*models.PlayRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+playColumns+` FROM plays WHERE id = ?`, id)
	p, err := scanPlay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("play", id)
	}
	if err != nil {
		return nil, persistenceError("query play", err)
	}
	return p, nil
}

// InsertBatch stores plays in a single transaction. Rows that collide with
// the dedup index are skipped. It returns the number of rows written.
func (r *PlayRepository) InsertBatch(ctx context.Context, plays []*models.PlayRecord) (int, error) {
	if len(plays) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistenceError("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO plays (`+playColumns+`) VALUES (`+placeholders(11)+`)`)
	if err != nil {
		return 0, persistenceError("prepare play insert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range plays {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		if p.ID() == "" {
			p.SetID(shared.GenerateID())
		}

		result, err := stmt.ExecContext(ctx, playArgs(p)...)
		if err != nil {
			return 0, persistenceError("insert play", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, persistenceError("read affected rows", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, persistenceError("commit plays", err)
	}
	return inserted, nil
}

// Exists reports whether a play with the given dedup key is stored.
// A nil playedAt matches rows whose played_at is NULL.
func (r *PlayRepository) Exists(ctx context.Context, userID, trackID string, playedAt *time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM plays WHERE user_id = ? AND external_track_id = ? AND played_at IS ?)`
	var at sql.NullString
	if playedAt != nil {
		at = sql.NullString{String: models.FormatPlayedAt(*playedAt), Valid: true}
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, trackID, at).Scan(&exists); err != nil {
		return false, persistenceError("check play", err)
	}
	return exists, nil
}

// ExistingKeys returns the dedup keys ([models.PlayedItem.DedupKey]) already
// stored for userID among the given track ids.
func (r *PlayRepository) ExistingKeys(ctx context.Context, userID string, trackIDs []string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	for start := 0; start < len(trackIDs); start += lookupChunk {
		end := min(start+lookupChunk, len(trackIDs))
		chunk := trackIDs[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		query := `SELECT external_track_id, played_at FROM plays WHERE user_id = ? AND external_track_id IN (` + placeholders(len(chunk)) + `)`
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, persistenceError("query existing plays", err)
		}

		for rows.Next() {
			var trackID string
			var playedAt sql.NullString
			if err := rows.Scan(&trackID, &playedAt); err != nil {
				rows.Close()
				return nil, persistenceError("scan existing play", err)
			}
			keys[trackID+"|"+playedAt.String] = struct{}{}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, persistenceError("iterate existing plays", err)
		}
	}
	return keys, nil
}

// Recent returns up to limit plays for userID, most recent first.
func (r *PlayRepository) Recent(ctx context.Context, userID string, limit int) ([]*models.PlayRecord, error) {
	return r.List(ctx, map[string]any{"user_id": userID, "limit": limit})
}

// Since returns every play for userID at or after since, most recent first.
func (r *PlayRepository) Since(ctx context.Context, userID string, since time.Time) ([]*models.PlayRecord, error) {
	return r.List(ctx, map[string]any{"user_id": userID, "since": since})
}

// Count returns the number of stored plays for userID.
func (r *PlayRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plays WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, persistenceError("count plays", err)
	}
	return n, nil
}

// List retrieves plays filtered by "user_id", "track_id", "since" (time.Time)
// and "limit" (int) criteria, ordered by played_at descending.
func (r *PlayRepository) List(ctx context.Context, criteria map[string]any) ([]*models.PlayRecord, error) {
	query := `SELECT ` + playColumns + ` FROM plays WHERE 1 = 1`
	args := []any{}

	if userID, ok := criteria["user_id"].(string); ok && userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if trackID, ok := criteria["track_id"].(string); ok && trackID != "" {
		query += " AND external_track_id = ?"
		args = append(args, trackID)
	}
	if since, ok := criteria["since"].(time.Time); ok {
		query += " AND played_at >= ?"
		args = append(args, models.FormatPlayedAt(since))
	}

	query += " ORDER BY played_at DESC, created_at DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("query plays", err)
	}
	defer rows.Close()

	var plays []*models.PlayRecord
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, persistenceError("scan play", err)
		}
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate plays", err)
	}
	return plays, nil
}

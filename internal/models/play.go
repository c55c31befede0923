package models

import (
	"fmt"
	"time"
)

// PlayedAtLayout is the fixed-width UTC layout used to store play times so
// that equality and lexical ordering match chronological order.
const PlayedAtLayout = "2006-01-02T15:04:05.000000000Z"

// FormatPlayedAt renders t in [PlayedAtLayout].
func FormatPlayedAt(t time.Time) string {
	return t.UTC().Format(PlayedAtLayout)
}

// ParsePlayedAt is the inverse of [FormatPlayedAt].
func ParsePlayedAt(s string) (time.Time, error) {
	return time.Parse(PlayedAtLayout, s)
}

// PlayedItem is a single play event reported by a provider.
type PlayedItem struct {
	TrackID     string
	TrackName   string
	ArtistName  string // Comma-joined artist names
	AlbumName   string
	AlbumArtURL string
	URI         string
	PlayedAt    *time.Time
}

// DedupKey identifies a play within a single user's history.
func (p PlayedItem) DedupKey() string {
	if p.PlayedAt == nil {
		return p.TrackID + "|"
	}
	return p.TrackID + "|" + FormatPlayedAt(*p.PlayedAt)
}

// PlayRecord is a persisted play. Records are never updated.
type PlayRecord struct {
	id        string
	userID    string
	provider  string
	item      PlayedItem
	createdAt time.Time
}

// NewPlayRecord stages a [PlayRecord] for userID from a provider item.
func NewPlayRecord(userID, provider string, item PlayedItem) *PlayRecord {
	if item.PlayedAt != nil {
		t := item.PlayedAt.UTC()
		item.PlayedAt = &t
	}
	return &PlayRecord{userID: userID, provider: provider, item: item, createdAt: time.Now().UTC()}
}

func (p *PlayRecord) ID() string           { return p.id }
func (p *PlayRecord) UserID() string       { return p.userID }
func (p *PlayRecord) Provider() string     { return p.provider }
func (p *PlayRecord) Item() PlayedItem     { return p.item }
func (p *PlayRecord) TrackID() string      { return p.item.TrackID }
func (p *PlayRecord) TrackName() string    { return p.item.TrackName }
func (p *PlayRecord) ArtistName() string   { return p.item.ArtistName }
func (p *PlayRecord) AlbumName() string    { return p.item.AlbumName }
func (p *PlayRecord) AlbumArtURL() string  { return p.item.AlbumArtURL }
func (p *PlayRecord) URI() string          { return p.item.URI }
func (p *PlayRecord) PlayedAt() *time.Time { return p.item.PlayedAt }
func (p *PlayRecord) DedupKey() string     { return p.item.DedupKey() }
func (p *PlayRecord) CreatedAt() time.Time { return p.createdAt }

// UpdatedAt equals CreatedAt since plays are append-only.
func (p *PlayRecord) UpdatedAt() time.Time { return p.createdAt }

func (p *PlayRecord) SetID(id string)          { p.id = id }
func (p *PlayRecord) SetCreatedAt(t time.Time) { p.createdAt = t }

// Validate checks the fields required by the plays table.
func (p *PlayRecord) Validate() error {
	switch {
	case p.userID == "":
		return fmt.Errorf("play user id is required")
	case p.item.TrackID == "":
		return fmt.Errorf("play track id is required")
	case p.item.TrackName == "":
		return fmt.Errorf("play track name is required")
	}
	return nil
}

package models

import (
	"fmt"
	"time"
)

// Integration links a user to a streaming provider account.
//
// The refresh token is only ever held encrypted. An inactive integration
// carries no token.
type Integration struct {
	id                    string
	userID                string
	provider              string
	encryptedRefreshToken string
	scopes                string
	active                bool
	needsReconnect        bool
	lastSyncedAt          *time.Time
	createdAt             time.Time
	updatedAt             time.Time
}

// NewIntegration creates an active [Integration] for a freshly exchanged credential.
func NewIntegration(userID, provider, encryptedRefreshToken, scopes string) *Integration {
	now := time.Now().UTC()
	return &Integration{
		userID:                userID,
		provider:              provider,
		encryptedRefreshToken: encryptedRefreshToken,
		scopes:                scopes,
		active:                true,
		createdAt:             now,
		updatedAt:             now,
	}
}

func (i *Integration) ID() string                    { return i.id }
func (i *Integration) UserID() string                { return i.userID }
func (i *Integration) Provider() string              { return i.provider }
func (i *Integration) EncryptedRefreshToken() string { return i.encryptedRefreshToken }
func (i *Integration) Scopes() string                { return i.scopes }
func (i *Integration) IsActive() bool                { return i.active }
func (i *Integration) NeedsReconnect() bool          { return i.needsReconnect }
func (i *Integration) LastSyncedAt() *time.Time      { return i.lastSyncedAt }
func (i *Integration) CreatedAt() time.Time          { return i.createdAt }
func (i *Integration) UpdatedAt() time.Time          { return i.updatedAt }

func (i *Integration) SetID(id string)                   { i.id = id }
func (i *Integration) SetEncryptedRefreshToken(s string) { i.encryptedRefreshToken = s }
func (i *Integration) SetScopes(s string)                { i.scopes = s }
func (i *Integration) SetActive(a bool)                  { i.active = a }
func (i *Integration) SetNeedsReconnect(b bool)          { i.needsReconnect = b }
func (i *Integration) SetLastSyncedAt(t *time.Time)      { i.lastSyncedAt = t }
func (i *Integration) SetCreatedAt(t time.Time)          { i.createdAt = t }
func (i *Integration) SetUpdatedAt(t time.Time)          { i.updatedAt = t }

// Connected reports whether the integration can be used for sync.
func (i *Integration) Connected() bool {
	return i.active && i.encryptedRefreshToken != ""
}

// Validate checks required fields and the active/token invariant.
func (i *Integration) Validate() error {
	if i.userID == "" {
		return fmt.Errorf("integration user id is required")
	}
	if i.provider == "" {
		return fmt.Errorf("integration provider is required")
	}
	if i.active && i.encryptedRefreshToken == "" {
		return fmt.Errorf("active integration requires a refresh token")
	}
	return nil
}

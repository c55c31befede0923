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

const integrationColumns = `id, user_id, provider, encrypted_refresh_token, scopes, is_active, needs_reconnect, last_synced_at, created_at, updated_at`

// IntegrationRepository implements [models.Repository] for [models.Integration] persistence.
type IntegrationRepository struct {
	db *sql.DB
}

// NewIntegrationRepository creates a new [IntegrationRepository] with the given database connection
func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

func scanIntegration(s scanner) (*models.Integration, error) {
	var (
		id, userID, provider, scopes string
		token                        sql.NullString
		active, needsReconnect       bool
		lastSyncedAt                 sql.NullTime
		createdAt, updatedAt         time.Time
	)

	if err := s.Scan(&id, &userID, &provider, &token, &scopes, &active, &needsReconnect, &lastSyncedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	i := models.NewIntegration(userID, provider, token.String, scopes)
	i.SetID(id)
	i.SetActive(active)
	i.SetNeedsReconnect(needsReconnect)
	i.SetCreatedAt(createdAt)
	i.SetUpdatedAt(updatedAt)
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		i.SetLastSyncedAt(&t)
	}
	return i, nil
}

// Create inserts a new integration with a generated ID.
func (r *IntegrationRepository) Create(ctx context.Context, i *models.Integration) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if i.ID() == "" {
		i.SetID(shared.GenerateID())
	}

	query := `
		INSERT INTO integrations (id, user_id, provider, encrypted_refresh_token, scopes, is_active, needs_reconnect, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		i.ID(), i.UserID(), i.Provider(), nullString(i.EncryptedRefreshToken()), i.Scopes(),
		i.IsActive(), i.NeedsReconnect(), i.LastSyncedAt(), i.CreatedAt(), i.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: integration for user %s and provider %s", ErrDuplicate, i.UserID(), i.Provider())
		}
		return persistenceError("insert integration", err)
	}
	return nil
}

// Get retrieves an integration by ID.
func (r *IntegrationRepository) Get(ctx context.Context, id string) (*models.Integration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	i, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("integration", id)
	}
	if err != nil {
		return nil, persistenceError("query integration", err)
	}
	return i, nil
}

// GetByUser retrieves the integration for a user and provider, active or not.
func (r *IntegrationRepository) GetByUser(ctx context.Context, userID, provider string) (*models.Integration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? AND provider = ?`,
		userID, provider,
	)
	i, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("integration", userID+"/"+provider)
	}
	if err != nil {
		return nil, persistenceError("query integration", err)
	}
	return i, nil
}

// Update overwrites the mutable fields of an existing integration.
func (r *IntegrationRepository) Update(ctx context.Context, i *models.Integration) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE integrations
		SET encrypted_refresh_token = ?, scopes = ?, is_active = ?, needs_reconnect = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		nullString(i.EncryptedRefreshToken()), i.Scopes(), i.IsActive(), i.NeedsReconnect(), i.LastSyncedAt(), now, i.ID(),
	)
	if err != nil {
		return persistenceError("update integration", err)
	}
	if err := expectRows(result, "integration", i.ID()); err != nil {
		return err
	}
	i.SetUpdatedAt(now)
	return nil
}

// Delete removes an integration row. Disconnect uses [IntegrationRepository.Deactivate] instead.
func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
	if err != nil {
		return persistenceError("delete integration", err)
	}
	return expectRows(result, "integration", id)
}

// List retrieves integrations filtered by "user_id", "provider" and "active" criteria.
func (r *IntegrationRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE 1 = 1`
	args := []any{}

	if userID, ok := criteria["user_id"].(string); ok && userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if provider, ok := criteria["provider"].(string); ok && provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}
	if active, ok := criteria["active"].(bool); ok {
		query += " AND is_active = ?"
		args = append(args, active)
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("query integrations", err)
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, persistenceError("scan integration", err)
		}
		integrations = append(integrations, i)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate integrations", err)
	}
	return integrations, nil
}

// Upsert stores the credential for (user, provider), creating the row on
// first connect and reactivating it on reconnect. A reconnect clears the
// needs-reconnect flag. It returns the stored row.
func (r *IntegrationRepository) Upsert(ctx context.Context, i *models.Integration) (*models.Integration, error) {
	if err := i.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if i.ID() == "" {
		i.SetID(shared.GenerateID())
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO integrations (id, user_id, provider, encrypted_refresh_token, scopes, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			scopes = excluded.scopes,
			is_active = excluded.is_active,
			needs_reconnect = 0,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		i.ID(), i.UserID(), i.Provider(), nullString(i.EncryptedRefreshToken()), i.Scopes(), i.IsActive(), now, now,
	)
	if err != nil {
		return nil, persistenceError("upsert integration", err)
	}
	return r.GetByUser(ctx, i.UserID(), i.Provider())
}

// Deactivate clears the stored credential and marks the integration inactive.
// It reports whether a row was changed; deactivating twice is not an error.
func (r *IntegrationRepository) Deactivate(ctx context.Context, userID, provider string) (bool, error) {
	query := `
		UPDATE integrations
		SET is_active = 0, needs_reconnect = 0, encrypted_refresh_token = NULL, updated_at = ?
		WHERE user_id = ? AND provider = ? AND (is_active = 1 OR encrypted_refresh_token IS NOT NULL)
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID, provider)
	if err != nil {
		return false, persistenceError("deactivate integration", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistenceError("read affected rows", err)
	}
	return n > 0, nil
}

// MarkSynced records a completed sync at the given time and clears the
// needs-reconnect flag.
func (r *IntegrationRepository) MarkSynced(ctx context.Context, userID, provider string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE integrations SET last_synced_at = ?, needs_reconnect = 0, updated_at = ? WHERE user_id = ? AND provider = ?`,
		at.UTC(), at.UTC(), userID, provider,
	)
	if err != nil {
		return persistenceError("mark integration synced", err)
	}
	return expectRows(result, "integration", userID+"/"+provider)
}

// MarkNeedsReconnect flags an active integration whose credential the
// provider rejected. Activity, token and timestamps are left as they are.
func (r *IntegrationRepository) MarkNeedsReconnect(ctx context.Context, userID, provider string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE integrations SET needs_reconnect = 1 WHERE user_id = ? AND provider = ? AND is_active = 1`,
		userID, provider,
	)
	if err != nil {
		return persistenceError("flag integration for reconnect", err)
	}
	return expectRows(result, "active integration", userID+"/"+provider)
}

// UpdateRefreshToken stores a rotated refresh token for an active integration.
func (r *IntegrationRepository) UpdateRefreshToken(ctx context.Context, userID, provider, encrypted string) error {
	if encrypted == "" {
		return fmt.Errorf("%w: empty refresh token", shared.ErrInvalidInput)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE integrations SET encrypted_refresh_token = ?, updated_at = ? WHERE user_id = ? AND provider = ? AND is_active = 1`,
		encrypted, time.Now().UTC(), userID, provider,
	)
	if err != nil {
		return persistenceError("update refresh token", err)
	}
	return expectRows(result, "active integration", userID+"/"+provider)
}

func expectRows(result sql.Result, kind, key string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return persistenceError("read affected rows", err)
	}
	if n == 0 {
		return notFound(kind, key)
	}
	return nil
}

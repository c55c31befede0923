// Package repositories implements SQLite persistence for playsync entities.
//
// Key Implementations:
//   - [IntegrationRepository] : one row per (user, provider) with the encrypted refresh token
//   - [PlayRepository] : append-only play history deduplicated by (user, track, played_at)
//
// Driver failures are wrapped with [shared.ErrPersistence] and missing rows
// with [shared.ErrNotFound] so callers can branch with errors.Is.
package repositories

// Package tasks synchronizes a user's recent plays from a streaming provider
// into local storage and answers listening-history queries.
//
// # Sync
//
// [Engine.Sync] runs one pass for a user:
//
//  1. Load the integration; inactive or missing records fail with shared.ErrNotConnected
//  2. Decrypt the stored refresh token and exchange it for an access token
//     - A rotated refresh token is re-encrypted and saved
//     - A rejected token flags the integration for reconnect and leaves it active
//  3. Fetch one page of recently played tracks
//  4. Drop plays already stored and duplicates within the page
//  5. Insert the remainder in one transaction and stamp last_synced_at
//
// Re-running a sync with no new plays adds nothing. Plays without a played_at
// are matched against stored plays of the same track that also lack one.
//
// Concurrent syncs for the same user collapse into one provider round trip via
// singleflight. The shared pass runs detached from the callers' contexts under
// its own timeout, so a caller that gives up does not fail the others.
//
// [Engine.SyncAll] fans a sync out over every connected user with a bounded
// worker pool.
//
// # Progress Reporting
//
// All operations accept an optional progress channel. Updates are sent with
// select/default so a slow reader never blocks a sync.
//
// # Queries
//
// [Engine.GetUserTopTracks] returns stored plays most recent first, and
// [Engine.Summary] aggregates the current month into top artists and tracks.
// [Engine.ProviderTopTracks] and [Engine.NowPlaying] query the provider live
// and store nothing.
package tasks

// Package models defines domain entities and persistence interfaces for playsync.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): values exchanged with the streaming provider
//   - [PlayedItem] : one play event as reported by the provider
//   - [TokenSet] : access/refresh token pair returned by the token endpoint
//
// 2. Persistent Entities: database-backed models
//   - [Integration] : a user's connection to a provider, holding the encrypted refresh token
//   - [PlayRecord] : an append-only play history entry keyed by (user, track, played_at)
//
// Persistent entities implement the [Model] interface. [Repository] is the
// standard CRUD contract for their stores.
package models

// Package services implements outbound clients for music streaming providers.
//
// # Provider Interface
//
// [Provider] is the read side of a streaming service: recently played
// tracks, the provider's top tracks and the current playback state. Every
// call takes a short-lived access token; token refresh lives in the oauth
// package.
//
// # Spotify Implementation
//
// [SpotifyClient] decodes Web API responses with github.com/zmb3/spotify/v2
// and maps them to [models.PlayedItem]. Responses are classified into the
// shared error kinds:
//   - 401, 403: [shared.ErrReconnectRequired]
//   - 429 after retries: [shared.ErrRateLimited]
//   - 5xx, timeouts and transport failures: [shared.ErrTransient]
//   - anything else: [shared.ErrAPIRequest]
//
// # Retries
//
// [NewHTTPClient] returns the client shared by the Web API and the token
// endpoint. Its [RetryTransport] retries 429 and transient failures with
// exponential backoff (2, 4, 8 seconds) unless the response carries
// Retry-After. Each attempt has its own timeout.
package services

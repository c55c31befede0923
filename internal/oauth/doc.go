// Package oauth runs the provider authorization handshake.
//
// A connect request produces a PKCE verifier and a random state, parks both in
// a [StateStore] for ten minutes and redirects the user to the provider. The
// callback consumes the state exactly once, exchanges the code with the
// verifier through the [TokenManager] and stores the refresh token encrypted
// on the user's integration record.
//
// Connection lifecycle:
//
//	Disconnected -> Pending -> Connected
//	Connected -> NeedsReconnect -> Connected | Disconnected
//
// A rejected credential flags the integration as NeedsReconnect while leaving
// it active with its token; only an explicit disconnect deactivates it. A
// successful sync or a new handshake clears the flag.
package oauth

// Package server exposes integrations over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so
// path wildcards such as {provider} are available through [http.Request.PathValue].
//
// # Handler Interface
//
// Feature handlers implement [Handler] and return their [Route] table, which
// keeps route definitions next to the code serving them:
//
//   - [HealthHandler]: GET /healthz
//   - [OAuthHandler]: GET /oauth/{provider}/connect and /callback
//   - [IntegrationsHandler]: status, sync, disconnect, top-tracks and summary
//     under /integrations/{provider}
//
// A {provider} segment that does not match the configured provider is a 404.
//
// # Identity
//
// Callers are identified by a bearer token mapped to a user id through a
// [Resolver]. [RequireUser] stores the id in the request context. The connect
// route also accepts ?token= for popup windows; the callback route is public
// because the provider, not the user, calls it.
//
// # Errors
//
// Error bodies are {"error": "<message>"} with stable messages. Sync failures
// map to 400 (not connected), 401 (reconnect required), 502/503 (provider
// failure) and 500.
package server

package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/playsync/internal/shared"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Route binds a method and path pattern to a handler. Path may contain
// [http.ServeMux] wildcards such as {provider}.
type Route struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Pattern returns the [http.ServeMux] pattern for the route.
func (r Route) Pattern() string {
	if r.Method == "" {
		return r.Path
	}
	return r.Method + " " + r.Path
}

// Handler groups related routes so a feature registers as a unit.
type Handler interface {
	Routes() []Route
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers every route of a Handler
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// New creates an [http.Server] for handler with the configured address and timeouts.
func New(cfg shared.ServerConfig, handler http.Handler) *http.Server {
	read := time.Duration(cfg.ReadTimeout) * time.Second
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// HealthHandler serves the liveness check.
type HealthHandler struct{}

func (HealthHandler) Routes() []Route {
	return []Route{{Method: http.MethodGet, Path: "/healthz", Handler: http.HandlerFunc(health)}}
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// APIOpts wires the HTTP API.
type APIOpts struct {
	Connector   Connector
	Syncer      Syncer
	Resolver    Resolver
	FrontendURL string
	Logger      *log.Logger
}

// NewAPI builds the router serving the health, OAuth and integration routes.
func NewAPI(opts APIOpts) (*BasicRouter, error) {
	oauthHandler, err := NewOAuthHandler(opts.Connector, opts.Resolver, opts.FrontendURL, opts.Logger)
	if err != nil {
		return nil, err
	}

	router := NewBasicRouter()
	router.Use(Recoverer(opts.Logger), RequestLogger(opts.Logger))
	router.Handler(HealthHandler{})
	router.Handler(oauthHandler)
	router.Handler(NewIntegrationsHandler(opts.Connector, opts.Syncer, opts.Resolver, opts.Logger))
	return router, nil
}

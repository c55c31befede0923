package shared

import "fmt"

var (
	ErrNotFound = fmt.Errorf("record not found")

	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authorization handshake errors
	ErrInvalidState = fmt.Errorf("invalid or expired authorization state")
	ErrMissingCode  = fmt.Errorf("missing authorization code")
	ErrAuthFailed   = fmt.Errorf("authentication failed")
	ErrUnauthorized = fmt.Errorf("caller identity could not be resolved")

	// Credential lifecycle errors
	ErrReconnectRequired = fmt.Errorf("provider credential invalid, reconnect required")
	ErrNotConnected      = fmt.Errorf("provider not connected")

	// Provider and transport errors
	ErrTransient   = fmt.Errorf("transient provider failure")
	ErrRateLimited = fmt.Errorf("provider rate limit exceeded")
	ErrAPIRequest  = fmt.Errorf("API request failed")

	// Storage errors
	ErrPersistence = fmt.Errorf("persistence failure")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

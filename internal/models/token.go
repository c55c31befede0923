package models

// TokenSet is the result of a code exchange or refresh grant.
//
// RefreshToken may be empty on refresh when the provider does not rotate it.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds
	Scope        string
}

package domain

import (
	"encoding/json"
	"time"
)

// RegistrationGitHub is the only OAuth2 client registration this service knows
const RegistrationGitHub = "github"

// AuthKind tags the variants of Authentication
type AuthKind int

const (
	// AuthNone means no session was presented or it failed validation
	AuthNone AuthKind = iota
	// AuthOAuth2 is a session created by an OAuth2 login
	AuthOAuth2
	// AuthOther is a valid session that was not created by an OAuth2 login
	AuthOther
)

func (k AuthKind) String() string {
	switch k {
	case AuthOAuth2:
		return "oauth2"
	case AuthOther:
		return "other"
	default:
		return "none"
	}
}

// Authentication is the per-request identity handed over by the session layer.
// It is read-only for everything downstream.
type Authentication struct {
	Kind           AuthKind
	Principal      string
	RegistrationID string
}

// Anonymous returns the unauthenticated variant
func Anonymous() Authentication {
	return Authentication{Kind: AuthNone}
}

// OAuth2Session returns an authenticated OAuth2 variant
func OAuth2Session(principal, registrationID string) Authentication {
	return Authentication{Kind: AuthOAuth2, Principal: principal, RegistrationID: registrationID}
}

// OtherSession returns an authenticated, non-OAuth2 variant
func OtherSession(principal string) Authentication {
	return Authentication{Kind: AuthOther, Principal: principal}
}

// IsAuthenticated reports whether any valid session is present
func (a Authentication) IsAuthenticated() bool {
	return a.Kind != AuthNone && a.Principal != ""
}

// AccessToken is a bearer credential read from the token store
type AccessToken struct {
	Value     string
	ExpiresAt time.Time // zero when the provider issued a non-expiring token
}

// UpstreamResponse is one answer from the upstream API
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// CurrentUserResponse is the payload of GET /api/user
type CurrentUserResponse struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            json.RawMessage `json:"user"`
}

// TokenResponse is the payload of GET /api/github-token
type TokenResponse struct {
	Token string `json:"token"`
}

// LogoutResponse is the payload of POST /api/logout
type LogoutResponse struct {
	Message string `json:"message"`
}

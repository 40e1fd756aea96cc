package domain

import (
	"context"
)

// ============================================================================
// Primary Ports (Application Use Cases)
// ============================================================================

// ProxyService authenticates the caller, resolves their GitHub token and
// performs one upstream read on their behalf
type ProxyService interface {
	GetCurrentUser(ctx context.Context, auth Authentication) (*CurrentUserResponse, error)
	GetToken(ctx context.Context, auth Authentication) (*TokenResponse, error)
	Logout(ctx context.Context) *LogoutResponse
	ProxyGet(ctx context.Context, auth Authentication, path string) (*UpstreamResponse, error)
}

// ============================================================================
// Secondary Ports (Infrastructure Dependencies)
// ============================================================================

// TokenStore maps (registration, principal) to a usable access token.
// A miss is reported as ErrClientNotFound. Refresh and expiry are the
// store's concern.
type TokenStore interface {
	LoadAccessToken(ctx context.Context, registrationID, principal string) (*AccessToken, error)
}

// UpstreamAPI issues authenticated GET requests against the upstream REST API
type UpstreamAPI interface {
	Get(ctx context.Context, accessToken, path string) (*UpstreamResponse, error)
}

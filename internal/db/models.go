package db

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizedClient is a stored OAuth2 grant for one principal of one client
// registration. Token fields hold ciphertext when encryption is enabled.
type AuthorizedClient struct {
	ID             string     `json:"id" db:"id"`
	RegistrationID string     `json:"registration_id" db:"registration_id"`
	PrincipalName  string     `json:"principal_name" db:"principal_name"`
	AccessToken    string     `json:"-" db:"access_token"`
	TokenType      string     `json:"token_type" db:"token_type"`
	RefreshToken   string     `json:"-" db:"refresh_token"`
	ExpiresAt      *time.Time `json:"expires_at" db:"expires_at"` // nil for non-expiring tokens
	Scopes         string     `json:"scopes" db:"scopes"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// NewAuthorizedClient creates a new authorized client record
func NewAuthorizedClient(registrationID, principalName, accessToken string) *AuthorizedClient {
	now := time.Now()
	return &AuthorizedClient{
		ID:             uuid.New().String(),
		RegistrationID: registrationID,
		PrincipalName:  principalName,
		AccessToken:    accessToken,
		TokenType:      "bearer",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Expired reports whether the access token is past its expiry at now
func (c *AuthorizedClient) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

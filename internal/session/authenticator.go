package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/arceon/internal/config"
	"github.com/arceon/internal/domain"
	"github.com/go-pkgz/auth"
	"github.com/go-pkgz/auth/avatar"
	"github.com/go-pkgz/auth/middleware"
	"github.com/go-pkgz/auth/token"
	"golang.org/x/oauth2"
)

const (
	issuer = "arceon"

	// registrationAttr marks sessions created by an OAuth2 login
	registrationAttr = "oauth2_registration"

	tokenDuration  = 15 * time.Minute
	cookieDuration = 7 * 24 * time.Hour
)

// ClientStore is the part of the token store the session layer writes to
type ClientStore interface {
	SaveAuthorizedClient(ctx context.Context, registrationID, principal string, tok *oauth2.Token) error
	RemoveAuthorizedClient(ctx context.Context, registrationID, principal string) error
}

// Profile is the identity a login establishes
type Profile struct {
	Login     string
	ID        string
	Name      string
	AvatarURL string
}

// Authenticator turns go-pkgz/auth session cookies into domain.Authentication
type Authenticator struct {
	service        *auth.Service
	authMiddleware middleware.Authenticator
	clients        ClientStore
	logger         *slog.Logger
}

// NewAuthenticator creates the JWT cookie session layer
func NewAuthenticator(cfg config.AuthConfig, clients ClientStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}

	opts := auth.Opts{
		SecretReader: token.SecretFunc(func(id string) (string, error) {
			return cfg.JWTSecret, nil
		}),
		TokenDuration:  tokenDuration,  // re-issued from the cookie while it lives
		CookieDuration: cookieDuration, // Cookie valid for 7 days
		Issuer:         issuer,
		URL:            baseURL,
		AvatarStore:    avatar.NewNoOp(),
		SecureCookies:  cfg.SecureCookie,
		DisableXSRF:    true,              // Disable for API usage
		AdminPasswd:    cfg.AdminPassword, // basic auth as "admin", not OAuth2 backed
		Validator: token.ValidatorFunc(func(_ string, claims token.Claims) bool {
			if claims.User == nil {
				logger.Warn("JWT validation failed: no user in claims")
				return false
			}
			return true
		}),
	}

	svc := auth.NewService(opts)

	// Session user ids are "<provider>_<id>"; the middleware rejects any
	// provider prefix that is not registered. The go-pkgz login handlers are
	// never mounted, LoginFlow drives the GitHub exchange itself.
	svc.AddProvider(domain.RegistrationGitHub, cfg.GitHub.ClientID, cfg.GitHub.ClientSecret)

	return &Authenticator{
		service:        svc,
		authMiddleware: svc.Middleware(), // copy taken after providers are added
		clients:        clients,
		logger:         logger,
	}
}

// Authenticate reads the session of the request. It never fails: a missing,
// expired or forged session yields domain.Anonymous(). Expired tokens inside
// the cookie lifetime are renewed on w.
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request) domain.Authentication {
	result := domain.Anonymous()

	handler := a.authMiddleware.Trace(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if u, err := token.GetUserInfo(r); err == nil {
			result = toAuthentication(u)
		}
	}))
	handler.ServeHTTP(w, r)

	return result
}

// StartSession issues the session cookie for a completed OAuth2 login
func (a *Authenticator) StartSession(w http.ResponseWriter, registrationID string, profile Profile) error {
	user := &token.User{
		ID:      registrationID + "_" + profile.ID,
		Name:    profile.Login,
		Picture: profile.AvatarURL,
	}
	user.SetStrAttr(registrationAttr, registrationID)
	if profile.Name != "" {
		user.SetStrAttr("display_name", profile.Name)
	}

	// Issuer, expiry and issued-at are filled by the token service
	claims := token.Claims{User: user}
	_, err := a.service.TokenService().Set(w, claims)
	return err
}

// Logout clears the session cookies and forgets the caller's stored grant.
// Store failures are logged, never returned.
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request) {
	current := a.Authenticate(w, r)
	a.service.TokenService().Reset(w)

	if current.Kind != domain.AuthOAuth2 || a.clients == nil {
		return
	}
	if err := a.clients.RemoveAuthorizedClient(r.Context(), current.RegistrationID, current.Principal); err != nil {
		a.logger.WarnContext(r.Context(), "failed to remove authorized client on logout",
			"principal", current.Principal,
			"error", err,
		)
		return
	}
	a.logger.InfoContext(r.Context(), "user logged out", "principal", current.Principal)
}

func toAuthentication(u token.User) domain.Authentication {
	principal := u.Name
	if principal == "" {
		principal = u.ID
	}
	if registrationID := u.StrAttr(registrationAttr); registrationID != "" {
		return domain.OAuth2Session(principal, registrationID)
	}
	return domain.OtherSession(principal)
}

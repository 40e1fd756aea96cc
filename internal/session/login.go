package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arceon/internal/apipaths"
	"github.com/arceon/internal/config"
	"github.com/arceon/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

const nonceCookieName = "arceon_oauth_nonce"

// OAuth error codes reported to the frontend
const (
	errAccessDenied   = "access_denied"
	errInvalidRequest = "invalid_request"
	errServerError    = "server_error"
)

// NewGitHubOAuthConfig builds the GitHub client registration. It returns nil
// when no client credentials are configured.
func NewGitHubOAuthConfig(cfg config.AuthConfig) *oauth2.Config {
	if !cfg.Enabled() {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		Endpoint:     githuboauth.Endpoint,
		RedirectURL:  cfg.BaseURL + apipaths.Callback(domain.RegistrationGitHub),
		Scopes:       cfg.GitHub.Scopes,
	}
}

// LoginFlow runs the OAuth2 authorization code login against GitHub
type LoginFlow struct {
	oauth        *oauth2.Config
	state        *stateSigner
	sessions     *Authenticator
	clients      ClientStore
	profiles     domain.UpstreamAPI
	frontendURL  string
	secureCookie bool
	logger       *slog.Logger
}

// NewLoginFlow creates the login flow. oauthCfg may be nil, in which case
// Begin reports domain.ErrLoginUnavailable.
func NewLoginFlow(cfg config.AuthConfig, oauthCfg *oauth2.Config, sessions *Authenticator, clients ClientStore, profiles domain.UpstreamAPI, logger *slog.Logger) *LoginFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginFlow{
		oauth: oauthCfg,
		state: &stateSigner{
			key:    []byte(cfg.JWTSecret),
			issuer: issuer,
			now:    time.Now,
		},
		sessions:     sessions,
		clients:      clients,
		profiles:     profiles,
		frontendURL:  strings.TrimRight(cfg.FrontendURL, "/"),
		secureCookie: cfg.SecureCookie,
		logger:       logger,
	}
}

// Enabled reports whether GitHub login is configured
func (l *LoginFlow) Enabled() bool {
	return l.oauth != nil
}

// Begin redirects the browser to GitHub. The optional "redirect" query
// parameter is a frontend-relative path to land on after login.
func (l *LoginFlow) Begin(w http.ResponseWriter, r *http.Request) error {
	if !l.Enabled() {
		return domain.ErrLoginUnavailable
	}

	nonce := uuid.NewString()
	state, err := l.state.sign(nonce, sanitizeRedirect(r.URL.Query().Get("redirect")))
	if err != nil {
		return fmt.Errorf("failed to sign oauth state: %w", err)
	}

	http.SetCookie(w, l.nonceCookie(nonce, int(stateLifetime/time.Second)))
	http.Redirect(w, r, l.oauth.AuthCodeURL(state), http.StatusFound)
	return nil
}

// Callback completes the login. It always answers with a redirect to the
// frontend; failures carry an OAuth error code in the "error" parameter.
func (l *LoginFlow) Callback(w http.ResponseWriter, r *http.Request) {
	// The nonce is single use
	http.SetCookie(w, l.nonceCookie("", -1))

	if !l.Enabled() {
		l.fail(w, r, errServerError, domain.ErrLoginUnavailable)
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		code := errServerError
		if providerErr == errAccessDenied {
			code = errAccessDenied
		}
		l.fail(w, r, code, fmt.Errorf("provider returned %s: %s", providerErr, query.Get("error_description")))
		return
	}

	var nonce string
	if cookie, err := r.Cookie(nonceCookieName); err == nil {
		nonce = cookie.Value
	}
	claims, err := l.state.verify(query.Get("state"), nonce)
	if err != nil {
		l.fail(w, r, errInvalidRequest, err)
		return
	}

	code := query.Get("code")
	if code == "" {
		l.fail(w, r, errInvalidRequest, errors.New("missing authorization code"))
		return
	}

	ctx := r.Context()
	tok, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		l.fail(w, r, errServerError, fmt.Errorf("code exchange failed: %w", err))
		return
	}

	profile, err := l.fetchProfile(ctx, tok.AccessToken)
	if err != nil {
		l.fail(w, r, errServerError, err)
		return
	}

	if err := l.clients.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, profile.Login, tok); err != nil {
		l.fail(w, r, errServerError, err)
		return
	}

	if err := l.sessions.StartSession(w, domain.RegistrationGitHub, *profile); err != nil {
		l.fail(w, r, errServerError, fmt.Errorf("failed to issue session: %w", err))
		return
	}

	l.logger.InfoContext(ctx, "user logged in", "principal", profile.Login)
	target := l.frontendURL + claims.Redirect
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type githubUser struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (l *LoginFlow) fetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	resp, err := l.profiles.Get(ctx, accessToken, "user")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}

	var user githubUser
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	if user.Login == "" {
		return nil, errors.New("user profile has no login")
	}

	return &Profile{
		Login:     user.Login,
		ID:        strconv.FormatInt(user.ID, 10),
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}

func (l *LoginFlow) fail(w http.ResponseWriter, r *http.Request, code string, cause error) {
	l.logger.WarnContext(r.Context(), "login failed", "error_code", code, "error", cause)
	target := l.frontendURL + "/login?error=" + url.QueryEscape(code)
	http.Redirect(w, r, target, http.StatusFound)
}

func (l *LoginFlow) nonceCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     nonceCookieName,
		Value:    value,
		Path:     apipaths.CallbackBase,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   l.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// sanitizeRedirect keeps only same-origin, frontend-relative paths
func sanitizeRedirect(redirect string) string {
	if redirect == "" || !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") || strings.Contains(redirect, "\\") {
		return ""
	}
	u, err := url.Parse(redirect)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return redirect
}

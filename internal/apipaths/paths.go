package apipaths

// Public paths. Used by routes, the OAuth2 redirect URI and tests.

const (
	CurrentUser = "/api/user"
	GitHubToken = "/api/github-token"
	Logout      = "/api/logout"
	GitHubProxy = "/api/github"
	Health      = "/api/health"
	Metrics     = "/metrics"

	AuthorizationBase = "/oauth2/authorization"
	CallbackBase      = "/login/oauth2/code"
)

// Authorization is where the browser starts the login for a registration
func Authorization(registrationID string) string { return AuthorizationBase + "/" + registrationID }

// Callback is the redirect URI registered with the provider
func Callback(registrationID string) string { return CallbackBase + "/" + registrationID }

// Proxy returns the proxy route for an upstream path, e.g. Proxy("user/repos")
func Proxy(upstreamPath string) string { return GitHubProxy + "/" + upstreamPath }

package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arceon/internal/db"
	"github.com/arceon/internal/domain"
	"golang.org/x/oauth2"
)

func setupTestService(t *testing.T, key []byte) (*Service, *db.DB) {
	t.Helper()

	database, err := db.Init(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	service, err := NewService(database, key, slog.Default())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return service, database
}

// newTokenServer answers refresh_token grants; status != 200 simulates a rejected refresh
func newTokenServer(t *testing.T, status int, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint: bad form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"bad_refresh_token"}`)
			return
		}
		fmt.Fprintf(w, `{"access_token":"gho_new","token_type":"bearer","expires_in":3600,"refresh_token":"ghr_new","old":%q}`,
			r.Form.Get("refresh_token"))
	}))
	t.Cleanup(server.Close)
	return server
}

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   tokenURL + "/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func TestService_SaveAndLoad(t *testing.T) {
	service, _ := setupTestService(t, nil)
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken: "gho_abc",
		TokenType:   "Bearer",
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("LoadAccessToken failed: %v", err)
	}
	if tok.Value != "gho_abc" {
		t.Errorf("expected gho_abc, got %q", tok.Value)
	}
	if !tok.ExpiresAt.IsZero() {
		t.Errorf("expected non-expiring token, got %v", tok.ExpiresAt)
	}
}

func TestService_LoadMiss(t *testing.T) {
	service, _ := setupTestService(t, nil)

	_, err := service.LoadAccessToken(context.Background(), domain.RegistrationGitHub, "ghost")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestService_EncryptsAtRest(t *testing.T) {
	service, database := setupTestService(t, testKey)
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_plain",
		RefreshToken: "ghr_plain",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	record, err := database.GetAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("GetAuthorizedClient failed: %v", err)
	}
	if strings.Contains(record.AccessToken, "gho_plain") || strings.Contains(record.RefreshToken, "ghr_plain") {
		t.Error("expected tokens to be encrypted at rest")
	}

	tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("LoadAccessToken failed: %v", err)
	}
	if tok.Value != "gho_plain" {
		t.Errorf("expected decrypted token gho_plain, got %q", tok.Value)
	}
}

func TestService_ExpiredWithoutRefreshTokenIsMiss(t *testing.T) {
	service, _ := setupTestService(t, nil)
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken: "gho_old",
		Expiry:      time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	_, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestService_RefreshesExpiredToken(t *testing.T) {
	var calls int32
	server := newTokenServer(t, http.StatusOK, &calls)

	service, _ := setupTestService(t, testKey)
	service.RegisterClient(domain.RegistrationGitHub, testOAuthConfig(server.URL))
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_old",
		RefreshToken: "ghr_old",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("LoadAccessToken failed: %v", err)
	}
	if tok.Value != "gho_new" {
		t.Errorf("expected refreshed token gho_new, got %q", tok.Value)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected one refresh call, got %d", atomic.LoadInt32(&calls))
	}

	// The refreshed token was persisted, so no second refresh happens
	tok, err = service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("second LoadAccessToken failed: %v", err)
	}
	if tok.Value != "gho_new" {
		t.Errorf("expected persisted token gho_new, got %q", tok.Value)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected refresh to happen once, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestService_RefreshUsesInjectedClock(t *testing.T) {
	var calls int32
	server := newTokenServer(t, http.StatusOK, &calls)

	service, _ := setupTestService(t, nil)
	service.RegisterClient(domain.RegistrationGitHub, testOAuthConfig(server.URL))
	ctx := context.Background()

	// Valid by the wall clock but expired by the service clock
	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_current",
		RefreshToken: "ghr_current",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}
	service.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("LoadAccessToken failed: %v", err)
	}
	if tok.Value != "gho_new" {
		t.Errorf("expected refreshed token, got %q", tok.Value)
	}
}

func TestService_RejectedRefreshDropsGrant(t *testing.T) {
	var calls int32
	server := newTokenServer(t, http.StatusBadRequest, &calls)

	service, database := setupTestService(t, nil)
	service.RegisterClient(domain.RegistrationGitHub, testOAuthConfig(server.URL))
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_old",
		RefreshToken: "ghr_revoked",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	_, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
	if _, err := database.GetAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected rejected grant to be removed, got %v", err)
	}
}

// rotatingTokenServer accepts each refresh token once and issues a new pair,
// the way GitHub rotates refresh tokens
type rotatingTokenServer struct {
	mu      sync.Mutex
	current string
	issued  int
	calls   int32
}

func newRotatingTokenServer(t *testing.T, initial string) (*rotatingTokenServer, *httptest.Server) {
	t.Helper()
	rts := &rotatingTokenServer{current: initial}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&rts.calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint: bad form: %v", err)
		}
		// Widen the window in which concurrent refreshes would overlap
		time.Sleep(50 * time.Millisecond)

		rts.mu.Lock()
		defer rts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("refresh_token") != rts.current {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"bad_refresh_token"}`)
			return
		}
		rts.issued++
		rts.current = fmt.Sprintf("ghr_%d", rts.issued)
		fmt.Fprintf(w, `{"access_token":"gho_%d","token_type":"bearer","expires_in":3600,"refresh_token":%q}`,
			rts.issued, rts.current)
	}))
	t.Cleanup(server.Close)
	return rts, server
}

func TestService_ConcurrentRefreshKeepsGrant(t *testing.T) {
	rts, server := newRotatingTokenServer(t, "ghr_0")

	service, database := setupTestService(t, nil)
	service.RegisterClient(domain.RegistrationGitHub, testOAuthConfig(server.URL))
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_0",
		RefreshToken: "ghr_0",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	values := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
			errs[i] = err
			if tok != nil {
				values[i] = tok.Value
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("load %d failed: %v", i, errs[i])
			continue
		}
		if values[i] != "gho_1" {
			t.Errorf("load %d: expected gho_1, got %q", i, values[i])
		}
	}
	if calls := atomic.LoadInt32(&rts.calls); calls != 1 {
		t.Errorf("expected a single refresh, got %d", calls)
	}

	if _, err := database.GetAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat"); err != nil {
		t.Fatalf("expected grant to survive concurrent refresh, got %v", err)
	}
	tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("LoadAccessToken after refresh failed: %v", err)
	}
	if tok.Value != "gho_1" {
		t.Errorf("expected persisted token gho_1, got %q", tok.Value)
	}
}

func TestService_RejectedRefreshKeepsRotatedGrant(t *testing.T) {
	service, database := setupTestService(t, nil)
	ctx := context.Background()

	// Another instance rotates the grant while this refresh is in flight,
	// so the provider rejects the token presented here.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := service.SaveAuthorizedClient(context.Background(), domain.RegistrationGitHub, "octocat", &oauth2.Token{
			AccessToken:  "gho_other",
			RefreshToken: "ghr_other",
			Expiry:       time.Now().Add(time.Hour),
		}); err != nil {
			t.Errorf("rotating grant failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"bad_refresh_token"}`)
	}))
	t.Cleanup(server.Close)
	service.RegisterClient(domain.RegistrationGitHub, testOAuthConfig(server.URL))

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_old",
		RefreshToken: "ghr_old",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	tok, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if err != nil {
		t.Fatalf("LoadAccessToken failed: %v", err)
	}
	if tok.Value != "gho_other" {
		t.Errorf("expected the rotated token gho_other, got %q", tok.Value)
	}
	if _, err := database.GetAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat"); err != nil {
		t.Errorf("expected rotated grant to be kept, got %v", err)
	}
}

func TestService_RefreshWithoutRegistration(t *testing.T) {
	service, _ := setupTestService(t, nil)
	ctx := context.Background()

	if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, "octocat", &oauth2.Token{
		AccessToken:  "gho_old",
		RefreshToken: "ghr_old",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizedClient failed: %v", err)
	}

	_, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "octocat")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Errorf("expected ErrClientNotFound, got %v", err)
	}
}

func TestService_SaveRejectsEmptyToken(t *testing.T) {
	service, _ := setupTestService(t, nil)

	err := service.SaveAuthorizedClient(context.Background(), domain.RegistrationGitHub, "octocat", &oauth2.Token{})
	if err == nil {
		t.Fatal("expected error for empty access token")
	}
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != domain.CodeTokenStore {
		t.Errorf("expected token store error, got %v", err)
	}
}

func TestService_RemoveAndPurge(t *testing.T) {
	service, _ := setupTestService(t, nil)
	ctx := context.Background()

	for _, principal := range []string{"a", "b"} {
		if err := service.SaveAuthorizedClient(ctx, domain.RegistrationGitHub, principal, &oauth2.Token{AccessToken: "tok-" + principal}); err != nil {
			t.Fatalf("save %s failed: %v", principal, err)
		}
	}

	if err := service.RemoveAuthorizedClient(ctx, domain.RegistrationGitHub, "a"); err != nil {
		t.Fatalf("RemoveAuthorizedClient failed: %v", err)
	}
	if _, err := service.LoadAccessToken(ctx, domain.RegistrationGitHub, "a"); !errors.Is(err, domain.ErrClientNotFound) {
		t.Errorf("expected removed grant to be a miss, got %v", err)
	}

	// Pretend a day passed so the remaining grant (no refresh token) is stale
	service.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	deleted, err := service.PurgeStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PurgeStale failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 purged grant, got %d", deleted)
	}
}

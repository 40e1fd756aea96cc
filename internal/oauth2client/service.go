package oauth2client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arceon/internal/db"
	"github.com/arceon/internal/domain"
	"github.com/arceon/internal/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// expiryDelta matches the slack x/oauth2 gives tokens before treating them as expired
	expiryDelta = 10 * time.Second

	refreshTimeout = 30 * time.Second
)

// Store is the persistence the service needs; *db.DB satisfies it
type Store interface {
	GetAuthorizedClient(ctx context.Context, registrationID, principalName string) (*db.AuthorizedClient, error)
	SaveAuthorizedClient(ctx context.Context, client *db.AuthorizedClient) error
	DeleteAuthorizedClient(ctx context.Context, registrationID, principalName string) error
	DeleteStaleAuthorizedClients(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// Service keeps OAuth2 grants per (registration, principal), refreshing
// expired access tokens when the provider issued a refresh token.
type Service struct {
	store  Store
	cipher *TokenCipher
	logger *slog.Logger
	now    func() time.Time
	stats  *metrics.Metrics

	mu      sync.RWMutex
	configs map[string]*oauth2.Config

	refreshes singleflight.Group
}

// NewService creates a new authorized client service. An empty key stores tokens unencrypted.
func NewService(store Store, encryptionKey []byte, logger *slog.Logger) (*Service, error) {
	cipher, err := NewTokenCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:   store,
		cipher:  cipher,
		logger:  logger,
		now:     time.Now,
		configs: make(map[string]*oauth2.Config),
	}, nil
}

// RegisterClient makes the OAuth2 config of a registration available for token refresh
func (s *Service) RegisterClient(registrationID string, cfg *oauth2.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[registrationID] = cfg
}

// SetMetrics enables refresh accounting
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.stats = m
}

func (s *Service) clientConfig(registrationID string) (*oauth2.Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[registrationID]
	return cfg, ok
}

// LoadAccessToken implements domain.TokenStore
func (s *Service) LoadAccessToken(ctx context.Context, registrationID, principal string) (*domain.AccessToken, error) {
	tok, err := s.LoadAuthorizedClient(ctx, registrationID, principal)
	if err != nil {
		return nil, err
	}
	return &domain.AccessToken{Value: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// LoadAuthorizedClient returns a usable token for the principal, refreshing it if needed.
// Misses, unusable grants and grants the provider refused to refresh all
// report domain.ErrClientNotFound.
func (s *Service) LoadAuthorizedClient(ctx context.Context, registrationID, principal string) (*oauth2.Token, error) {
	record, tok, err := s.load(ctx, registrationID, principal)
	if err != nil {
		return nil, err
	}
	if !s.stale(record) {
		return tok, nil
	}

	if tok.RefreshToken == "" {
		s.logger.InfoContext(ctx, "stored access token expired without refresh token",
			"registration_id", registrationID,
			"principal", principal,
		)
		return nil, domain.ErrClientNotFound
	}

	// The provider rotates refresh tokens, so each grant has at most one refresh in flight
	v, err, _ := s.refreshes.Do(registrationID+"\x00"+principal, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(flightCtx, registrationID, principal)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// load reads and decrypts the stored grant
func (s *Service) load(ctx context.Context, registrationID, principal string) (*db.AuthorizedClient, *oauth2.Token, error) {
	record, err := s.store.GetAuthorizedClient(ctx, registrationID, principal)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, nil, domain.WrapTokenStore("load authorized client", err)
	}

	tok, err := s.decodeToken(record)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to decode stored token",
			"registration_id", registrationID,
			"principal", principal,
			"error", err,
		)
		return nil, nil, domain.WrapTokenStore("decode authorized client", err)
	}
	return record, tok, nil
}

// refresh runs inside the single-flight group. It re-reads the grant first
// because an earlier flight may already have rotated it.
func (s *Service) refresh(ctx context.Context, registrationID, principal string) (*oauth2.Token, error) {
	record, tok, err := s.load(ctx, registrationID, principal)
	if err != nil {
		return nil, err
	}
	if !s.stale(record) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, domain.ErrClientNotFound
	}

	cfg, ok := s.clientConfig(registrationID)
	if !ok {
		s.logger.WarnContext(ctx, "no client registration for token refresh", "registration_id", registrationID)
		return nil, domain.ErrClientNotFound
	}

	// Force the refresher even if the library's clock still considers the token valid
	spent := *tok
	spent.AccessToken = ""

	refreshed, err := cfg.TokenSource(ctx, &spent).Token()
	s.stats.RecordTokenRefresh(err == nil)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			s.logger.WarnContext(ctx, "token refresh rejected by provider",
				"registration_id", registrationID,
				"principal", principal,
				"error_code", retrieveErr.ErrorCode,
			)
			return s.dropRejected(ctx, registrationID, principal, tok.RefreshToken)
		}
		return nil, domain.WrapTokenStore("refresh access token", err)
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	if err := s.SaveAuthorizedClient(ctx, registrationID, principal, refreshed); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "access token refreshed",
		"registration_id", registrationID,
		"principal", principal,
		"expires_at", refreshed.Expiry,
	)
	return refreshed, nil
}

// dropRejected deletes the grant only if it still carries the refresh token
// the provider refused. A grant rotated in the meantime (by another instance
// sharing the database) is kept and returned when usable.
func (s *Service) dropRejected(ctx context.Context, registrationID, principal, rejected string) (*oauth2.Token, error) {
	record, latest, err := s.load(ctx, registrationID, principal)
	if err != nil {
		return nil, domain.ErrClientNotFound
	}
	if latest.RefreshToken != rejected {
		if !s.stale(record) {
			return latest, nil
		}
		return nil, domain.ErrClientNotFound
	}

	if err := s.store.DeleteAuthorizedClient(ctx, registrationID, principal); err != nil {
		s.logger.WarnContext(ctx, "failed to drop rejected grant", "principal", principal, "error", err)
	}
	return nil, domain.ErrClientNotFound
}

// SaveAuthorizedClient stores (or replaces) the grant for the principal
func (s *Service) SaveAuthorizedClient(ctx context.Context, registrationID, principal string, tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return domain.WrapTokenStore("save authorized client", errors.New("empty access token"))
	}

	access, err := s.cipher.Seal(tok.AccessToken)
	if err != nil {
		return domain.WrapTokenStore("encrypt access token", err)
	}
	refresh, err := s.cipher.Seal(tok.RefreshToken)
	if err != nil {
		return domain.WrapTokenStore("encrypt refresh token", err)
	}

	record := db.NewAuthorizedClient(registrationID, principal, access)
	record.RefreshToken = refresh
	if tok.TokenType != "" {
		record.TokenType = strings.ToLower(tok.TokenType)
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		record.ExpiresAt = &expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		record.Scopes = scope
	}

	if err := s.store.SaveAuthorizedClient(ctx, record); err != nil {
		return domain.WrapTokenStore("save authorized client", err)
	}
	return nil
}

// RemoveAuthorizedClient drops the grant. Removing a missing grant succeeds.
func (s *Service) RemoveAuthorizedClient(ctx context.Context, registrationID, principal string) error {
	if err := s.store.DeleteAuthorizedClient(ctx, registrationID, principal); err != nil {
		return domain.WrapTokenStore("remove authorized client", err)
	}
	return nil
}

// PurgeStale deletes unusable grants that have not been touched for olderThan
func (s *Service) PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now()
	deleted, err := s.store.DeleteStaleAuthorizedClients(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, domain.WrapTokenStore("purge stale authorized clients", err)
	}
	return deleted, nil
}

func (s *Service) decodeToken(record *db.AuthorizedClient) (*oauth2.Token, error) {
	access, err := s.cipher.Open(record.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.cipher.Open(record.RefreshToken)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    record.TokenType,
		RefreshToken: refresh,
	}
	if record.ExpiresAt != nil {
		tok.Expiry = *record.ExpiresAt
	}
	return tok, nil
}

// stale reports whether the stored access token is expired or about to be
func (s *Service) stale(record *db.AuthorizedClient) bool {
	return record.Expired(s.now().Add(expiryDelta))
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/arceon/internal/domain"
	"github.com/arceon/internal/metrics"
)

const (
	currentUserPath = "user"
	logoutMessage   = "Logged out successfully"

	opCurrentUser = "get_current_user"
	opGetToken    = "get_token"
	opProxyGet    = "proxy_get"
)

// proxyService implements the ProxyService interface
type proxyService struct {
	tokens   domain.TokenStore
	upstream domain.UpstreamAPI
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProxyService creates a new proxy service. metrics may be nil.
func NewProxyService(tokens domain.TokenStore, upstream domain.UpstreamAPI, m *metrics.Metrics, logger *slog.Logger) domain.ProxyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &proxyService{
		tokens:   tokens,
		upstream: upstream,
		metrics:  m,
		logger:   logger,
	}
}

// GetCurrentUser fetches the caller's GitHub profile
func (s *proxyService) GetCurrentUser(ctx context.Context, auth domain.Authentication) (*domain.CurrentUserResponse, error) {
	token, err := s.resolveToken(ctx, opCurrentUser, auth)
	if err != nil {
		return nil, err
	}

	resp, err := s.callUpstream(ctx, opCurrentUser, token, currentUserPath)
	if err != nil {
		return nil, err
	}

	if !json.Valid(resp.Body) {
		err := domain.WrapUpstreamError(opCurrentUser, errors.New("upstream returned a non-JSON user payload"))
		s.logger.ErrorContext(ctx, "invalid user payload", "principal", auth.Principal, "bytes", len(resp.Body))
		return nil, err
	}

	return &domain.CurrentUserResponse{
		IsAuthenticated: true,
		User:            json.RawMessage(resp.Body),
	}, nil
}

// GetToken returns the caller's raw access token
func (s *proxyService) GetToken(ctx context.Context, auth domain.Authentication) (*domain.TokenResponse, error) {
	token, err := s.resolveToken(ctx, opGetToken, auth)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "access token handed out", "principal", auth.Principal)
	s.metrics.RecordTokenRead(metrics.OutcomeSuccess)
	return &domain.TokenResponse{Token: token.Value}, nil
}

// Logout acknowledges the logout; ending the session is the session layer's job
func (s *proxyService) Logout(ctx context.Context) *domain.LogoutResponse {
	s.logger.DebugContext(ctx, "logout acknowledged")
	return &domain.LogoutResponse{Message: logoutMessage}
}

// ProxyGet performs one GET against the upstream on behalf of the caller and
// returns the answer unchanged
func (s *proxyService) ProxyGet(ctx context.Context, auth domain.Authentication, path string) (*domain.UpstreamResponse, error) {
	token, err := s.resolveToken(ctx, opProxyGet, auth)
	if err != nil {
		return nil, err
	}
	return s.callUpstream(ctx, opProxyGet, token, path)
}

// recordLookup counts a request that ended before any upstream call. GetToken
// never calls the upstream, so it has its own counter.
func (s *proxyService) recordLookup(operation, outcome string) {
	if operation == opGetToken {
		s.metrics.RecordTokenRead(outcome)
		return
	}
	s.metrics.RecordUpstream(operation, outcome, 0)
}

// resolveToken runs the shared authentication and token lookup steps
func (s *proxyService) resolveToken(ctx context.Context, operation string, auth domain.Authentication) (*domain.AccessToken, error) {
	if !auth.IsAuthenticated() {
		s.recordLookup(operation, metrics.OutcomeUnauthenticated)
		return nil, domain.ErrNotAuthenticated
	}
	if auth.Kind != domain.AuthOAuth2 {
		s.recordLookup(operation, metrics.OutcomeUnauthenticated)
		return nil, domain.ErrNotOAuth2Authenticated
	}

	registrationID := auth.RegistrationID
	if registrationID == "" {
		registrationID = domain.RegistrationGitHub
	}

	token, err := s.tokens.LoadAccessToken(ctx, registrationID, auth.Principal)
	if err != nil {
		if domain.IsUnauthenticated(err) {
			s.logger.InfoContext(ctx, "no authorized client for principal",
				"operation", operation,
				"principal", auth.Principal,
				"registration_id", registrationID,
			)
			s.recordLookup(operation, metrics.OutcomeUnauthenticated)
			return nil, err
		}
		s.recordLookup(operation, metrics.OutcomeStoreError)
		return nil, err
	}
	if token == nil || token.Value == "" {
		s.recordLookup(operation, metrics.OutcomeUnauthenticated)
		return nil, domain.ErrClientNotFound
	}
	return token, nil
}

func (s *proxyService) callUpstream(ctx context.Context, operation string, token *domain.AccessToken, path string) (*domain.UpstreamResponse, error) {
	timer := s.metrics.NewTimer(operation)

	resp, err := s.upstream.Get(ctx, token.Value, path)
	if err != nil {
		if domain.IsValidationError(err) {
			timer.Done(metrics.OutcomeInvalidPath)
			return nil, err
		}
		timer.Done(metrics.OutcomeUpstreamError)
		s.logger.WarnContext(ctx, "upstream request failed",
			"operation", operation,
			"path", path,
			"upstream_status", domain.UpstreamStatus(err),
			"error", err,
		)
		return nil, domain.WrapUpstreamError(operation, err)
	}

	timer.Done(metrics.OutcomeSuccess)
	s.logger.DebugContext(ctx, "upstream request completed",
		"operation", operation,
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
	)
	return resp, nil
}

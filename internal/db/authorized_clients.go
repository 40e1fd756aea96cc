package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const authorizedClientColumns = `id, registration_id, principal_name, access_token, token_type,
	refresh_token, expires_at, scopes, created_at, updated_at`

// SaveAuthorizedClient inserts or replaces the grant for (registration, principal).
// The original id and created_at survive a replace.
func (db *DB) SaveAuthorizedClient(ctx context.Context, client *AuthorizedClient) error {
	now := time.Now()
	if client.CreatedAt.IsZero() {
		client.CreatedAt = now
	}
	client.UpdatedAt = now

	_, err := db.ExecContext(ctx,
		`INSERT INTO oauth2_authorized_clients (`+authorizedClientColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(registration_id, principal_name) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		client.ID, client.RegistrationID, client.PrincipalName, client.AccessToken, client.TokenType,
		nullString(client.RefreshToken), unixOrNull(client.ExpiresAt), nullString(client.Scopes),
		client.CreatedAt.Unix(), client.UpdatedAt.Unix(),
	)
	return err
}

// GetAuthorizedClient loads the grant for (registration, principal)
func (db *DB) GetAuthorizedClient(ctx context.Context, registrationID, principalName string) (*AuthorizedClient, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+authorizedClientColumns+` FROM oauth2_authorized_clients
		 WHERE registration_id = ? AND principal_name = ?`,
		registrationID, principalName,
	)

	client, err := scanAuthorizedClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// DeleteAuthorizedClient removes the grant for (registration, principal).
// Deleting a missing row is not an error.
func (db *DB) DeleteAuthorizedClient(ctx context.Context, registrationID, principalName string) error {
	_, err := db.ExecContext(ctx,
		"DELETE FROM oauth2_authorized_clients WHERE registration_id = ? AND principal_name = ?",
		registrationID, principalName,
	)
	return err
}

// DeleteStaleAuthorizedClients removes grants untouched since cutoff that can
// no longer be used: expired access tokens, or no refresh token to renew them.
func (db *DB) DeleteStaleAuthorizedClients(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM oauth2_authorized_clients
		 WHERE updated_at < ?
		   AND ((expires_at IS NOT NULL AND expires_at <= ?) OR refresh_token IS NULL)`,
		cutoff.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorizedClient(row rowScanner) (*AuthorizedClient, error) {
	var (
		client       AuthorizedClient
		refreshToken sql.NullString
		expiresAt    sql.NullInt64
		scopes       sql.NullString
		createdAt    int64
		updatedAt    int64
	)

	if err := row.Scan(
		&client.ID, &client.RegistrationID, &client.PrincipalName, &client.AccessToken, &client.TokenType,
		&refreshToken, &expiresAt, &scopes, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	client.RefreshToken = refreshToken.String
	client.Scopes = scopes.String
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		client.ExpiresAt = &t
	}
	client.CreatedAt = time.Unix(createdAt, 0)
	client.UpdatedAt = time.Unix(updatedAt, 0)

	return &client, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixOrNull(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

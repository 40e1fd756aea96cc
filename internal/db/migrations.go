package db

import (
	"log/slog"
	"strings"
)

// migrate runs database migrations
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS oauth2_authorized_clients (
			id TEXT NOT NULL UNIQUE,
			registration_id TEXT NOT NULL,
			principal_name TEXT NOT NULL,
			access_token TEXT NOT NULL,
			token_type TEXT NOT NULL DEFAULT 'bearer',
			refresh_token TEXT,
			expires_at INTEGER,
			scopes TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (registration_id, principal_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth2_authorized_clients_updated_at ON oauth2_authorized_clients(updated_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			// Ignore error if column already exists
			if !isDuplicateColumnError(err) {
				return err
			}
			slog.Debug("migration already applied", "error", err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if error is about duplicate column
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "duplicate column name") ||
		strings.Contains(errStr, "already exists")
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Roles select which tables a process needs.
const (
	RoleAPI      = "api"
	RoleConsumer = "consumer"
)

var usersTable = `CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`

var welcomeNotificationsTable = `CREATE TABLE IF NOT EXISTS welcome_notifications (
			dedup_key VARCHAR(128) PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`

// RunMigrations creates the tables needed by the given roles.
func RunMigrations(ctx context.Context, db *sql.DB, roles ...string) error {
	for _, m := range migrationsFor(roles...) {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

func migrationsFor(roles ...string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(stmt string) {
		if !seen[stmt] {
			seen[stmt] = true
			out = append(out, stmt)
		}
	}

	for _, role := range roles {
		switch role {
		case RoleAPI:
			add(usersTable)
		case RoleConsumer:
			add(welcomeNotificationsTable)
		}
	}
	if len(out) == 0 {
		add(usersTable)
	}
	return out
}

package kv

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when databaseURL is set, a
// sqlite file store when sqlitePath is set, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(ctx, sqlitePath)
	}
	return NewInMemoryStore(), nil
}

// Mode names the backend NewStore would pick for the given settings.
func Mode(databaseURL, sqlitePath string) string {
	switch {
	case strings.TrimSpace(databaseURL) != "":
		return "postgres"
	case strings.TrimSpace(sqlitePath) != "":
		return "sqlite"
	default:
		return "in-memory"
	}
}

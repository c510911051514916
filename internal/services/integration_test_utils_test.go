//go:build integration
// +build integration

package services

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/database"
	"zporta/internal/observability"
)

// SharedTestDBSetup opens the database named by TEST_DATABASE_URL and applies
// the schema. Tests using it must tolerate pre-existing rows.
func SharedTestDBSetup(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	db, err := database.NewManager(logger).InitDB(url)
	require.NoError(t, err)
	return db
}

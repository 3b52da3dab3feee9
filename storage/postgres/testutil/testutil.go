package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerindex/gateway/log"
	"github.com/ledgerindex/gateway/storage/migrations"
	"github.com/ledgerindex/gateway/storage/postgres"
)

// NewTestClient returns a postgres client used in CI tests. The test is
// skipped in short mode or when CI_TEST_CONN_STRING is unset.
func NewTestClient(t *testing.T) *postgres.Client {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	connString := os.Getenv("CI_TEST_CONN_STRING")
	if connString == "" {
		t.Skip("CI_TEST_CONN_STRING not set")
	}
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.Nil(t, err, "log.NewLogger")

	client, err := postgres.NewClient(connString, logger)
	require.Nil(t, err, "postgres.NewClient")
	return client
}

// NewMigratedTestClient is NewTestClient on a freshly wiped database with
// the gateway schema applied.
func NewMigratedTestClient(t *testing.T) *postgres.Client {
	client := NewTestClient(t)
	require.NoError(t, client.Wipe(context.Background()), "wipe")
	require.NoError(t, migrations.Up(os.Getenv("CI_TEST_CONN_STRING"), "", log.NewDiscardLogger()), "migrations.Up")
	return client
}

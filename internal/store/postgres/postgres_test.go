package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/glimmerlabs/glimmer/internal/store"
	"github.com/glimmerlabs/glimmer/internal/store/storetest"
)

// TestPostgresStoreCompliance runs the driver compliance suite against a
// throwaway postgres container. Set GLIMMER_TEST_POSTGRES_DSN to use an
// existing server instead, or SKIP_POSTGRES_TESTS=1 to skip entirely.
func TestPostgresStoreCompliance(t *testing.T) {
	if os.Getenv("SKIP_POSTGRES_TESTS") == "1" {
		t.Skip("SKIP_POSTGRES_TESTS=1")
	}
	if testing.Short() {
		t.Skip("short mode")
	}

	ctx := context.Background()
	dsn := os.Getenv("GLIMMER_TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = startContainer(t, ctx)
	}

	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range store.PostgresDDLStatements() {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		// truncate between subtests so each starts from a clean slate
		_, err := db.ExecContext(ctx, `TRUNCATE stories, story_keys, engagement_events, deletion_tasks`)
		require.NoError(t, err)
		return NewWithDB(db)
	})
}

func startContainer(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "glimmer",
			"POSTGRES_PASSWORD": "glimmer",
			"POSTGRES_DB":       "glimmer",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://glimmer:glimmer@%s:%s/glimmer?sslmode=disable", host, port.Port())
}

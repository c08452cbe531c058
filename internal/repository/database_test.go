package repository_test

import (
	"testing"
	"time"

	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a throwaway PostgreSQL and returns its connection settings.
func startPostgres(t *testing.T, dbName string) config.PostgresConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := t.Context()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	testcontainers.CleanupContainer(t, pgContainer)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return config.PostgresConfig{
		Host:     host,
		Port:     port.Port(),
		User:     "testuser",
		Password: "testpassword",
		Name:     dbName,
	}
}

func TestNewDatabase_Success(t *testing.T) {
	t.Parallel()
	cfg := startPostgres(t, "testdb")
	ctx := t.Context()

	dbpool, err := repository.NewDatabase(ctx, cfg, repository.PoolOptions{AppName: "themis-test"})
	require.NoError(t, err)
	defer dbpool.Close()

	var appName string
	require.NoError(t, dbpool.QueryRow(ctx, "SHOW application_name").Scan(&appName))
	assert.Equal(t, "themis-test", appName)
}

func TestNewDatabase_ReadOnlyReplica(t *testing.T) {
	t.Parallel()
	cfg := startPostgres(t, "crm")
	ctx := t.Context()

	dbpool, err := repository.NewDatabase(ctx, cfg, repository.PoolOptions{ReadOnly: true, MinConns: 1})
	require.NoError(t, err)
	defer dbpool.Close()

	_, err = dbpool.Exec(ctx, "CREATE TABLE forbidden (id int)")
	require.ErrorContains(t, err, "read-only transaction")
}

func TestNewDatabase_ParseConfigError(t *testing.T) {
	t.Parallel()
	cfg := config.PostgresConfig{Host: "localhost", Port: "invalid-port", User: "user", Password: "pass", Name: "db"}

	dbpool, err := repository.NewDatabase(t.Context(), cfg, repository.PoolOptions{})

	require.Error(t, err)
	require.Nil(t, dbpool)
	require.ErrorContains(t, err, "failed to parse database config")
	require.ErrorContains(t, err, "invalid port")
}

func TestNewDatabase_ConnectionError(t *testing.T) {
	t.Parallel()
	cfg := config.PostgresConfig{Host: "nonexistent-host", Port: "5432", User: "user", Password: "pass", Name: "db"}

	dbpool, err := repository.NewDatabase(t.Context(), cfg, repository.PoolOptions{})

	require.Error(t, err)
	assert.Nil(t, dbpool)
}

func TestMigrateUp(t *testing.T) {
	t.Parallel()
	cfg := startPostgres(t, "themis")
	ctx := t.Context()

	applied, err := repository.MigrateUp(cfg)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repository.MigrateUp(cfg)
	require.NoError(t, err)
	assert.False(t, applied, "second run must be a no-op")

	dbpool, err := repository.NewDatabase(ctx, cfg, repository.PoolOptions{})
	require.NoError(t, err)
	defer dbpool.Close()

	var statuses int
	require.NoError(t, dbpool.QueryRow(ctx, "SELECT count(*) FROM doc_lib_ticket_status").Scan(&statuses))
	assert.Equal(t, 13, statuses)

	// The projection always matches the newest history row, and a lost claim race leaves no trace.
	repo := repository.NewRepository(dbpool)
	require.NoError(t, repo.CreateTicket(ctx, models.Ticket{ID: 41256, DocID: intPtr(100), Status: models.StatusNew}, 1))

	claim := repository.Transition{
		TicketID:    41256,
		From:        []models.Status{models.StatusNew},
		To:          models.StatusInReview,
		SenderID:    2,
		KeepComment: true,
	}
	_, err = repo.ApplyTransition(ctx, claim)
	require.NoError(t, err)

	claim.SenderID = 3
	_, err = repo.ApplyTransition(ctx, claim)
	var stale *repository.StaleStatusError
	require.ErrorAs(t, err, &stale)

	history, err := repo.GetHistory(ctx, 41256)
	require.NoError(t, err)
	require.Len(t, history, 2)
	ticket, err := repo.GetTicket(ctx, 41256)
	require.NoError(t, err)
	assert.Equal(t, history[len(history)-1].Status, ticket.Status)

	// A released review goes back to NEW and is claimed again: two claims, one release.
	_, err = repo.ApplyTransition(ctx, repository.Transition{
		TicketID:    41256,
		From:        []models.Status{models.StatusInReview},
		To:          models.StatusNew,
		SenderID:    1,
		KeepComment: true,
	})
	require.NoError(t, err)
	claim.SenderID = 3
	_, err = repo.ApplyTransition(ctx, claim)
	require.NoError(t, err)

	claims, err := repo.CountHistory(ctx, 41256, models.StatusNew, models.StatusInReview)
	require.NoError(t, err)
	assert.Equal(t, 2, claims)
	releases, err := repo.CountHistory(ctx, 41256, models.StatusInReview, models.StatusNew)
	require.NoError(t, err)
	assert.Equal(t, 1, releases)

	reset, err := repo.ResetTickets(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)
}

//go:build integration

package repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	projectionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/projection/repo"
	subscriptionentity "github.com/ovaphlow/pitchfork/service-identity/internal/subscription/entity"
	subscriptionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/subscription/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("identity_test"),
		postgres.WithUsername("identity"),
		postgres.WithPassword("identity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := database.Config{DSN: dsn, MaxConns: 8, Timeout: 5 * time.Second, ConnectRetries: 5}
	sqlDB, err := database.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(ctx, sqlDB))
	return database.Wrap(sqlDB)
}

func account(id, username string) *entity.Account {
	return &entity.Account{
		ID: id, Username: username, Email: username + "@example.com", FullName: username,
		PasswordHash: "hash", PasswordAlgo: "bcrypt:4",
		AvatarURL: "https://cdn.test/avatars/" + id, AvatarRemoteID: "avatars/" + id,
	}
}

func TestPostgres_AccountLifecycle(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	accounts := repo.NewAccountRepo(db)

	require.NoError(t, accounts.Create(ctx, account("1", "ada")))
	dup := account("2", "ADA")
	dup.Email = "other@example.com"
	assert.ErrorIs(t, accounts.Create(ctx, dup), repo.ErrDuplicate, "username uniqueness ignores case")

	found, err := accounts.FindByUsernameOrEmail(ctx, "", "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "1", found.ID)

	prev, err := accounts.SwapAsset(ctx, "1", entity.FieldAvatar, entity.Asset{URL: "u2", RemoteID: "avatars/2"})
	require.NoError(t, err)
	assert.Equal(t, "avatars/1", prev.RemoteID)
	_, err = accounts.SwapAsset(ctx, "missing", entity.FieldAvatar, entity.Asset{URL: "x", RemoteID: "x"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPostgres_RefreshTokenCASHasOneWinner(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	accounts := repo.NewAccountRepo(db)
	require.NoError(t, accounts.Create(ctx, account("1", "ada")))
	require.NoError(t, accounts.SetRefreshToken(ctx, "1", "r0"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := accounts.SwapRefreshToken(ctx, "1", "r0", "r1-"+string(rune('a'+i)))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, accounts.ClearRefreshToken(ctx, "1"))
	tok, err := accounts.RefreshToken(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestPostgres_Projections(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	accounts := repo.NewAccountRepo(db)
	subs := subscriptionrepo.NewSubscriptionRepo(db)
	projections := projectionrepo.NewProjectionRepo(db)

	for i, name := range []string{"chan", "a", "b", "c"} {
		require.NoError(t, accounts.Create(ctx, account(string(rune('1'+i)), name)))
	}
	for i, subscriber := range []string{"2", "3", "4"} {
		created, err := subs.Subscribe(ctx, &subscriptionentity.Subscription{ID: "s" + string(rune('a'+i)), SubscriberID: subscriber, ChannelID: "1"})
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := subs.Subscribe(ctx, &subscriptionentity.Subscription{ID: "sx", SubscriberID: "2", ChannelID: "1"})
	require.NoError(t, err)
	assert.False(t, created)

	view, err := projections.ChannelProfile(ctx, "CHAN", "2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, view.SubscribersCount)
	assert.True(t, view.IsSubscribed)

	anon, err := projections.ChannelProfile(ctx, "chan", "")
	require.NoError(t, err)
	assert.False(t, anon.IsSubscribed)

	_, err = db.ExecContext(ctx, `INSERT INTO videos (id, owner_id, title) VALUES ('v1', '1', 'first'), ('v2', '3', 'second')`)
	require.NoError(t, err)
	for _, v := range []string{"v2", "v1", "v2"} {
		_, err := projections.AppendWatchHistory(ctx, "2", v)
		require.NoError(t, err)
	}
	_, err = projections.AppendWatchHistory(ctx, "2", "missing")
	assert.ErrorIs(t, err, projectionrepo.ErrNotFound)

	rows, err := projections.WatchHistoryRows(ctx, "2")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"v2", "v1", "v2"}, []string{rows[0].VideoID, rows[1].VideoID, rows[2].VideoID})
	assert.Equal(t, "chan", rows[1].OwnerUsername)
}

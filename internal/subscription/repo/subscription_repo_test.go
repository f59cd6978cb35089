package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription/entity"
)

func newMockRepo(t *testing.T) (*SubscriptionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewSubscriptionRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestSubscribe_Created(t *testing.T) {
	r, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery(`INSERT INTO subscriptions .* ON CONFLICT \(subscriber_id, channel_id\) DO NOTHING`).
		WithArgs("s1", "a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	sub := &entity.Subscription{ID: "s1", SubscriberID: "a", ChannelID: "b"}
	created, err := r.Subscribe(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, now, sub.CreatedAt)
}

func TestSubscribe_AlreadyPresent(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO subscriptions").WillReturnError(sql.ErrNoRows)

	created, err := r.Subscribe(context.Background(), &entity.Subscription{ID: "s2", SubscriberID: "a", ChannelID: "b"})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUnsubscribe(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectExec("DELETE FROM subscriptions").WithArgs("a", "b").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM subscriptions").WithArgs("a", "b").WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := r.Unsubscribe(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Unsubscribe(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAccountIDByUsername_NotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id FROM accounts WHERE username").WillReturnError(sql.ErrNoRows)

	_, err := r.AccountIDByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

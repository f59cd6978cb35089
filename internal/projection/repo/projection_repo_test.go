package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*ProjectionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewProjectionRepo(sqlx.NewDb(db, "postgres")), mock
}

var historyColumns = []string{
	"position", "video_id", "owner_id", "title", "description", "thumbnail_url", "video_url",
	"duration_seconds", "views", "is_published", "created_at",
	"owner_username", "owner_full_name", "owner_avatar",
}

func TestChannelProfile(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT a.id, a.username .* AS subscribers_count .* AS is_subscribed FROM accounts a WHERE a.username = \$1`).
		WithArgs("grace", "viewer-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "full_name", "email", "avatar_url", "cover_image_url",
			"subscribers_count", "subscribed_to_count", "is_subscribed",
		}).AddRow("7", "grace", "Grace H", "grace@x.io", "https://cdn/g.png", "", 3, 1, true))

	v, err := r.ChannelProfile(context.Background(), "grace", "viewer-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v.SubscribersCount)
	assert.EqualValues(t, 1, v.SubscribedToCount)
	assert.True(t, v.IsSubscribed)
}

func TestChannelProfile_NotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("FROM accounts a").WillReturnError(sql.ErrNoRows)

	_, err := r.ChannelProfile(context.Background(), "nobody", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWatchHistoryRows_KeepsJoinRowsInOrder(t *testing.T) {
	r, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery(`FROM watch_history h .* ORDER BY h.position ASC`).
		WithArgs("viewer").
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow(1, "v2", "o1", "Second", "", "", "", 12.5, 3, true, now, "owner1", "Owner One", "a1").
			AddRow(1, "v2", "o9", "Second", "", "", "", 12.5, 3, true, now, "owner9", "Owner Nine", "a9").
			AddRow(2, "v1", "o2", "First", "", "", "", 60, 10, true, now, "owner2", "Owner Two", "a2"))

	rows, err := r.WatchHistoryRows(context.Background(), "viewer")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "owner1", rows[0].OwnerUsername)
	assert.Equal(t, int64(2), rows[2].Position)
}

func TestAppendWatchHistory_UnknownVideo(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO watch_history").
		WithArgs("viewer", "missing").
		WillReturnError(&pq.Error{Code: "23503"})

	_, err := r.AppendWatchHistory(context.Background(), "viewer", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendWatchHistory_ReturnsPosition(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery("INSERT INTO watch_history").
		WithArgs("viewer", "v1").
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(42))

	pos, err := r.AppendWatchHistory(context.Background(), "viewer", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos)
}

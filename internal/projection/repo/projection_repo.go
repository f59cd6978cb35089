package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/samber/oops"

	accountrepo "github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/projection/entity"
)

var ErrNotFound = errors.New("not found")

// ProjectionRepo runs the read-side joins over accounts, subscriptions,
// videos and watch history.
type ProjectionRepo struct {
	db *sqlx.DB
}

func NewProjectionRepo(db *sqlx.DB) *ProjectionRepo { return &ProjectionRepo{db: db} }

// ChannelProfile loads the channel and its derived counters in one
// statement. viewerID may be empty, in which case is_subscribed is false.
func (r *ProjectionRepo) ChannelProfile(ctx context.Context, username, viewerID string) (*entity.ChannelView, error) {
	const q = `SELECT a.id, a.username, a.full_name, a.email, a.avatar_url, a.cover_image_url,
		(SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = a.id) AS subscribers_count,
		(SELECT COUNT(*) FROM subscriptions s WHERE s.subscriber_id = a.id) AS subscribed_to_count,
		(CAST($2 AS text) <> '' AND EXISTS (
			SELECT 1 FROM subscriptions s WHERE s.channel_id = a.id AND s.subscriber_id = CAST($2 AS text)
		)) AS is_subscribed
	FROM accounts a
	WHERE a.username = $1`
	var v entity.ChannelView
	if err := r.db.GetContext(ctx, &v, q, username, viewerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "channel profile").With("username", username).Wrap(err)
	}
	return &v, nil
}

// Exists reports whether the account is present.
func (r *ProjectionRepo) Exists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id=$1)`, accountID); err != nil {
		return false, oops.With("operation", "check account exists").With("account_id", accountID).Wrap(err)
	}
	return exists, nil
}

// WatchHistoryRows returns the history join in stored (append) order.
func (r *ProjectionRepo) WatchHistoryRows(ctx context.Context, accountID string) ([]entity.WatchHistoryRow, error) {
	const q = `SELECT h.position, v.id AS video_id, v.owner_id, v.title, v.description,
		v.thumbnail_url, v.video_url, v.duration_seconds, v.views, v.is_published, v.created_at,
		o.username AS owner_username, o.full_name AS owner_full_name, o.avatar_url AS owner_avatar
	FROM watch_history h
	JOIN videos v ON v.id = h.video_id
	JOIN accounts o ON o.id = v.owner_id
	WHERE h.account_id = $1
	ORDER BY h.position ASC`
	var rows []entity.WatchHistoryRow
	if err := r.db.SelectContext(ctx, &rows, q, accountID); err != nil {
		return nil, oops.With("operation", "watch history").With("account_id", accountID).Wrap(err)
	}
	return rows, nil
}

// AppendWatchHistory records that accountID watched videoID and returns the
// entry position. Unknown accounts or videos yield ErrNotFound.
func (r *ProjectionRepo) AppendWatchHistory(ctx context.Context, accountID, videoID string) (int64, error) {
	const q = `INSERT INTO watch_history (account_id, video_id) VALUES ($1, $2) RETURNING position`
	var pos int64
	if err := r.db.GetContext(ctx, &pos, q, accountID, videoID); err != nil {
		if accountrepo.IsForeignKeyViolation(err) {
			return 0, ErrNotFound
		}
		return 0, oops.With("operation", "append watch history").
			With("account_id", accountID).
			With("video_id", videoID).
			Wrap(err)
	}
	return pos, nil
}

package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/samber/oops"

	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription/entity"
)

var ErrNotFound = errors.New("channel not found")

type SubscriptionRepo struct {
	db *sqlx.DB
}

func NewSubscriptionRepo(db *sqlx.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// AccountIDByUsername resolves a channel username (case-insensitive) to its account id.
func (r *SubscriptionRepo) AccountIDByUsername(ctx context.Context, username string) (string, error) {
	var id string
	if err := r.db.GetContext(ctx, &id, `SELECT id FROM accounts WHERE username=$1`, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", oops.With("operation", "resolve channel").With("username", username).Wrap(err)
	}
	return id, nil
}

// Subscribe inserts the edge unless it already exists. created is false when
// the pair was already present; s.CreatedAt is only set when created.
func (r *SubscriptionRepo) Subscribe(ctx context.Context, s *entity.Subscription) (bool, error) {
	const q = `INSERT INTO subscriptions (id, subscriber_id, channel_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, channel_id) DO NOTHING
		RETURNING created_at`
	if err := r.db.GetContext(ctx, &s.CreatedAt, q, s.ID, s.SubscriberID, s.ChannelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, oops.With("operation", "subscribe").
			With("subscriber_id", s.SubscriberID).
			With("channel_id", s.ChannelID).
			Wrap(err)
	}
	return true, nil
}

// Unsubscribe deletes the edge. removed is false when it did not exist.
func (r *SubscriptionRepo) Unsubscribe(ctx context.Context, subscriberID, channelID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE subscriber_id=$1 AND channel_id=$2`, subscriberID, channelID)
	if err != nil {
		return false, oops.With("operation", "unsubscribe").
			With("subscriber_id", subscriberID).
			With("channel_id", channelID).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Wrap(err)
	}
	return n > 0, nil
}

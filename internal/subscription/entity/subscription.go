package entity

import "time"

// Subscription is a directed edge: SubscriberID follows ChannelID.
type Subscription struct {
	ID           string    `db:"id" json:"id"`
	SubscriberID string    `db:"subscriber_id" json:"subscriberId"`
	ChannelID    string    `db:"channel_id" json:"channelId"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

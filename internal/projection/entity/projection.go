package entity

import "time"

// ChannelView is the public profile of a channel plus viewer-relative fields.
type ChannelView struct {
	ID                string `db:"id" json:"id"`
	Username          string `db:"username" json:"username"`
	FullName          string `db:"full_name" json:"fullName"`
	Email             string `db:"email" json:"email"`
	Avatar            string `db:"avatar_url" json:"avatar"`
	CoverImage        string `db:"cover_image_url" json:"coverImage"`
	SubscribersCount  int64  `db:"subscribers_count" json:"subscribersCount"`
	SubscribedToCount int64  `db:"subscribed_to_count" json:"subscribedToCount"`
	IsSubscribed      bool   `db:"is_subscribed" json:"isSubscribed"`
}

// OwnerProjection is the minimal public view of a video's owner.
type OwnerProjection struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

// Video is a row of the videos table.
type Video struct {
	ID              string    `db:"id" json:"id"`
	OwnerID         string    `db:"owner_id" json:"-"`
	Title           string    `db:"title" json:"title"`
	Description     string    `db:"description" json:"description"`
	ThumbnailURL    string    `db:"thumbnail_url" json:"thumbnail"`
	VideoURL        string    `db:"video_url" json:"videoFile"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration"`
	Views           int64     `db:"views" json:"views"`
	IsPublished     bool      `db:"is_published" json:"isPublished"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// EnrichedVideo is a watch-history entry with exactly one owner attached.
type EnrichedVideo struct {
	Video
	Owner OwnerProjection `json:"owner"`
}

// WatchHistoryRow is one row of the history/video/owner join. A position
// may appear on several rows when the join yields more than one owner
// candidate.
type WatchHistoryRow struct {
	Position        int64     `db:"position"`
	VideoID         string    `db:"video_id"`
	OwnerID         string    `db:"owner_id"`
	Title           string    `db:"title"`
	Description     string    `db:"description"`
	ThumbnailURL    string    `db:"thumbnail_url"`
	VideoURL        string    `db:"video_url"`
	DurationSeconds float64   `db:"duration_seconds"`
	Views           int64     `db:"views"`
	IsPublished     bool      `db:"is_published"`
	CreatedAt       time.Time `db:"created_at"`
	OwnerUsername   string    `db:"owner_username"`
	OwnerFullName   string    `db:"owner_full_name"`
	OwnerAvatar     string    `db:"owner_avatar"`
}

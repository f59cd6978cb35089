package projection

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/projection/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/projection/repo"
)

type Store interface {
	ChannelProfile(ctx context.Context, username, viewerID string) (*entity.ChannelView, error)
	Exists(ctx context.Context, accountID string) (bool, error)
	WatchHistoryRows(ctx context.Context, accountID string) ([]entity.WatchHistoryRow, error)
	AppendWatchHistory(ctx context.Context, accountID, videoID string) (int64, error)
}

// Service builds read models over accounts, subscriptions and watch history.
type Service struct {
	store  Store
	logger *zap.SugaredLogger
}

func NewService(store Store, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, logger: logger}
}

// GetChannelProfile returns the channel's public profile with counters
// computed at read time. viewerID is empty for anonymous callers.
func (s *Service) GetChannelProfile(ctx context.Context, username, viewerID string) (*entity.ChannelView, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is missing")
	}
	v, err := s.store.ChannelProfile(ctx, username, viewerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperror.NotFound("channel", username)
		}
		return nil, apperror.Persistence("channel profile", err)
	}
	if viewerID == "" {
		v.IsSubscribed = false
	}
	return v, nil
}

// GetWatchHistory returns the account's history in stored order. Every
// entry carries exactly one owner; when the join yields several candidates
// for one entry the first is used.
func (s *Service) GetWatchHistory(ctx context.Context, accountID string) ([]entity.EnrichedVideo, error) {
	ok, err := s.store.Exists(ctx, accountID)
	if err != nil {
		return nil, apperror.Persistence("check account", err)
	}
	if !ok {
		return nil, apperror.NotFound("user", accountID)
	}
	rows, err := s.store.WatchHistoryRows(ctx, accountID)
	if err != nil {
		return nil, apperror.Persistence("watch history", err)
	}
	return collapseHistory(rows), nil
}

func collapseHistory(rows []entity.WatchHistoryRow) []entity.EnrichedVideo {
	out := make([]entity.EnrichedVideo, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		if _, dup := seen[r.Position]; dup {
			continue
		}
		seen[r.Position] = struct{}{}
		out = append(out, entity.EnrichedVideo{
			Video: entity.Video{
				ID:              r.VideoID,
				OwnerID:         r.OwnerID,
				Title:           r.Title,
				Description:     r.Description,
				ThumbnailURL:    r.ThumbnailURL,
				VideoURL:        r.VideoURL,
				DurationSeconds: r.DurationSeconds,
				Views:           r.Views,
				IsPublished:     r.IsPublished,
				CreatedAt:       r.CreatedAt,
			},
			Owner: entity.OwnerProjection{
				Username: r.OwnerUsername,
				FullName: r.OwnerFullName,
				Avatar:   r.OwnerAvatar,
			},
		})
	}
	return out
}

// RecordWatch appends videoID to the account's history. Repeated views are
// kept as separate entries.
func (s *Service) RecordWatch(ctx context.Context, accountID, videoID string) (int64, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return 0, apperror.ValidationFailed("videoId", "videoId is required")
	}
	pos, err := s.store.AppendWatchHistory(context.WithoutCancel(ctx), accountID, videoID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, apperror.NotFound("video", videoID)
		}
		return 0, apperror.Persistence("record watch", err)
	}
	s.logger.Debugw("watch recorded", "account_id", accountID, "video_id", videoID, "position", pos)
	return pos, nil
}

package subscription

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

type Store interface {
	AccountIDByUsername(ctx context.Context, username string) (string, error)
	Subscribe(ctx context.Context, s *entity.Subscription) (bool, error)
	Unsubscribe(ctx context.Context, subscriberID, channelID string) (bool, error)
}

// Service maintains subscription edges between accounts.
type Service struct {
	store  Store
	logger *zap.SugaredLogger
}

func NewService(store Store, logger *zap.SugaredLogger) *Service {
	return &Service{store: store, logger: logger}
}

// Subscribe makes subscriberID follow the channel. Subscribing twice is not
// an error; created reports whether a new edge was written.
func (s *Service) Subscribe(ctx context.Context, subscriberID, channelUsername string) (*entity.Subscription, bool, error) {
	ctx = context.WithoutCancel(ctx)
	channelID, err := s.resolve(ctx, channelUsername)
	if err != nil {
		return nil, false, err
	}
	if channelID == subscriberID {
		return nil, false, apperror.ValidationFailed("username", "cannot subscribe to your own channel")
	}
	sub := &entity.Subscription{ID: utilities.NewKSUID(), SubscriberID: subscriberID, ChannelID: channelID}
	created, err := s.store.Subscribe(ctx, sub)
	if err != nil {
		return nil, false, apperror.Persistence("subscribe", err)
	}
	if created {
		s.logger.Infow("subscribed", "subscriber_id", subscriberID, "channel_id", channelID)
	}
	return sub, created, nil
}

// Unsubscribe removes the edge if present.
func (s *Service) Unsubscribe(ctx context.Context, subscriberID, channelUsername string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	channelID, err := s.resolve(ctx, channelUsername)
	if err != nil {
		return false, err
	}
	removed, err := s.store.Unsubscribe(ctx, subscriberID, channelID)
	if err != nil {
		return false, apperror.Persistence("unsubscribe", err)
	}
	if removed {
		s.logger.Infow("unsubscribed", "subscriber_id", subscriberID, "channel_id", channelID)
	}
	return removed, nil
}

func (s *Service) resolve(ctx context.Context, username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return "", apperror.ValidationFailed("username", "username is missing")
	}
	id, err := s.store.AccountIDByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", apperror.NotFound("channel", username)
		}
		return "", apperror.Persistence("resolve channel", err)
	}
	return id, nil
}

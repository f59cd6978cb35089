// Package memstore is an in-memory implementation of every store interface
// of the service, used by service and router tests.
package memstore

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	accountentity "github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	projectionentity "github.com/ovaphlow/pitchfork/service-identity/internal/projection/entity"
	projectionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/projection/repo"
	subscriptionentity "github.com/ovaphlow/pitchfork/service-identity/internal/subscription/entity"
	subscriptionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/subscription/repo"
)

type historyEntry struct {
	position int64
	videoID  string
}

// Store keeps all tables in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	accounts map[string]*accountentity.Account
	videos   map[string]projectionentity.Video
	subs     []subscriptionentity.Subscription
	history  map[string][]historyEntry
	nextPos  int64
	failures map[string]error
}

func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:    clock,
		accounts: map[string]*accountentity.Account{},
		videos:   map[string]projectionentity.Video{},
		history:  map[string][]historyEntry{},
		failures: map[string]error{},
	}
}

// FailOn makes every later call of method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) fail(method string) error { return s.failures[method] }

// Account returns a copy of the stored row, or nil.
func (s *Store) Account(id string) *accountentity.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// AccountCount returns the number of stored accounts.
func (s *Store) AccountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// AddVideo inserts a video row.
func (s *Store) AddVideo(v projectionentity.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.clock.Now()
	}
	s.videos[v.ID] = v
}

func (s *Store) byUsername(username string) *accountentity.Account {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			return a
		}
	}
	return nil
}

func (s *Store) byEmail(email string) *accountentity.Account {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

// --- accounts ---

func (s *Store) Create(_ context.Context, a *accountentity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Create"); err != nil {
		return err
	}
	if s.byUsername(a.Username) != nil || s.byEmail(a.Email) != nil {
		return accountrepo.ErrDuplicate
	}
	cp := *a
	now := s.clock.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ExistsByUsernameOrEmail"); err != nil {
		return false, err
	}
	return s.byUsername(username) != nil || s.byEmail(email) != nil, nil
}

func (s *Store) FindByUsernameOrEmail(_ context.Context, username, email string) (*accountentity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a *accountentity.Account
	if username != "" {
		a = s.byUsername(username)
	}
	if a == nil && email != "" {
		a = s.byEmail(email)
	}
	if a == nil {
		return nil, accountrepo.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetByID(_ context.Context, id string) (*accountentity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, accountrepo.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (*accountentity.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetProfile"); err != nil {
		return nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, accountrepo.ErrNotFound
	}
	return a.Profile(), nil
}

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Exists"); err != nil {
		return false, err
	}
	_, ok := s.accounts[id]
	return ok, nil
}

// Delete removes an account row.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
}

func (s *Store) UpdatePassword(_ context.Context, id, hash, algo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return accountrepo.ErrNotFound
	}
	a.PasswordHash, a.PasswordAlgo, a.UpdatedAt = hash, algo, s.clock.Now()
	return nil
}

func (s *Store) UpdateDetails(_ context.Context, id, fullName, email string) (*accountentity.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, accountrepo.ErrNotFound
	}
	if other := s.byEmail(email); other != nil && other.ID != id {
		return nil, accountrepo.ErrDuplicate
	}
	a.FullName, a.Email, a.UpdatedAt = fullName, email, s.clock.Now()
	return a.Profile(), nil
}

func (s *Store) SetRefreshToken(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetRefreshToken"); err != nil {
		return err
	}
	a, ok := s.accounts[id]
	if !ok {
		return accountrepo.ErrNotFound
	}
	a.RefreshToken = sql.NullString{String: token, Valid: true}
	return nil
}

func (s *Store) SwapRefreshToken(_ context.Context, id, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SwapRefreshToken"); err != nil {
		return false, err
	}
	a, ok := s.accounts[id]
	if !ok || !a.RefreshToken.Valid || a.RefreshToken.String != expected {
		return false, nil
	}
	a.RefreshToken.String = next
	return true, nil
}

func (s *Store) ClearRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClearRefreshToken"); err != nil {
		return err
	}
	if a, ok := s.accounts[id]; ok {
		a.RefreshToken = sql.NullString{}
	}
	return nil
}

func (s *Store) RefreshToken(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return "", accountrepo.ErrNotFound
	}
	return a.RefreshToken.String, nil
}

func (s *Store) SwapAsset(_ context.Context, id string, field accountentity.AssetField, next accountentity.Asset) (accountentity.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SwapAsset"); err != nil {
		return accountentity.Asset{}, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return accountentity.Asset{}, accountrepo.ErrNotFound
	}
	prev := a.Asset(field)
	a.SetAsset(field, next)
	a.UpdatedAt = s.clock.Now()
	return prev, nil
}

// --- subscriptions ---

func (s *Store) AccountIDByUsername(_ context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.byUsername(username)
	if a == nil {
		return "", subscriptionrepo.ErrNotFound
	}
	return a.ID, nil
}

func (s *Store) Subscribe(_ context.Context, sub *subscriptionentity.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.subs {
		if e.SubscriberID == sub.SubscriberID && e.ChannelID == sub.ChannelID {
			return false, nil
		}
	}
	sub.CreatedAt = s.clock.Now()
	s.subs = append(s.subs, *sub)
	return true, nil
}

func (s *Store) Unsubscribe(_ context.Context, subscriberID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.subs {
		if e.SubscriberID == subscriberID && e.ChannelID == channelID {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// --- projections ---

func (s *Store) ChannelProfile(_ context.Context, username, viewerID string) (*projectionentity.ChannelView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ChannelProfile"); err != nil {
		return nil, err
	}
	a := s.byUsername(username)
	if a == nil {
		return nil, projectionrepo.ErrNotFound
	}
	v := &projectionentity.ChannelView{
		ID:         a.ID,
		Username:   a.Username,
		FullName:   a.FullName,
		Email:      a.Email,
		Avatar:     a.AvatarURL,
		CoverImage: a.CoverImageURL,
	}
	for _, e := range s.subs {
		if e.ChannelID == a.ID {
			v.SubscribersCount++
			if viewerID != "" && e.SubscriberID == viewerID {
				v.IsSubscribed = true
			}
		}
		if e.SubscriberID == a.ID {
			v.SubscribedToCount++
		}
	}
	return v, nil
}

func (s *Store) WatchHistoryRows(_ context.Context, accountID string) ([]projectionentity.WatchHistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []projectionentity.WatchHistoryRow
	for _, h := range s.history[accountID] {
		v, ok := s.videos[h.videoID]
		if !ok {
			continue
		}
		owner, ok := s.accounts[v.OwnerID]
		if !ok {
			continue
		}
		rows = append(rows, projectionentity.WatchHistoryRow{
			Position:        h.position,
			VideoID:         v.ID,
			OwnerID:         v.OwnerID,
			Title:           v.Title,
			Description:     v.Description,
			ThumbnailURL:    v.ThumbnailURL,
			VideoURL:        v.VideoURL,
			DurationSeconds: v.DurationSeconds,
			Views:           v.Views,
			IsPublished:     v.IsPublished,
			CreatedAt:       v.CreatedAt,
			OwnerUsername:   owner.Username,
			OwnerFullName:   owner.FullName,
			OwnerAvatar:     owner.AvatarURL,
		})
	}
	return rows, nil
}

func (s *Store) AppendWatchHistory(_ context.Context, accountID, videoID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return 0, projectionrepo.ErrNotFound
	}
	if _, ok := s.videos[videoID]; !ok {
		return 0, projectionrepo.ErrNotFound
	}
	s.nextPos++
	s.history[accountID] = append(s.history[accountID], historyEntry{position: s.nextPos, videoID: videoID})
	return s.nextPos, nil
}

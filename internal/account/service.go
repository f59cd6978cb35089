package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/media"
	"github.com/ovaphlow/pitchfork/service-identity/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// Store is the credential store used by the account service.
type Store interface {
	Create(ctx context.Context, a *entity.Account) error
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*entity.Account, error)
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	GetProfile(ctx context.Context, id string) (*entity.Profile, error)
	UpdatePassword(ctx context.Context, id, hash, algo string) error
	UpdateDetails(ctx context.Context, id, fullName, email string) (*entity.Profile, error)
}

// Assets uploads, replaces and discards profile assets.
type Assets interface {
	Upload(ctx context.Context, field entity.AssetField, file media.LocalFile) (entity.Asset, error)
	ReplaceAsset(ctx context.Context, accountID string, field entity.AssetField, file media.LocalFile) (string, error)
	Discard(ctx context.Context, field entity.AssetField, asset entity.Asset)
	RemoveTemp(file media.LocalFile)
}

// Tokens issues a fresh session for an account.
type Tokens interface {
	IssuePair(ctx context.Context, accountID string) (session.Pair, error)
}

// Service orchestrates registration, login and profile maintenance.
type Service struct {
	store       Store
	assets      Assets
	tokens      Tokens
	hasher      PasswordHasher
	ids         *utilities.IDGenerator
	hashTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger

	dummyOnce sync.Once
	dummy     string
}

func NewService(store Store, assets Assets, tokens Tokens, hasher PasswordHasher, ids *utilities.IDGenerator, hashTimeout time.Duration, m *metrics.Metrics, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if hashTimeout <= 0 {
		hashTimeout = 5 * time.Second
	}
	return &Service{
		store:       store,
		assets:      assets,
		tokens:      tokens,
		hasher:      hasher,
		ids:         ids,
		hashTimeout: hashTimeout,
		metrics:     m,
		logger:      logger,
	}
}

// RegisterInput carries the registration form. Avatar is required, CoverImage optional.
type RegisterInput struct {
	FullName   string
	Email      string
	Username   string
	Password   string
	Avatar     *media.LocalFile
	CoverImage *media.LocalFile
}

// LoginInput needs a password and at least one of username or email.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is the safe profile plus the freshly issued pair.
type LoginResult struct {
	User *entity.Profile `json:"user"`
	session.Pair
}

// Register creates an account. Uploaded assets are removed again when the
// account cannot be persisted.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.Profile, error) {
	ctx = context.WithoutCancel(ctx)
	defer s.removeTemps(in.Avatar, in.CoverImage)

	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	for _, f := range []struct{ name, value string }{
		{"fullName", in.FullName},
		{"email", in.Email},
		{"username", in.Username},
		{"password", strings.TrimSpace(in.Password)},
	} {
		if f.value == "" {
			return nil, apperror.ValidationFailed(f.name, f.name+" is required")
		}
	}
	if !validEmail(in.Email) {
		return nil, apperror.ValidationFailed("email", "email must contain @")
	}

	taken, err := s.store.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, apperror.Persistence("check existing account", err)
	}
	if taken {
		return nil, apperror.Conflict("user with email or username already exists")
	}
	if in.Avatar == nil {
		return nil, apperror.ValidationFailed("avatar", "avatar file is required")
	}

	hashed, err := s.hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	avatar, cover, err := s.uploadRegistrationAssets(ctx, in.Avatar, in.CoverImage)
	if err != nil {
		return nil, err
	}

	acc := &entity.Account{
		ID:           s.ids.Next(),
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hashed.hash,
		PasswordAlgo: hashed.algo,
	}
	acc.SetAsset(entity.FieldAvatar, avatar)
	acc.SetAsset(entity.FieldCoverImage, cover)

	if err := s.store.Create(ctx, acc); err != nil {
		s.assets.Discard(ctx, entity.FieldAvatar, avatar)
		s.assets.Discard(ctx, entity.FieldCoverImage, cover)
		if errors.Is(err, accountrepo.ErrDuplicate) {
			return nil, apperror.Conflict("user with email or username already exists")
		}
		return nil, apperror.Persistence("create account", err)
	}

	profile, err := s.store.GetProfile(ctx, acc.ID)
	if err != nil || profile == nil {
		return nil, apperror.Persistence("read back account", err)
	}
	s.logger.Infow("account registered", "account_id", acc.ID, "username", acc.Username)
	return profile, nil
}

// uploadRegistrationAssets uploads avatar and cover in parallel. If either
// fails, the one that succeeded is discarded.
func (s *Service) uploadRegistrationAssets(ctx context.Context, avatarFile, coverFile *media.LocalFile) (entity.Asset, entity.Asset, error) {
	var (
		wg                  conc.WaitGroup
		avatar, cover       entity.Asset
		avatarErr, coverErr error
	)
	wg.Go(func() {
		avatar, avatarErr = s.assets.Upload(ctx, entity.FieldAvatar, *avatarFile)
	})
	if coverFile != nil {
		wg.Go(func() {
			cover, coverErr = s.assets.Upload(ctx, entity.FieldCoverImage, *coverFile)
		})
	}
	wg.Wait()

	if avatarErr == nil && coverErr == nil {
		return avatar, cover, nil
	}
	if avatarErr == nil {
		s.assets.Discard(ctx, entity.FieldAvatar, avatar)
		return entity.Asset{}, entity.Asset{}, coverErr
	}
	if coverErr == nil {
		s.assets.Discard(ctx, entity.FieldCoverImage, cover)
	}
	return entity.Asset{}, entity.Asset{}, avatarErr
}

// Login authenticates by username or email. NotFound and InvalidCredential
// are distinct here; the HTTP layer reports both the same way.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ctx = context.WithoutCancel(ctx)
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" && email == "" {
		return nil, apperror.ValidationFailed("username", "username or email is required")
	}

	acc, err := s.store.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			// compare against a throwaway digest so an unknown account costs
			// the same as a wrong password
			_, _ = s.verifyPassword(ctx, s.dummyDigest(), in.Password)
			s.metrics.Login("not_found")
			return nil, apperror.NotFound("user", username+email)
		}
		return nil, apperror.Persistence("find account", err)
	}

	ok, err := s.verifyPassword(ctx, acc.PasswordHash, in.Password)
	if err != nil {
		return nil, apperror.Persistence("verify password", err)
	}
	if !ok {
		s.metrics.Login("invalid_credentials")
		return nil, apperror.InvalidCredential()
	}

	pair, err := s.tokens.IssuePair(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.Login("ok")
	s.rehashIfNeeded(ctx, acc, in.Password)
	s.logger.Infow("logged in", "account_id", acc.ID)
	return &LoginResult{User: acc.Profile(), Pair: pair}, nil
}

// rehashIfNeeded upgrades a digest produced with an outdated cost. Failures
// only cost the upgrade.
func (s *Service) rehashIfNeeded(ctx context.Context, acc *entity.Account, pw string) {
	if !s.hasher.NeedsRehash(acc.PasswordHash) {
		return
	}
	hashed, err := s.hash(ctx, pw)
	if err == nil {
		err = s.store.UpdatePassword(ctx, acc.ID, hashed.hash, hashed.algo)
	}
	if err != nil {
		s.logger.Warnw("password rehash failed", "account_id", acc.ID, "err", err)
	}
}

// ChangePassword replaces the credential after verifying the old one.
// Existing sessions stay valid.
func (s *Service) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	ctx = context.WithoutCancel(ctx)
	if oldPassword == "" {
		return apperror.ValidationFailed("oldPassword", "oldPassword is required")
	}
	if strings.TrimSpace(newPassword) == "" {
		return apperror.ValidationFailed("newPassword", "newPassword is required")
	}
	acc, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			return apperror.NotFound("user", accountID)
		}
		return apperror.Persistence("load account", err)
	}
	ok, err := s.verifyPassword(ctx, acc.PasswordHash, oldPassword)
	if err != nil {
		return apperror.Persistence("verify password", err)
	}
	if !ok {
		return &apperror.AppError{Kind: apperror.KindInvalidCredential, Message: "invalid old password", Field: "oldPassword"}
	}
	hashed, err := s.hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, accountID, hashed.hash, hashed.algo); err != nil {
		return apperror.Persistence("update password", err)
	}
	s.logger.Infow("password changed", "account_id", accountID)
	return nil
}

// CurrentUser returns the safe profile of accountID.
func (s *Service) CurrentUser(ctx context.Context, accountID string) (*entity.Profile, error) {
	p, err := s.store.GetProfile(ctx, accountID)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			return nil, apperror.NotFound("user", accountID)
		}
		return nil, apperror.Persistence("load profile", err)
	}
	return p, nil
}

// EditDetails updates full name and email. Both are required.
func (s *Service) EditDetails(ctx context.Context, accountID, fullName, email string) (*entity.Profile, error) {
	ctx = context.WithoutCancel(ctx)
	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	if fullName == "" {
		return nil, apperror.ValidationFailed("fullName", "fullName is required")
	}
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if !validEmail(email) {
		return nil, apperror.ValidationFailed("email", "email must contain @")
	}
	p, err := s.store.UpdateDetails(ctx, accountID, fullName, email)
	if err != nil {
		switch {
		case errors.Is(err, accountrepo.ErrDuplicate):
			return nil, apperror.Conflict("email already in use")
		case errors.Is(err, accountrepo.ErrNotFound):
			return nil, apperror.NotFound("user", accountID)
		}
		return nil, apperror.Persistence("update details", err)
	}
	return p, nil
}

// UpdateAsset replaces the avatar or cover image and returns the updated profile.
func (s *Service) UpdateAsset(ctx context.Context, accountID string, field entity.AssetField, file *media.LocalFile) (*entity.Profile, error) {
	if file == nil {
		return nil, apperror.ValidationFailed(string(field), string(field)+" file is missing")
	}
	if _, err := s.assets.ReplaceAsset(ctx, accountID, field, *file); err != nil {
		return nil, err
	}
	return s.CurrentUser(context.WithoutCancel(ctx), accountID)
}

// dummyDigest is a digest of a random value at the configured cost, built
// on first use.
func (s *Service) dummyDigest() string {
	s.dummyOnce.Do(func() {
		h, _, err := s.hasher.Hash(utilities.NewKSUID())
		if err != nil {
			s.logger.Warnw("building dummy digest failed", "err", err)
			return
		}
		s.dummy = h
	})
	return s.dummy
}

func (s *Service) hash(ctx context.Context, pw string) (hashResult, error) {
	res, err := s.hashPassword(ctx, pw)
	if err != nil {
		return hashResult{}, apperror.Persistence("hash password", err)
	}
	if res.err != nil {
		if errors.Is(res.err, bcrypt.ErrPasswordTooLong) {
			return hashResult{}, apperror.ValidationFailed("password", "password must be at most 72 bytes")
		}
		return hashResult{}, apperror.Internal(res.err)
	}
	return res, nil
}

func (s *Service) removeTemps(files ...*media.LocalFile) {
	for _, f := range files {
		if f != nil {
			s.assets.RemoveTemp(*f)
		}
	}
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

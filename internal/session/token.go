package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	accountrepo "github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/metrics"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// TokenStore persists the single current refresh token of each account.
type TokenStore interface {
	SetRefreshToken(ctx context.Context, accountID, token string) error
	SwapRefreshToken(ctx context.Context, accountID, expected, next string) (bool, error)
	ClearRefreshToken(ctx context.Context, accountID string) error
	RefreshToken(ctx context.Context, accountID string) (string, error)
}

// Pair is an access token together with its refresh token.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Claims carried by both token kinds. Subject is the account id.
type Claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService mints, verifies, rotates and revokes tokens. Access and
// refresh tokens are signed with different HS256 secrets.
type TokenService struct {
	store   TokenStore
	cfg     config.TokenConfig
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewTokenService(store TokenStore, cfg config.TokenConfig, clock clockwork.Clock, m *metrics.Metrics, logger *zap.SugaredLogger) *TokenService {
	return &TokenService{store: store, cfg: cfg, clock: clock, metrics: m, logger: logger}
}

// IssuePair mints a new pair and stores the refresh token on the account,
// overwriting any previous one. No tokens are returned unless the write
// succeeded. The write runs to completion even if ctx is cancelled.
func (s *TokenService) IssuePair(ctx context.Context, accountID string) (Pair, error) {
	ctx = context.WithoutCancel(ctx)
	pair, err := s.mintPair(accountID)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.SetRefreshToken(ctx, accountID, pair.RefreshToken); err != nil {
		return Pair{}, apperror.Persistence("store refresh token", err)
	}
	return pair, nil
}

// VerifyAccess checks signature and expiry of an access token and returns
// its subject. It never touches storage.
func (s *TokenService) VerifyAccess(token string) (string, error) {
	claims, err := s.parse(token, s.cfg.AccessSecret, typeAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Refresh rotates both tokens. The presented refresh token must equal the
// stored one; a well-signed token that does not match has already been
// rotated away and is reported as TokenReused.
func (s *TokenService) Refresh(ctx context.Context, presented string) (Pair, error) {
	ctx = context.WithoutCancel(ctx)
	if presented == "" {
		return Pair{}, apperror.Unauthenticated("refresh token is required")
	}
	claims, err := s.parse(presented, s.cfg.RefreshSecret, typeRefresh)
	if err != nil {
		if errors.Is(err, apperror.ErrTokenExpired) {
			s.metrics.Refresh("expired")
		} else {
			s.metrics.Refresh("invalid")
		}
		return Pair{}, err
	}
	accountID := claims.Subject

	stored, err := s.store.RefreshToken(ctx, accountID)
	if err != nil {
		if errors.Is(err, accountrepo.ErrNotFound) {
			s.metrics.Refresh("invalid")
			return Pair{}, apperror.TokenInvalid(err)
		}
		return Pair{}, apperror.Persistence("load refresh token", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return Pair{}, s.reused(accountID, claims.ID)
	}

	pair, err := s.mintPair(accountID)
	if err != nil {
		return Pair{}, err
	}
	swapped, err := s.store.SwapRefreshToken(ctx, accountID, presented, pair.RefreshToken)
	if err != nil {
		return Pair{}, apperror.Persistence("rotate refresh token", err)
	}
	if !swapped {
		// a concurrent refresh rotated the same token first
		return Pair{}, s.reused(accountID, claims.ID)
	}
	s.metrics.Refresh("ok")
	return pair, nil
}

// Revoke clears the stored refresh token. It is idempotent.
func (s *TokenService) Revoke(ctx context.Context, accountID string) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.ClearRefreshToken(ctx, accountID); err != nil {
		return apperror.Persistence("revoke refresh token", err)
	}
	return nil
}

func (s *TokenService) reused(accountID, jti string) error {
	s.metrics.Refresh("reused")
	s.metrics.RefreshReused()
	s.logger.Warnw("refresh token reuse detected", "account_id", accountID, "jti", jti)
	return apperror.TokenReused()
}

func (s *TokenService) mintPair(accountID string) (Pair, error) {
	access, err := s.mint(accountID, typeAccess, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return Pair{}, apperror.Internal(err)
	}
	refresh, err := s.mint(accountID, typeRefresh, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, apperror.Internal(err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) mint(accountID, typ, secret string, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// unique per token so two pairs minted in the same second differ
			ID: ksuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *TokenService) parse(token, secret, typ string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.TokenExpired(err)
		}
		return nil, apperror.TokenInvalid(err)
	}
	if claims.Type != typ || claims.Subject == "" {
		return nil, apperror.TokenInvalid(errors.New("unexpected token type or subject"))
	}
	return claims, nil
}

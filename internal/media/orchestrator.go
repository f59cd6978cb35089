package media

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	accountrepo "github.com/ovaphlow/pitchfork/service-identity/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/metrics"
)

// AssetStore atomically swaps an account's asset reference.
type AssetStore interface {
	SwapAsset(ctx context.Context, accountID string, field entity.AssetField, next entity.Asset) (entity.Asset, error)
}

// Orchestrator sequences upload, account update and old-asset cleanup.
type Orchestrator struct {
	remote     RemoteStore
	accounts   AssetStore
	fs         afero.Fs
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
}

func NewOrchestrator(remote RemoteStore, accounts AssetStore, fs afero.Fs, cfg config.MediaConfig, m *metrics.Metrics, logger *zap.SugaredLogger) *Orchestrator {
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.DeleteAttempts
	if attempts == 0 {
		attempts = 1
	}
	return &Orchestrator{
		remote:     remote,
		accounts:   accounts,
		fs:         fs,
		timeout:    timeout,
		attempts:   attempts,
		retryDelay: 200 * time.Millisecond,
		metrics:    m,
		logger:     logger,
	}
}

// Upload stores file remotely and removes the temporary file before returning.
// The upload is not cancelled when ctx is, but is bounded by the configured timeout.
func (o *Orchestrator) Upload(ctx context.Context, field entity.AssetField, file LocalFile) (entity.Asset, error) {
	defer o.RemoveTemp(file)
	return o.upload(ctx, field, file)
}

// ReplaceAsset uploads file and points the account's field at it. On upload
// failure the account is left untouched. Failure to delete the previous
// remote object is logged and counted but does not fail the operation.
func (o *Orchestrator) ReplaceAsset(ctx context.Context, accountID string, field entity.AssetField, file LocalFile) (string, error) {
	defer o.RemoveTemp(file)
	if _, _, ok := field.Columns(); !ok {
		return "", apperror.ValidationFailed("field", "unknown asset field")
	}
	ctx = context.WithoutCancel(ctx)

	next, err := o.upload(ctx, field, file)
	if err != nil {
		return "", err
	}

	prev, err := o.accounts.SwapAsset(ctx, accountID, field, next)
	if err != nil {
		// the new object is not referenced by anything
		o.Discard(ctx, field, next)
		if errors.Is(err, accountrepo.ErrNotFound) {
			return "", apperror.NotFound("account", accountID)
		}
		return "", apperror.Persistence("update "+string(field), err)
	}

	if prev.RemoteID != "" && prev.RemoteID != next.RemoteID {
		o.Discard(ctx, field, prev)
	}
	o.logger.Infow("asset replaced", "account_id", accountID, "field", field, "remote_id", next.RemoteID)
	return next.URL, nil
}

// Discard deletes asset from the remote store, retrying a bounded number of
// times. Failures are reported, never returned.
func (o *Orchestrator) Discard(ctx context.Context, field entity.AssetField, asset entity.Asset) {
	if asset.RemoteID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	err := retry.Do(
		func() error { return o.remote.Delete(ctx, asset.RemoteID) },
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.Delay(o.retryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		o.metrics.AssetCleanupFailed(string(field))
		o.logger.Warnw("remote asset cleanup failed", "field", field, "remote_id", asset.RemoteID, "err", err)
	}
}

// RemoveTemp deletes the local temporary file, logging failures.
func (o *Orchestrator) RemoveTemp(file LocalFile) {
	if err := RemoveTemp(o.fs, file); err != nil {
		o.logger.Warnw("temp file removal failed", "path", file.Path, "err", err)
	}
}

func (o *Orchestrator) upload(ctx context.Context, field entity.AssetField, file LocalFile) (entity.Asset, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	asset, err := o.remote.Upload(ctx, prefixFor(field), file)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMedia) {
			return entity.Asset{}, apperror.AssetUploadFailed(string(field)+" must be an image", true, err)
		}
		o.logger.Warnw("asset upload failed", "field", field, "err", err)
		return entity.Asset{}, apperror.AssetUploadFailed(string(field)+" upload failed", false, err)
	}
	return asset, nil
}

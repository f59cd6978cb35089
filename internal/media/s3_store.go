package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/oops"
	"github.com/spf13/afero"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// objectAPI is the subset of *s3.Client used by S3Store.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store is a RemoteStore backed by an S3-compatible bucket.
type S3Store struct {
	client  objectAPI
	fs      afero.Fs
	clock   clockwork.Clock
	bucket  string
	baseURL string
}

// NewS3Store builds the S3 client from cfg. Static credentials are used when
// an access key is configured, otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg config.MediaConfig, fs afero.Fs, clock clockwork.Clock) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, oops.With("operation", "load aws config").Wrap(err)
	}
	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:  client,
		fs:      fs,
		clock:   clock,
		bucket:  cfg.Bucket,
		baseURL: publicBaseURL(cfg),
	}, nil
}

func publicBaseURL(cfg config.MediaConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// storageKey returns prefix/Y/M/D/<uuid>.
func storageKey(prefix string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%d/%d/%v", prefix, now.Year(), now.Month(), now.Day(), uuid.New())
}

// Upload sniffs the file content, rejects anything that is not an image and
// puts the object under a fresh key.
func (s *S3Store) Upload(ctx context.Context, prefix string, file LocalFile) (entity.Asset, error) {
	f, err := s.fs.Open(file.Path)
	if err != nil {
		return entity.Asset{}, oops.With("operation", "open temp file").With("path", file.Path).Wrap(err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return entity.Asset{}, oops.With("operation", "detect content type").Wrap(err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return entity.Asset{}, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mt.String())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return entity.Asset{}, oops.With("operation", "rewind temp file").Wrap(err)
	}

	key := storageKey(prefix, s.clock.Now()) + mt.Extension()
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(mt.String()),
	}
	if file.Size > 0 {
		in.ContentLength = aws.Int64(file.Size)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return entity.Asset{}, oops.With("operation", "put object").With("bucket", s.bucket).With("key", key).Wrap(err)
	}
	return entity.Asset{URL: s.baseURL + "/" + key, RemoteID: key}, nil
}

// Delete removes the object stored under remoteID.
func (s *S3Store) Delete(ctx context.Context, remoteID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remoteID),
	})
	if err != nil {
		return oops.With("operation", "delete object").With("bucket", s.bucket).With("key", remoteID).Wrap(err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// TokenConfig configures access and refresh token minting.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	// CookieSecure sets the Secure attribute on token cookies.
	CookieSecure bool
}

type PasswordConfig struct {
	BcryptCost  int
	HashTimeout time.Duration
}

// MediaConfig configures the S3-compatible remote store and local temp files.
type MediaConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	PublicBaseURL  string
	UploadTimeout  time.Duration
	DeleteAttempts uint
	TempDir        string
	MaxUploadBytes int64
}

// Config is built once at process start and handed to constructors.
type Config struct {
	HTTPAddr      string
	SnowflakeNode int64
	Database      database.Config
	Log           utilities.Config
	Token         TokenConfig
	Password      PasswordConfig
	Media         MediaConfig
}

// Load reads .env when present, then the environment.
func Load() Config {
	// best-effort: a missing .env is fine
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from defaults overridden by environment variables.
func FromEnv() Config {
	return Config{
		HTTPAddr:      envString("HTTP_ADDR", "0.0.0.0:8432"),
		SnowflakeNode: int64(envInt("SNOWFLAKE_NODE", 1)),
		Database:      database.ConfigFromEnv(),
		Log:           utilities.ConfigFromEnv(),
		Token: TokenConfig{
			AccessSecret:  os.Getenv("ACCESS_TOKEN_SECRET"),
			RefreshSecret: os.Getenv("REFRESH_TOKEN_SECRET"),
			AccessTTL:     envDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTTL:    envDuration("REFRESH_TOKEN_TTL", 240*time.Hour),
			Issuer:        envString("TOKEN_ISSUER", "pitchfork-identity"),
			CookieSecure:  envBool("COOKIE_SECURE", true),
		},
		Password: PasswordConfig{
			BcryptCost:  envInt("BCRYPT_COST", 12),
			HashTimeout: envDuration("PASSWORD_HASH_TIMEOUT", 5*time.Second),
		},
		Media: MediaConfig{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			Region:         envString("S3_REGION", "us-east-1"),
			Bucket:         envString("S3_BUCKET", "identity-media"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			PublicBaseURL:  os.Getenv("MEDIA_PUBLIC_BASE_URL"),
			UploadTimeout:  envDuration("MEDIA_UPLOAD_TIMEOUT", 30*time.Second),
			DeleteAttempts: uint(envInt("MEDIA_DELETE_ATTEMPTS", 3)),
			TempDir:        envString("MEDIA_TEMP_DIR", os.TempDir()),
			MaxUploadBytes: int64(envInt("MEDIA_MAX_UPLOAD_BYTES", 10<<20)),
		},
	}
}

// Validate rejects configurations the service cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	if len(c.Token.AccessSecret) < 16 {
		errs = append(errs, errors.New("ACCESS_TOKEN_SECRET must be at least 16 characters"))
	}
	if len(c.Token.RefreshSecret) < 16 {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET must be at least 16 characters"))
	}
	if c.Token.AccessSecret != "" && c.Token.AccessSecret == c.Token.RefreshSecret {
		errs = append(errs, errors.New("access and refresh token secrets must differ"))
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		errs = append(errs, errors.New("refresh token TTL must not be shorter than access token TTL"))
	}
	if c.Media.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required"))
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		errs = append(errs, fmt.Errorf("SNOWFLAKE_NODE %d out of range 0..1023", c.SnowflakeNode))
	}
	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

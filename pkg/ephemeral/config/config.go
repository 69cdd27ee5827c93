package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	limits := ephemeral.DefaultLimits()
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		LogLevel:        "info",
		BaseURL:         "http://localhost:8080",
		RedisURL:        "memory",
		StorageURL:      "memory://",
		S3:              S3Config{Region: "us-east-1", SSEAlgorithm: "AES256"},
		DefaultTTL:      limits.DefaultTTL,
		MaxTTL:          limits.MaxTTL,
		MaxTextBytes:    limits.MaxTextBytes,
		MaxFileBytes:    limits.MaxFileBytes,
		PresignTTL:      limits.PresignTTL,
		MaxRelayBytes:   limits.MaxRelayBytes,
		BroadcastMode:   "local",
		SubscriberQueue: 64,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		CleanupMode:     "sweep",
		CleanupInterval: time.Minute,
		CleanupGrace:    5 * time.Minute,
		CleanupBatch:    100,
	}
}

// ServerConfig represents server configuration for the ephemeral hub service.
// Field tags are read by cleanenv; see WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	BaseURL     string `env:"BASE_URL" env-default:"http://localhost:8080"`

	// Metadata store: "memory" or redis://[:password@]host:port/db
	RedisURL       string `env:"REDIS_URL" env-default:"memory"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX"`

	// Blob store: memory://, file:///path/to/data or s3://bucket
	StorageURL string `env:"STORAGE_URL" env-default:"memory://"`
	S3         S3Config

	// Hub limits
	DefaultTTL    time.Duration `env:"DEFAULT_TTL" env-default:"24h"`
	MaxTTL        time.Duration `env:"MAX_TTL" env-default:"168h"`
	MaxTextBytes  int           `env:"MAX_TEXT_BYTES" env-default:"100000"`
	MaxFileBytes  int64         `env:"MAX_FILE_BYTES" env-default:"1073741824"`
	PresignTTL    time.Duration `env:"PRESIGN_TTL" env-default:"15m"`
	MaxRelayBytes int           `env:"MAX_RELAY_BYTES" env-default:"65536"`

	// Secret for URLs served by the blob handlers (memory and file storage).
	// A random secret is generated when empty, which only suits a single instance.
	SigningSecret string `env:"SIGNING_SECRET"`

	// Live updates: "local" or "redis" (fan out across instances)
	BroadcastMode   string        `env:"BROADCAST_MODE" env-default:"local"`
	SubscriberQueue int           `env:"SUBSCRIBER_QUEUE" env-default:"64"`
	PingInterval    time.Duration `env:"WS_PING_INTERVAL" env-default:"30s"`
	PongWait        time.Duration `env:"WS_PONG_WAIT" env-default:"60s"`

	// Orphaned blob cleanup: "sweep" runs the janitor in-process, "external"
	// only indexes hubs for a separately scheduled `ephemerald sweep`, "off" does neither.
	CleanupMode     string        `env:"CLEANUP_MODE" env-default:"sweep"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" env-default:"1m"`
	CleanupGrace    time.Duration `env:"CLEANUP_GRACE" env-default:"5m"`
	CleanupBatch    int           `env:"CLEANUP_BATCH" env-default:"100"`
}

// S3Config holds the S3 settings that do not fit in STORAGE_URL
type S3Config struct {
	Region          string `env:"AWS_REGION" env-default:"us-east-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `env:"S3_ENDPOINT"`
	UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	KeyRoot         string `env:"S3_KEY_ROOT"`
	EnableSSE       bool   `env:"S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm    string `env:"S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID     string `env:"S3_SSE_KMS_KEY_ID"`
	CreateBucket    bool   `env:"S3_CREATE_BUCKET" env-default:"false"`
}

// StorageLocation is a parsed STORAGE_URL
type StorageLocation struct {
	Type   string // "memory", "fs", "s3"
	Path   string // base directory for fs
	Bucket string // bucket for s3
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if !c.UsesMemoryStore() && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fmt.Errorf("unsupported REDIS_URL format (use 'memory' or 'redis://...')")
	}

	loc, err := c.Storage()
	if err != nil {
		return err
	}
	if loc.Type == "s3" && c.S3.EnableSSE && c.S3.SSEAlgorithm != "AES256" && c.S3.SSEAlgorithm != "aws:kms" {
		return fmt.Errorf("invalid SSE algorithm %q", c.S3.SSEAlgorithm)
	}

	if err := validateLimits(c.Limits()); err != nil {
		return err
	}

	switch c.BroadcastMode {
	case "local":
	case "redis":
		if c.UsesMemoryStore() {
			return errors.New("broadcast mode 'redis' requires REDIS_URL")
		}
	default:
		return fmt.Errorf("broadcast mode must be 'local' or 'redis', got: %s", c.BroadcastMode)
	}
	if c.SubscriberQueue <= 0 {
		return errors.New("subscriber queue must be positive")
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("ws pong wait must be longer than a positive ping interval")
	}

	switch c.CleanupMode {
	case "sweep":
		if c.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
		fallthrough
	case "external":
		if c.CleanupBatch <= 0 {
			return errors.New("cleanup batch must be positive")
		}
	case "off":
	default:
		return fmt.Errorf("cleanup mode must be 'sweep', 'external' or 'off', got: %s", c.CleanupMode)
	}
	if c.CleanupGrace < 0 {
		return errors.New("cleanup grace cannot be negative")
	}

	return nil
}

// UsesMemoryStore reports whether hub metadata lives in process memory
func (c *ServerConfig) UsesMemoryStore() bool {
	return c.RedisURL == "" || c.RedisURL == "memory"
}

// Storage parses StorageURL
func (c *ServerConfig) Storage() (StorageLocation, error) {
	raw := c.StorageURL
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageLocation{Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageLocation{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/dir
			path = u.Host + u.Path
		}
		if path == "" {
			return StorageLocation{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageLocation{Type: "fs", Path: path}, nil
	case "s3":
		if u.Host == "" {
			return StorageLocation{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		return StorageLocation{Type: "s3", Bucket: u.Host}, nil
	}

	return StorageLocation{}, fmt.Errorf("unsupported STORAGE_URL scheme %q (use 'memory://', 'file://...', or 's3://...')", u.Scheme)
}

// Limits returns the hub limits described by the configuration
func (c *ServerConfig) Limits() ephemeral.Limits {
	limits := ephemeral.DefaultLimits()
	limits.DefaultTTL = c.DefaultTTL
	limits.MaxTTL = c.MaxTTL
	limits.MaxTextBytes = c.MaxTextBytes
	limits.MaxFileBytes = c.MaxFileBytes
	limits.PresignTTL = c.PresignTTL
	limits.MaxRelayBytes = c.MaxRelayBytes
	return limits
}

func validateLimits(l ephemeral.Limits) error {
	if l.DefaultTTL <= 0 {
		return errors.New("default ttl must be positive")
	}
	if l.MaxTTL < l.DefaultTTL {
		return fmt.Errorf("max ttl (%s) cannot be shorter than default ttl (%s)", l.MaxTTL, l.DefaultTTL)
	}
	if l.MaxTextBytes <= 0 {
		return errors.New("max text bytes must be positive")
	}
	if l.MaxFileBytes <= 0 {
		return errors.New("max file bytes must be positive")
	}
	if l.PresignTTL <= 0 {
		return errors.New("presign ttl must be positive")
	}
	if l.MaxRelayBytes <= 0 {
		return errors.New("max relay bytes must be positive")
	}
	return nil
}

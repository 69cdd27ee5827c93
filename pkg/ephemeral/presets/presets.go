package presets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/broadcast"
	"github.com/tendant/ephemeral/pkg/ephemeral/config"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
	memoryrepo "github.com/tendant/ephemeral/pkg/ephemeral/repo/memory"
	memorystorage "github.com/tendant/ephemeral/pkg/ephemeral/storage/memory"
)

// testBaseURL is the host in every URL a testing service hands out
const testBaseURL = "http://hub.test"

// Configuration Presets
//
// This package provides ready-made setups for the three places the hub
// service usually runs: a developer laptop, a test, and a deployment.

// NewDevelopment builds a complete app for local development.
//
// Features:
//   - In-memory hub metadata (instant startup, no Redis required)
//   - Filesystem storage at ./dev-data/ (blobs can be inspected on disk)
//   - Debug logging
//   - Short cleanup interval so expired hubs disappear quickly
//
// Returns:
//   - App with the service, HTTP routes and janitor
//   - Cleanup function (call with defer to remove the storage directory)
//   - Error if setup fails
//
// Example:
//
//	app, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
//
//	http.ListenAndServe(":8080", app.Server.Routes())
func NewDevelopment(opts ...DevelopmentOption) (*config.App, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		baseURL:    "http://localhost:8080",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	serverCfg, err := config.Load(
		config.WithEnvironment("development"),
		config.WithLogLevel("debug"),
		config.WithBaseURL(cfg.baseURL),
		config.WithMemoryStore(),
		config.WithFilesystemStorage(cfg.storageDir),
		config.WithCleanup(10*time.Second, 0),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load development config: %w", err)
	}

	app, err := serverCfg.Build(context.Background(), serverCfg.NewLogger(os.Stderr))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build development app: %w", err)
	}

	cleanup := func() {
		app.Close()
		os.RemoveAll(cfg.storageDir)
	}

	return app, cleanup, nil
}

// NewTesting creates a service for unit and integration tests.
//
// Features:
//   - In-memory metadata and blobs (isolated per test)
//   - Events delivered to an in-process broadcaster
//   - Optional fake clock shared by the service and the store
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    svc := presets.NewTesting(t)
//	    hub, err := svc.CreateHub(ctx, 0)
//	    ...
//	}
func NewTesting(t testing.TB, opts ...TestingOption) ephemeral.Service {
	t.Helper()

	cfg := &testConfig{
		now:    time.Now,
		limits: ephemeral.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	signer := presigned.New(
		presigned.WithSecretKey("test-secret"),
		presigned.WithBaseURL(testBaseURL),
		presigned.WithClock(cfg.now),
	)

	options := []ephemeral.Option{
		ephemeral.WithMetadataStore(memoryrepo.New(memoryrepo.WithClock(cfg.now))),
		ephemeral.WithBlobStore(memorystorage.New(memorystorage.WithSigner(signer))),
		ephemeral.WithClock(cfg.now),
		ephemeral.WithLimits(cfg.limits),
		ephemeral.WithBaseURL(testBaseURL),
	}
	if cfg.broadcaster != nil {
		options = append(options, ephemeral.WithPublisher(cfg.broadcaster))
	}

	svc, err := ephemeral.New(options...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	return svc
}

// NewProduction builds an app from the environment after checking it is
// fit to run more than one instance.
//
// Required Environment Variables:
//   - REDIS_URL: redis:// or rediss:// URL
//   - STORAGE_URL: s3://bucket or file:///shared/volume
//   - SIGNING_SECRET: unless STORAGE_URL is s3://
//
// Example:
//
//	app, err := presets.NewProduction(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
func NewProduction(ctx context.Context, opts ...config.Option) (*config.App, error) {
	serverCfg, err := config.Load(append([]config.Option{config.WithEnv(), config.WithEnvironment("production")}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := CheckProduction(serverCfg); err != nil {
		return nil, err
	}
	return serverCfg.Build(ctx, serverCfg.NewLogger(os.Stderr))
}

// CheckProduction rejects settings that only work for a single throwaway instance
func CheckProduction(cfg *config.ServerConfig) error {
	var errs []error

	if cfg.UsesMemoryStore() {
		errs = append(errs, errors.New("production requires REDIS_URL (memory store is per-process)"))
	}

	loc, err := cfg.Storage()
	if err != nil {
		errs = append(errs, err)
	} else {
		if loc.Type == "memory" {
			errs = append(errs, errors.New("production requires persistent storage (s3:// or file://, not memory)"))
		}
		if loc.Type != "s3" && cfg.SigningSecret == "" {
			errs = append(errs, errors.New("production requires SIGNING_SECRET for server-signed blob URLs"))
		}
	}

	if cfg.CleanupMode == "off" {
		errs = append(errs, errors.New("production requires CLEANUP_MODE sweep or external, otherwise blobs of expired hubs are never deleted"))
	}

	return errors.Join(errs...)
}

// devConfig holds development preset configuration
type devConfig struct {
	storageDir string
	baseURL    string
}

// testConfig holds testing preset configuration
type testConfig struct {
	now         func() time.Time
	limits      ephemeral.Limits
	broadcaster *broadcast.Broadcaster
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development storage directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevBaseURL sets the URL hub links and blob URLs are built from
func WithDevBaseURL(baseURL string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.baseURL = baseURL
	}
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestClock drives hub expiry from now instead of the wall clock
func WithTestClock(now func() time.Time) TestingOption {
	return func(cfg *testConfig) {
		cfg.now = now
	}
}

// WithTestLimits overrides the default limits
func WithTestLimits(limits ephemeral.Limits) TestingOption {
	return func(cfg *testConfig) {
		cfg.limits = limits
	}
}

// WithTestBroadcaster publishes events to b so tests can subscribe
func WithTestBroadcaster(b *broadcast.Broadcaster) TestingOption {
	return func(cfg *testConfig) {
		cfg.broadcaster = b
	}
}

// TestService is a convenience function that creates a test service
// This is an alias for NewTesting with no options
func TestService(t testing.TB) ephemeral.Service {
	t.Helper()
	return NewTesting(t)
}

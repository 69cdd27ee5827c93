package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/api"
	"github.com/tendant/ephemeral/pkg/ephemeral/broadcast"
	"github.com/tendant/ephemeral/pkg/ephemeral/janitor"
	"github.com/tendant/ephemeral/pkg/ephemeral/metrics"
	"github.com/tendant/ephemeral/pkg/ephemeral/objectkey"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
	memoryrepo "github.com/tendant/ephemeral/pkg/ephemeral/repo/memory"
	redisrepo "github.com/tendant/ephemeral/pkg/ephemeral/repo/redis"
	fsstorage "github.com/tendant/ephemeral/pkg/ephemeral/storage/fs"
	memorystorage "github.com/tendant/ephemeral/pkg/ephemeral/storage/memory"
	s3storage "github.com/tendant/ephemeral/pkg/ephemeral/storage/s3"
)

// App holds every component built from a ServerConfig
type App struct {
	Service     ephemeral.Service
	Server      *api.Server
	Broadcaster *broadcast.Broadcaster
	Metrics     *metrics.Collector

	// Relay is set when BROADCAST_MODE=redis; its Run loop must be started.
	Relay *broadcast.RedisRelay

	// Janitor is set when CLEANUP_MODE=sweep; its Run loop must be started.
	Janitor *janitor.Janitor

	redis *goredis.Client
}

// Close releases connections held by the app
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// Build constructs the service and its HTTP surface from the configuration
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics: %w", err)
	}
	app := &App{Metrics: collector}

	store, err := c.buildMetadataStore(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata store: %w", err)
	}

	signer, err := c.buildSigner(logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	blobs, servesBlobs, err := c.buildBlobStore(ctx, signer)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	app.Broadcaster = broadcast.New(
		broadcast.WithQueueSize(c.SubscriberQueue),
		broadcast.WithDropHook(collector.BroadcastDropped),
	)
	var publisher ephemeral.EventPublisher = app.Broadcaster
	if c.BroadcastMode == "redis" {
		relayOpts := []broadcast.RelayOption{broadcast.WithRelayLogger(logger)}
		if c.RedisKeyPrefix != "" {
			relayOpts = append(relayOpts, broadcast.WithChannelPrefix(c.RedisKeyPrefix+broadcast.DefaultChannelPrefix))
		}
		app.Relay = broadcast.NewRedisRelay(app.redis, app.Broadcaster, relayOpts...)
		publisher = app.Relay
	}

	var keys objectkey.Generator = objectkey.NewRecommendedGenerator()
	if c.S3.KeyRoot != "" {
		keys = objectkey.NewNamespacedGenerator(c.S3.KeyRoot)
	}

	svc, err := ephemeral.New(
		ephemeral.WithMetadataStore(store),
		ephemeral.WithBlobStore(blobs),
		ephemeral.WithPublisher(publisher),
		ephemeral.WithMetrics(collector),
		ephemeral.WithKeyGenerator(keys),
		ephemeral.WithLogger(logger),
		ephemeral.WithLimits(c.Limits()),
		ephemeral.WithBaseURL(c.BaseURL),
		ephemeral.WithOrphanCleanup(c.CleanupMode != "off"),
		ephemeral.WithCleanupGrace(c.CleanupGrace),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	app.Service = svc

	if c.CleanupMode == "sweep" {
		app.Janitor = janitor.New(svc, janitor.Options{
			Interval:  c.CleanupInterval,
			BatchSize: c.CleanupBatch,
			Logger:    logger,
		})
	}

	serverOpts := []api.ServerOption{
		api.WithBroadcaster(app.Broadcaster),
		api.WithMetrics(collector),
		api.WithLogger(logger),
		api.WithHeartbeat(c.PingInterval, c.PongWait),
	}
	if servesBlobs {
		serverOpts = append(serverOpts, api.WithBlobHandlers(presigned.NewHandlers(blobs, signer,
			presigned.WithMaxUploadBytes(c.MaxFileBytes),
			presigned.WithLogger(logger),
		)))
	}
	app.Server = api.NewServer(svc, serverOpts...)

	return app, nil
}

func (c *ServerConfig) buildMetadataStore(ctx context.Context, app *App) (ephemeral.MetadataStore, error) {
	if c.UsesMemoryStore() {
		return memoryrepo.New(), nil
	}

	client, err := redisrepo.NewClient(ctx, c.RedisURL)
	if err != nil {
		return nil, err
	}
	app.redis = client

	var opts []redisrepo.Option
	if c.RedisKeyPrefix != "" {
		opts = append(opts, redisrepo.WithKeyPrefix(c.RedisKeyPrefix))
	}
	return redisrepo.New(client, opts...), nil
}

func (c *ServerConfig) buildSigner(logger *slog.Logger) (*presigned.Signer, error) {
	secret := c.SigningSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		if loc, _ := c.Storage(); loc.Type != "s3" {
			logger.Warn("SIGNING_SECRET not set, using a random secret; blob URLs will not survive a restart or work across instances")
		}
	}

	return presigned.New(
		presigned.WithSecretKey(secret),
		presigned.WithBaseURL(c.BaseURL),
		presigned.WithDefaultExpiration(c.PresignTTL),
	), nil
}

// buildBlobStore reports whether the store's presigned URLs point back at this server
func (c *ServerConfig) buildBlobStore(ctx context.Context, signer *presigned.Signer) (ephemeral.BlobStore, bool, error) {
	loc, err := c.Storage()
	if err != nil {
		return nil, false, err
	}

	switch loc.Type {
	case "memory":
		return memorystorage.New(memorystorage.WithSigner(signer)), true, nil

	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: loc.Path, Signer: signer})
		if err != nil {
			return nil, false, err
		}
		return backend, true, nil

	case "s3":
		backend, err := s3storage.New(ctx, s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 loc.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		})
		if err != nil {
			return nil, false, err
		}
		return backend, false, nil
	}

	return nil, false, errors.New("unsupported storage type: " + loc.Type)
}

// Package redis implements ephemeral.MetadataStore on Redis.
//
// Each hub is a HASH at hub:{<id>} carrying a native expiry; its manifest is a
// second HASH at hub:{<id>}:files whose expiry is copied from the hub on every
// append. The braces are a cluster hash tag so both keys share a slot and can
// be touched by one script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

const (
	cleanupKey = "hubs:cleanup"

	fieldID        = "id"
	fieldContent   = "content"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

var (
	// KEYS: hub, files. ARGV: id, content, created_at, expires_at, ttl ms.
	createScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 1 then
			return 0
		end
		redis.call("HSET", KEYS[1], "id", ARGV[1], "content", ARGV[2], "created_at", ARGV[3], "expires_at", ARGV[4])
		redis.call("PEXPIRE", KEYS[1], ARGV[5])
		redis.call("DEL", KEYS[2])
		return 1
	`)

	// KEYS: hub. ARGV: content. HSET leaves the key's TTL untouched.
	updateTextScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 0 then
			return 0
		end
		redis.call("HSET", KEYS[1], "content", ARGV[1])
		return 1
	`)

	// KEYS: hub, files. ARGV: filename, entry json.
	appendFileScript = redis.NewScript(`
		local ttl = redis.call("PTTL", KEYS[1])
		if ttl == -2 then
			return 0
		end
		redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
		if ttl > 0 then
			redis.call("PEXPIRE", KEYS[2], ttl)
		end
		return 1
	`)
)

// Repository implements ephemeral.MetadataStore using Redis
type Repository struct {
	client       redis.UniversalClient
	prefix       string
	buildBackoff func() backoff.BackOff
}

// Option configures the Redis repository
type Option func(*Repository)

// WithKeyPrefix namespaces every key, for sharing a Redis database
func WithKeyPrefix(prefix string) Option {
	return func(r *Repository) {
		r.prefix = prefix
	}
}

// WithBackOff sets the retry policy for transient failures
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(r *Repository) {
		r.buildBackoff = factory
	}
}

// New creates a Redis-backed metadata store
func New(client redis.UniversalClient, opts ...Option) *Repository {
	r := &Repository{
		client: client,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = 3 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Create(ctx context.Context, hub *ephemeral.Hub, ttl time.Duration) error {
	// PEXPIRE 0 would drop the record as soon as it was written
	ttlMillis := ttl.Milliseconds()
	if ttlMillis < 1 {
		ttlMillis = 1
	}

	var created int
	err := r.retry(ctx, func() error {
		var err error
		created, err = createScript.Run(ctx, r.client,
			[]string{r.hubKey(hub.ID), r.filesKey(hub.ID)},
			hub.ID,
			hub.Content,
			formatTime(hub.CreatedAt),
			formatTime(hub.ExpiresAt),
			ttlMillis,
		).Int()
		return err
	})
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}
	if created == 0 {
		return ephemeral.ErrAlreadyExists
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*ephemeral.Hub, error) {
	var hubCmd, filesCmd *redis.MapStringStringCmd
	err := r.retry(ctx, func() error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			hubCmd = pipe.HGetAll(ctx, r.hubKey(id))
			filesCmd = pipe.HGetAll(ctx, r.filesKey(id))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get hub: %w", err)
	}

	fields := hubCmd.Val()
	if len(fields) == 0 {
		return nil, ephemeral.ErrHubNotFound
	}

	hub, err := decodeHub(fields)
	if err != nil {
		return nil, err
	}

	raw := filesCmd.Val()
	hub.Files = make([]ephemeral.FileEntry, 0, len(raw))
	for name, value := range raw {
		var entry ephemeral.FileEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("decode manifest entry %q: %w", name, err)
		}
		hub.Files = append(hub.Files, entry)
	}
	return hub, nil
}

func (r *Repository) UpdateText(ctx context.Context, id string, content string) error {
	var updated int
	err := r.retry(ctx, func() error {
		var err error
		updated, err = updateTextScript.Run(ctx, r.client, []string{r.hubKey(id)}, content).Int()
		return err
	})
	if err != nil {
		return fmt.Errorf("update text: %w", err)
	}
	if updated == 0 {
		return ephemeral.ErrHubNotFound
	}
	return nil
}

func (r *Repository) AppendFile(ctx context.Context, id string, entry ephemeral.FileEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode manifest entry: %w", err)
	}

	var appended int
	err = r.retry(ctx, func() error {
		var err error
		appended, err = appendFileScript.Run(ctx, r.client,
			[]string{r.hubKey(id), r.filesKey(id)},
			entry.Filename, string(data),
		).Int()
		return err
	})
	if err != nil {
		return fmt.Errorf("append file: %w", err)
	}
	if appended == 0 {
		return ephemeral.ErrHubNotFound
	}
	return nil
}

func (r *Repository) RemoveFile(ctx context.Context, id string, filename string) error {
	err := r.retry(ctx, func() error {
		return r.client.HDel(ctx, r.filesKey(id), filename).Err()
	})
	if err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (r *Repository) ScheduleCleanup(ctx context.Context, id string, at time.Time) error {
	err := r.retry(ctx, func() error {
		return r.client.ZAdd(ctx, r.key(cleanupKey), redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: id,
		}).Err()
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	return nil
}

func (r *Repository) DueForCleanup(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.retry(ctx, func() error {
		var err error
		ids, err = r.client.ZRangeByScore(ctx, r.key(cleanupKey), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: int64(max(limit, 0)),
		}).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list due cleanups: %w", err)
	}
	return ids, nil
}

func (r *Repository) CompleteCleanup(ctx context.Context, id string) (bool, error) {
	var removed int64
	err := r.retry(ctx, func() error {
		var err error
		removed, err = r.client.ZRem(ctx, r.key(cleanupKey), id).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("complete cleanup: %w", err)
	}
	return removed == 1, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ephemeral.ErrUnavailable, err)
	}
	return nil
}

func (r *Repository) key(name string) string {
	return r.prefix + name
}

func (r *Repository) hubKey(id string) string {
	return r.prefix + "hub:{" + id + "}"
}

func (r *Repository) filesKey(id string) string {
	return r.prefix + "hub:{" + id + "}:files"
}

// retry runs fn until it succeeds, fails permanently, or the backoff gives up.
// Only connection-level failures are retried; exhausting retries on one
// surfaces as ephemeral.ErrUnavailable.
func (r *Repository) retry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(r.buildBackoff(), ctx)
	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %v", ephemeral.ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, prefix := range []string{"LOADING", "READONLY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN"} {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func decodeHub(fields map[string]string) (*ephemeral.Hub, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}

	return &ephemeral.Hub{
		ID:        fields[fieldID],
		Content:   fields[fieldContent],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var _ ephemeral.MetadataStore = (*Repository)(nil)

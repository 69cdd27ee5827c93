package ephemeral

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/tendant/ephemeral/pkg/ephemeral/objectkey"
)

const defaultContentType = "application/octet-stream"

// minTTL is the shortest hub lifetime accepted by CreateHub.
const minTTL = time.Second

// minPresignTTL is the shortest lifetime handed to a blob store when signing.
const minPresignTTL = time.Second

// service implements the Service interface
type service struct {
	store     MetadataStore
	blobs     BlobStore
	publisher EventPublisher
	metrics   Metrics
	keys      objectkey.Generator
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
	limits    Limits
	baseURL   string

	cleanupEnabled bool
	cleanupGrace   time.Duration
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithMetadataStore sets the metadata store for the service
func WithMetadataStore(store MetadataStore) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithBlobStore sets the blob storage backend
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobs = store
	}
}

// WithPublisher sets where change events are delivered
func WithPublisher(publisher EventPublisher) Option {
	return func(s *service) {
		s.publisher = publisher
	}
}

// WithMetrics sets the metrics sink for the service
func WithMetrics(metrics Metrics) Option {
	return func(s *service) {
		s.metrics = metrics
	}
}

// WithKeyGenerator sets the object key layout
func WithKeyGenerator(keys objectkey.Generator) Option {
	return func(s *service) {
		s.keys = keys
	}
}

// WithIDGenerator replaces NewID, mainly so tests can force collisions
func WithIDGenerator(fn func() string) Option {
	return func(s *service) {
		s.newID = fn
	}
}

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithLimits overrides the default limits
func WithLimits(limits Limits) Option {
	return func(s *service) {
		s.limits = limits
	}
}

// WithBaseURL sets the public URL used to build hub links
func WithBaseURL(baseURL string) Option {
	return func(s *service) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithOrphanCleanup enables or disables scheduling of blob cleanup for new hubs
func WithOrphanCleanup(enabled bool) Option {
	return func(s *service) {
		s.cleanupEnabled = enabled
	}
}

// WithCleanupGrace sets how long after expiry a hub's blobs become eligible for cleanup
func WithCleanupGrace(grace time.Duration) Option {
	return func(s *service) {
		s.cleanupGrace = grace
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		publisher:      NewNoopPublisher(),
		metrics:        NewNoopMetrics(),
		keys:           objectkey.NewRecommendedGenerator(),
		newID:          NewID,
		now:            time.Now,
		logger:         slog.Default(),
		limits:         DefaultLimits(),
		cleanupEnabled: true,
		cleanupGrace:   5 * time.Minute,
	}

	for _, option := range options {
		option(s)
	}

	if s.store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if s.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.limits.MaxCreateAttempts < 1 {
		return nil, fmt.Errorf("max create attempts must be at least 1")
	}
	if s.limits.DefaultTTL <= 0 || s.limits.DefaultTTL > s.limits.MaxTTL {
		return nil, fmt.Errorf("default ttl must be positive and not exceed max ttl")
	}

	return s, nil
}

// Hub operations

func (s *service) CreateHub(ctx context.Context, ttl time.Duration) (*HubSummary, error) {
	if ttl <= 0 {
		ttl = s.limits.DefaultTTL
	}
	if ttl < minTTL {
		return nil, fmt.Errorf("%w: %s is below minimum %s", ErrInvalidTTL, ttl, minTTL)
	}
	if ttl > s.limits.MaxTTL {
		return nil, fmt.Errorf("%w: %s exceeds maximum %s", ErrInvalidTTL, ttl, s.limits.MaxTTL)
	}

	for attempt := 1; attempt <= s.limits.MaxCreateAttempts; attempt++ {
		now := s.now().UTC()
		hub := &Hub{
			ID:        s.newID(),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			Files:     []FileEntry{},
		}

		err := s.store.Create(ctx, hub, ttl)
		if errors.Is(err, ErrAlreadyExists) {
			s.metrics.IDCollision()
			s.logger.Warn("Hub id collision", "hub_id", hub.ID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, &HubError{HubID: hub.ID, Op: "create", Err: err}
		}

		s.metrics.HubCreated()
		s.scheduleCleanup(ctx, hub.ID, hub.ExpiresAt)
		s.logger.Info("Hub created", "hub_id", hub.ID, "expires_at", hub.ExpiresAt)
		return s.summary(hub), nil
	}

	s.metrics.CreationExhausted()
	s.logger.Error("Hub id allocation exhausted", "attempts", s.limits.MaxCreateAttempts)
	return nil, ErrCreationExhausted
}

func (s *service) GetHub(ctx context.Context, id string) (*Hub, error) {
	hub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, &HubError{HubID: id, Op: "get", Err: err}
	}
	sortFiles(hub.Files)
	return hub, nil
}

func (s *service) SetText(ctx context.Context, id string, content string) error {
	if len(content) > s.limits.MaxTextBytes {
		return &HubError{HubID: id, Op: "set_text", Err: ErrTooLarge}
	}
	if !utf8.ValidString(content) {
		return &HubError{HubID: id, Op: "set_text", Err: ErrInvalidText}
	}

	if err := s.store.UpdateText(ctx, id, content); err != nil {
		return &HubError{HubID: id, Op: "set_text", Err: err}
	}

	s.emit(ctx, id, EventTextUpdated, TextPayload{Content: content})
	return nil
}

// File operations

func (s *service) UploadFile(ctx context.Context, id, filename, contentType string, reader io.Reader) (*FileEntry, error) {
	if err := objectkey.ValidateFilename(filename); err != nil {
		return nil, &HubError{HubID: id, Op: "upload", Err: err}
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, &HubError{HubID: id, Op: "upload", Err: err}
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	key := s.keys.Key(id, filename)
	limited := newLimitReader(reader, s.limits.MaxFileBytes)
	size, err := s.blobs.PutStream(ctx, key, limited, contentType)
	if limited.Exceeded() {
		// The aborted stream published nothing; any earlier object under key stays.
		return nil, &HubError{HubID: id, Op: "upload", Err: ErrTooLarge}
	}
	if err != nil {
		return nil, &HubError{HubID: id, Op: "upload", Err: fmt.Errorf("%w: %w", ErrUploadFailed, err)}
	}

	entry := FileEntry{
		Filename:    filename,
		Size:        size,
		ContentType: contentType,
		StoredKey:   key,
		UploadedAt:  s.now().UTC(),
	}
	if err := s.commitFile(ctx, id, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *service) RequestUpload(ctx context.Context, id, filename, contentType string) (*UploadTicket, error) {
	if err := objectkey.ValidateFilename(filename); err != nil {
		return nil, &HubError{HubID: id, Op: "request_upload", Err: err}
	}
	hub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, &HubError{HubID: id, Op: "request_upload", Err: err}
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	key := s.keys.Key(id, filename)
	ttl := s.presignTTL(hub)
	url, err := s.blobs.PresignPut(ctx, key, contentType, ttl)
	if err != nil {
		return nil, &HubError{HubID: id, Op: "request_upload", Err: err}
	}

	return &UploadTicket{
		Filename:  filename,
		Key:       key,
		URL:       url,
		Method:    "PUT",
		ExpiresAt: s.now().UTC().Add(ttl),
	}, nil
}

func (s *service) ConfirmUpload(ctx context.Context, id, filename string) (*FileEntry, error) {
	if err := objectkey.ValidateFilename(filename); err != nil {
		return nil, &HubError{HubID: id, Op: "confirm_upload", Err: err}
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, &HubError{HubID: id, Op: "confirm_upload", Err: err}
	}

	key := s.keys.Key(id, filename)
	meta, err := s.blobs.Stat(ctx, key)
	if err != nil {
		return nil, &HubError{HubID: id, Op: "confirm_upload", Err: err}
	}
	if meta.Size > s.limits.MaxFileBytes {
		// The oversized PUT already replaced any earlier object under key, so the
		// object and its manifest entry both go.
		s.discardBlob(ctx, key)
		if err := s.store.RemoveFile(ctx, id, filename); err != nil && !errors.Is(err, ErrHubNotFound) {
			s.logger.Warn("Failed to drop manifest entry", "hub_id", id, "filename", filename, "err", err)
		}
		return nil, &HubError{HubID: id, Op: "confirm_upload", Err: ErrTooLarge}
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	entry := FileEntry{
		Filename:    filename,
		Size:        meta.Size,
		ContentType: contentType,
		StoredKey:   key,
		UploadedAt:  s.now().UTC(),
	}
	if err := s.commitFile(ctx, id, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *service) ListFiles(ctx context.Context, id string) ([]FileEntry, error) {
	hub, err := s.GetHub(ctx, id)
	if err != nil {
		return nil, err
	}
	return hub.Files, nil
}

func (s *service) DownloadURL(ctx context.Context, id, filename string) (string, error) {
	hub, err := s.store.Get(ctx, id)
	if err != nil {
		return "", &HubError{HubID: id, Op: "download_url", Err: err}
	}

	for _, f := range hub.Files {
		if f.Filename != filename {
			continue
		}
		url, err := s.blobs.PresignGet(ctx, f.StoredKey, f.Filename, s.presignTTL(hub))
		if err != nil {
			return "", &HubError{HubID: id, Op: "download_url", Err: err}
		}
		return url, nil
	}

	return "", &HubError{HubID: id, Op: "download_url", Err: ErrFileNotFound}
}

// Live operations

func (s *service) Relay(ctx context.Context, id string, kind EventType, payload json.RawMessage) error {
	if !kind.IsRelayable() {
		return &HubError{HubID: id, Op: "relay", Err: ErrInvalidEvent}
	}
	if len(payload) > s.limits.MaxRelayBytes {
		return &HubError{HubID: id, Op: "relay", Err: ErrTooLarge}
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return &HubError{HubID: id, Op: "relay", Err: err}
	}

	return s.publisher.Publish(ctx, Event{
		Type:    kind,
		HubID:   id,
		Payload: payload,
		At:      s.now().UTC(),
	})
}

// Maintenance

func (s *service) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.DueForCleanup(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due hubs: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		hub, err := s.store.Get(ctx, id)
		if err == nil {
			// Store still holds the hub, so its clock disagrees with ours.
			s.scheduleCleanup(ctx, id, hub.ExpiresAt)
			continue
		}
		if !errors.Is(err, ErrHubNotFound) {
			return reclaimed, &HubError{HubID: id, Op: "sweep", Err: err}
		}

		claimed, err := s.store.CompleteCleanup(ctx, id)
		if err != nil {
			return reclaimed, &HubError{HubID: id, Op: "sweep", Err: err}
		}
		if !claimed {
			continue
		}

		if err := s.blobs.DeletePrefix(ctx, s.keys.Prefix(id)); err != nil {
			s.logger.Warn("Failed to delete orphaned blobs, rescheduling", "hub_id", id, "err", err)
			s.scheduleCleanup(ctx, id, s.now())
			continue
		}
		reclaimed++
		s.logger.Debug("Orphaned blobs reclaimed", "hub_id", id)
	}

	if reclaimed > 0 {
		s.metrics.OrphansReclaimed(reclaimed)
		s.logger.Info("Orphan sweep finished", "reclaimed", reclaimed, "due", len(ids))
	}
	return reclaimed, nil
}

func (s *service) Limits() Limits {
	return s.limits
}

func (s *service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Helper methods

// commitFile appends a manifest entry for a blob that is already stored. If the
// hub expired in the meantime the blob is removed so nothing outlives it.
func (s *service) commitFile(ctx context.Context, id string, entry FileEntry) error {
	if err := s.store.AppendFile(ctx, id, entry); err != nil {
		if errors.Is(err, ErrHubNotFound) {
			s.discardBlob(ctx, entry.StoredKey)
		}
		return &HubError{HubID: id, Op: "append_file", Err: err}
	}

	s.metrics.FileUploaded(entry.Size)
	s.logger.Info("File added", "hub_id", id, "filename", entry.Filename, "size", entry.Size)
	s.emit(ctx, id, EventFileAdded, entry)
	return nil
}

func (s *service) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		s.logger.Warn("Failed to discard blob", "key", key, "err", err)
	}
}

func (s *service) scheduleCleanup(ctx context.Context, id string, expiresAt time.Time) {
	if !s.cleanupEnabled {
		return
	}
	if err := s.store.ScheduleCleanup(ctx, id, expiresAt.Add(s.cleanupGrace)); err != nil {
		s.logger.Warn("Failed to schedule blob cleanup", "hub_id", id, "err", err)
	}
}

// emit publishes a change event. Delivery failures never fail the mutation.
func (s *service) emit(ctx context.Context, id string, kind EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode event payload", "hub_id", id, "type", kind, "err", err)
		return
	}

	event := Event{Type: kind, HubID: id, Payload: raw, At: s.now().UTC()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "hub_id", id, "type", kind, "err", err)
	}
}

// presignTTL caps the configured URL lifetime so a URL never outlives its hub.
func (s *service) presignTTL(hub *Hub) time.Duration {
	ttl := s.limits.PresignTTL
	if left := hub.ExpiresAt.Sub(s.now()); left < ttl {
		ttl = left
	}
	return max(ttl, minPresignTTL)
}

func (s *service) summary(hub *Hub) *HubSummary {
	base := s.baseURL + "/hubs/" + hub.ID
	return &HubSummary{
		ID:        hub.ID,
		URL:       base,
		TextURL:   base + "/text",
		WSURL:     wsBase(s.baseURL) + "/ws/hubs/" + hub.ID,
		ExpiresAt: hub.ExpiresAt,
	}
}

func wsBase(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}

func sortFiles(files []FileEntry) {
	slices.SortFunc(files, func(a, b FileEntry) int {
		if c := a.UploadedAt.Compare(b.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Filename, b.Filename)
	})
}

// limitReader fails the stream once more than limit bytes have been read.
type limitReader struct {
	r         io.Reader
	remaining int64
	exceeded  atomic.Bool
}

func newLimitReader(r io.Reader, limit int64) *limitReader {
	return &limitReader{r: r, remaining: limit}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.exceeded.Load() {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded.Store(true)
		return 0, ErrTooLarge
	}
	return n, err
}

// Exceeded reports whether the underlying stream was longer than the limit.
func (l *limitReader) Exceeded() bool {
	return l.exceeded.Load()
}

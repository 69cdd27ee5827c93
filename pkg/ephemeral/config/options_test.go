package config

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWithPort(t *testing.T) {
	cfg, err := Load(WithPort("9090"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got: %s", cfg.Port)
	}
}

func TestWithPortEmpty(t *testing.T) {
	_, err := Load(WithPort(""))
	if err == nil {
		t.Error("expected error for empty port, got nil")
	}
}

func TestWithEnvironment(t *testing.T) {
	cfg, err := Load(WithEnvironment("production"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Environment != "production" {
		t.Errorf("expected environment production, got: %s", cfg.Environment)
	}
}

func TestWithRedis(t *testing.T) {
	cfg, err := Load(WithRedis("redis://localhost:6379/1", "staging:"), WithBroadcastMode("redis"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.UsesMemoryStore() {
		t.Error("expected redis store")
	}
	if cfg.RedisKeyPrefix != "staging:" {
		t.Errorf("expected key prefix staging:, got: %s", cfg.RedisKeyPrefix)
	}

	// Switching back to memory also drops cross-instance broadcast
	cfg, err = Load(WithRedis("redis://localhost:6379/1", ""), WithBroadcastMode("redis"), WithMemoryStore())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.BroadcastMode != "local" {
		t.Errorf("expected local broadcast, got: %s", cfg.BroadcastMode)
	}
}

func TestWithStorage(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want StorageLocation
	}{
		{"memory", []Option{WithMemoryStorage()}, StorageLocation{Type: "memory"}},
		{"filesystem", []Option{WithFilesystemStorage("/tmp/hubs")}, StorageLocation{Type: "fs", Path: "/tmp/hubs"}},
		{"s3", []Option{WithS3Storage("hub-blobs", "eu-west-1")}, StorageLocation{Type: "s3", Bucket: "hub-blobs"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.opts...)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			loc, err := cfg.Storage()
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if loc != tt.want {
				t.Errorf("expected %+v, got: %+v", tt.want, loc)
			}
		})
	}

	if _, err := Load(WithFilesystemStorage("")); err == nil {
		t.Error("expected error for empty base directory, got nil")
	}
	if _, err := Load(WithS3Storage("", "")); err == nil {
		t.Error("expected error for empty bucket, got nil")
	}
}

func TestWithS3Options(t *testing.T) {
	cfg, err := Load(
		WithS3Storage("hub-blobs", "eu-west-1"),
		WithS3Credentials("minioadmin", "minioadmin"),
		WithS3Endpoint("http://localhost:9000", true),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.S3.Region != "eu-west-1" {
		t.Errorf("expected region eu-west-1, got: %s", cfg.S3.Region)
	}
	if cfg.S3.AccessKeyID != "minioadmin" || cfg.S3.SecretAccessKey != "minioadmin" {
		t.Errorf("unexpected credentials: %+v", cfg.S3)
	}
	if cfg.S3.Endpoint != "http://localhost:9000" || !cfg.S3.UsePathStyle {
		t.Errorf("unexpected endpoint settings: %+v", cfg.S3)
	}
}

func TestWithTTL(t *testing.T) {
	cfg, err := Load(WithTTL(time.Hour, 12*time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.DefaultTTL != time.Hour || cfg.MaxTTL != 12*time.Hour {
		t.Errorf("unexpected ttl: %s / %s", cfg.DefaultTTL, cfg.MaxTTL)
	}

	if _, err := Load(WithTTL(2*time.Hour, time.Hour)); err == nil {
		t.Error("expected error when default exceeds max, got nil")
	}
	if _, err := Load(WithTTL(0, time.Hour)); err == nil {
		t.Error("expected error for zero default, got nil")
	}
}

func TestWithSizeLimits(t *testing.T) {
	cfg, err := Load(WithMaxTextBytes(10), WithMaxFileBytes(20))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Limits().MaxTextBytes != 10 || cfg.Limits().MaxFileBytes != 20 {
		t.Errorf("unexpected limits: %+v", cfg.Limits())
	}

	if _, err := Load(WithMaxTextBytes(0)); err == nil {
		t.Error("expected error for zero text limit, got nil")
	}
	if _, err := Load(WithMaxFileBytes(-1)); err == nil {
		t.Error("expected error for negative file limit, got nil")
	}
}

func TestWithBroadcastModeInvalid(t *testing.T) {
	if _, err := Load(WithBroadcastMode("kafka")); err == nil {
		t.Error("expected error for unknown broadcast mode, got nil")
	}
	if _, err := Load(WithBroadcastMode("redis")); err == nil {
		t.Error("expected error for redis broadcast without redis store, got nil")
	}
}

func TestWithHeartbeat(t *testing.T) {
	cfg, err := Load(WithHeartbeat(5*time.Second, 15*time.Second))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.PingInterval != 5*time.Second || cfg.PongWait != 15*time.Second {
		t.Errorf("unexpected heartbeat: %s / %s", cfg.PingInterval, cfg.PongWait)
	}

	if _, err := Load(WithHeartbeat(10*time.Second, 10*time.Second)); err == nil {
		t.Error("expected error when pong wait does not exceed ping interval, got nil")
	}
}

func TestWithCleanup(t *testing.T) {
	cfg, err := Load(WithCleanup(30*time.Second, time.Minute))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.CleanupMode != "sweep" || cfg.CleanupInterval != 30*time.Second || cfg.CleanupGrace != time.Minute {
		t.Errorf("unexpected cleanup config: %s %s %s", cfg.CleanupMode, cfg.CleanupInterval, cfg.CleanupGrace)
	}

	cfg, err = Load(WithCleanup(0, 0))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.CleanupMode != "off" {
		t.Errorf("expected cleanup off, got: %s", cfg.CleanupMode)
	}

	cfg, err = Load(WithCleanupMode("external"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.CleanupMode != "external" {
		t.Errorf("expected cleanup external, got: %s", cfg.CleanupMode)
	}

	if _, err := Load(WithCleanupMode("daily")); err == nil {
		t.Error("expected error for unknown cleanup mode, got nil")
	}
	if _, err := Load(WithCleanup(time.Minute, -time.Second)); err == nil {
		t.Error("expected error for negative grace, got nil")
	}
}

func TestMultipleOptions(t *testing.T) {
	cfg, err := Load(
		WithPort("3000"),
		WithEnvironment("testing"),
		WithBaseURL("https://hub.example.com"),
		WithSigningSecret("s3cret"),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("expected port 3000, got: %s", cfg.Port)
	}
	if cfg.Environment != "testing" {
		t.Errorf("expected environment testing, got: %s", cfg.Environment)
	}
	if cfg.BaseURL != "https://hub.example.com" {
		t.Errorf("expected base url https://hub.example.com, got: %s", cfg.BaseURL)
	}
	if cfg.SigningSecret != "s3cret" {
		t.Errorf("expected signing secret to be set")
	}
}

func TestEnvThenOptions(t *testing.T) {
	t.Setenv("PORT", "7000")

	cfg, err := Load(WithEnv(), WithPort("7001"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "7001" {
		t.Errorf("expected options after WithEnv to win, got: %s", cfg.Port)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg, err := Load(WithEnvironment("production"), WithLogLevel("warn"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "hub_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info to be filtered at warn level, got: %s", out)
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"hub_id":"abc"`) {
		t.Errorf("expected JSON output in production, got: %s", out)
	}

	buf.Reset()
	cfg, err = Load(WithLogLevel("debug"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	cfg.NewLogger(&buf).Debug("visible", "hub_id", "abc")
	if !strings.Contains(buf.String(), "hub_id=abc") {
		t.Errorf("expected text output in development, got: %s", buf.String())
	}

	if _, err := Load(WithLogLevel("loud")); err == nil {
		t.Error("expected error for unknown log level, got nil")
	}
}

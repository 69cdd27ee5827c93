package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvDefaults(t *testing.T) {
	cfg, err := Load(WithEnv())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got: %s", cfg.Port)
	}
	if !cfg.UsesMemoryStore() {
		t.Errorf("expected memory store, got: %s", cfg.RedisURL)
	}
	if cfg.DefaultTTL != 24*time.Hour || cfg.MaxTTL != 168*time.Hour {
		t.Errorf("unexpected ttl defaults: %s / %s", cfg.DefaultTTL, cfg.MaxTTL)
	}
	if cfg.MaxTextBytes != 100000 {
		t.Errorf("expected max text bytes 100000, got: %d", cfg.MaxTextBytes)
	}
	if cfg.CleanupGrace != 5*time.Minute {
		t.Errorf("expected cleanup grace 5m, got: %s", cfg.CleanupGrace)
	}
	if cfg.S3.Region != "us-east-1" {
		t.Errorf("expected default region us-east-1, got: %s", cfg.S3.Region)
	}
}

func TestEnvRedisURL(t *testing.T) {
	tests := []struct {
		name       string
		redisURL   string
		wantMemory bool
		wantError  bool
	}{
		{"memory keyword", "memory", true, false},
		{"redis URL", "redis://localhost:6379/0", false, false},
		{"tls redis URL", "rediss://cache.internal:6380", false, false},
		{"invalid URL", "postgres://localhost/db", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("REDIS_URL", tt.redisURL)

			cfg, err := Load(WithEnv())
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if cfg.UsesMemoryStore() != tt.wantMemory {
				t.Errorf("expected memory store %v for %q", tt.wantMemory, tt.redisURL)
			}
		})
	}
}

func TestEnvStorageURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		want      StorageLocation
		wantError bool
	}{
		{"memory", "memory://", StorageLocation{Type: "memory"}, false},
		{"absolute path", "file:///var/lib/ephemeral", StorageLocation{Type: "fs", Path: "/var/lib/ephemeral"}, false},
		{"relative path", "file://./data", StorageLocation{Type: "fs", Path: "./data"}, false},
		{"s3 bucket", "s3://hub-blobs", StorageLocation{Type: "s3", Bucket: "hub-blobs"}, false},
		{"s3 without bucket", "s3://", StorageLocation{}, true},
		{"unknown scheme", "gs://bucket", StorageLocation{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORAGE_URL", tt.url)

			cfg, err := Load(WithEnv())
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
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
}

func TestEnvLimitsAndS3(t *testing.T) {
	t.Setenv("DEFAULT_TTL", "1h")
	t.Setenv("MAX_TTL", "2h")
	t.Setenv("MAX_FILE_BYTES", "1048576")
	t.Setenv("STORAGE_URL", "s3://hub-blobs")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("S3_KEY_ROOT", "staging")

	cfg, err := Load(WithEnv())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	limits := cfg.Limits()
	if limits.DefaultTTL != time.Hour || limits.MaxTTL != 2*time.Hour {
		t.Errorf("unexpected ttl: %s / %s", limits.DefaultTTL, limits.MaxTTL)
	}
	if limits.MaxFileBytes != 1<<20 {
		t.Errorf("expected max file bytes 1048576, got: %d", limits.MaxFileBytes)
	}
	if limits.MaxCreateAttempts != 5 {
		t.Errorf("expected create attempts to keep their default, got: %d", limits.MaxCreateAttempts)
	}
	if cfg.S3.Endpoint != "http://localhost:9000" || !cfg.S3.UsePathStyle || cfg.S3.KeyRoot != "staging" {
		t.Errorf("unexpected S3 config: %+v", cfg.S3)
	}
}

func TestEnvInvalidCombinations(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"default ttl above max", map[string]string{"DEFAULT_TTL": "48h", "MAX_TTL": "24h"}},
		{"redis broadcast without redis", map[string]string{"BROADCAST_MODE": "redis"}},
		{"unknown cleanup mode", map[string]string{"CLEANUP_MODE": "never"}},
		{"pong shorter than ping", map[string]string{"WS_PING_INTERVAL": "30s", "WS_PONG_WAIT": "10s"}},
		{"unknown log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"malformed duration", map[string]string{"DEFAULT_TTL": "a day"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(WithEnv()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestUsage(t *testing.T) {
	usage := Usage()
	for _, name := range []string{"REDIS_URL", "STORAGE_URL", "S3_ENDPOINT", "CLEANUP_GRACE"} {
		if !strings.Contains(usage, name) {
			t.Errorf("expected usage to mention %s", name)
		}
	}
}
